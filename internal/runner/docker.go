package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// containerWorkDir is where the checkout is mounted inside job containers.
const containerWorkDir = "/workspace"

// cleanupTimeout bounds stop and remove calls made after a job ends.
const cleanupTimeout = 30 * time.Second

// DockerAPI is the subset of the docker client the executor uses.
type DockerAPI interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

var _ DockerAPI = (*client.Client)(nil)

// DockerExecutor runs each job attempt in a fresh container.
type DockerExecutor struct {
	api DockerAPI
	// Image is used for jobs that do not name one.
	Image string
	// WorkDir is bind-mounted at /workspace when set.
	WorkDir string
	LogDir  string
	// AlwaysPull pulls images even when present locally.
	AlwaysPull bool
	// StopGrace is the stop timeout given to canceled containers.
	StopGrace time.Duration
}

var _ Executor = (*DockerExecutor)(nil)

// NewDockerExecutor connects to the daemon named by the DOCKER_* environment.
func NewDockerExecutor(image, workDir, logDir string) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return NewDockerExecutorWithAPI(cli, image, workDir, logDir), nil
}

// NewDockerExecutorWithAPI creates an executor on an existing client.
func NewDockerExecutorWithAPI(api DockerAPI, image, workDir, logDir string) *DockerExecutor {
	return &DockerExecutor{
		api:       api,
		Image:     image,
		WorkDir:   workDir,
		LogDir:    logDir,
		StopGrace: 10 * time.Second,
	}
}

// Execute implements Executor. Daemon failures are infra errors; a
// non-zero container exit code is a job failure.
func (e *DockerExecutor) Execute(ctx context.Context, spec JobSpec) Outcome {
	image := spec.Image
	if image == "" {
		image = e.Image
	}
	if image == "" {
		return Outcome{Result: ResultInfraError, Detail: "no container image configured"}
	}

	out, logURL, closeLog, err := openLog(e.LogDir, spec)
	if err != nil {
		return Outcome{Result: ResultInfraError, Detail: err.Error()}
	}
	defer closeLog()

	infra := func(format string, args ...any) Outcome {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{Result: ResultTimeout, Detail: "job exceeded its timeout", LogURL: logURL}
		}
		return Outcome{Result: ResultInfraError, Detail: fmt.Sprintf(format, args...), LogURL: logURL}
	}

	if err := e.ensureImage(ctx, image); err != nil {
		return infra("pull %s: %v", image, err)
	}

	cfg := &container.Config{
		Image:      image,
		Cmd:        []string{"sh", "-c", spec.Command},
		Env:        jobEnv(spec),
		WorkingDir: containerWorkDir,
		Labels: map[string]string{
			"tierci.run": spec.RunID,
			"tierci.job": spec.Name,
		},
	}
	hostCfg := &container.HostConfig{}
	if e.WorkDir != "" {
		hostCfg.Binds = []string{e.WorkDir + ":" + containerWorkDir}
	}

	created, err := e.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(spec))
	if err != nil {
		return infra("create container: %v", err)
	}
	defer e.remove(created.ID)

	if err := e.api.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return infra("start container: %v", err)
	}

	waitC, errC := e.api.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		e.stop(created.ID)
		e.copyLogs(created.ID, out)
		return infra("canceled")
	case err := <-errC:
		if ctx.Err() != nil {
			e.stop(created.ID)
			e.copyLogs(created.ID, out)
			return infra("canceled")
		}
		return infra("wait for container: %v", err)
	case res := <-waitC:
		e.copyLogs(created.ID, out)
		if res.Error != nil && res.Error.Message != "" {
			return infra("container error: %s", res.Error.Message)
		}
		if res.StatusCode != 0 {
			return Outcome{Result: ResultFailure, Detail: fmt.Sprintf("exit code %d", res.StatusCode), LogURL: logURL}
		}
		return Outcome{Result: ResultSuccess, LogURL: logURL}
	}
}

func (e *DockerExecutor) ensureImage(ctx context.Context, image string) error {
	if !e.AlwaysPull {
		_, _, err := e.api.ImageInspectWithRaw(ctx, image)
		if err == nil {
			return nil
		}
		if !client.IsErrNotFound(err) {
			return err
		}
	}
	rc, err := e.api.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (e *DockerExecutor) copyLogs(id string, out io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	rc, err := e.api.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		fmt.Fprintf(out, "tierci: could not read container logs: %v\n", err)
		return
	}
	defer rc.Close()
	if _, err := stdcopy.StdCopy(out, out, rc); err != nil {
		fmt.Fprintf(out, "tierci: could not read container logs: %v\n", err)
	}
}

func (e *DockerExecutor) stop(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	grace := int(e.StopGrace / time.Second)
	_ = e.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace})
}

func (e *DockerExecutor) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	_ = e.api.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
}

func containerName(spec JobSpec) string {
	id := spec.JobID
	if len(id) > 8 {
		id = id[:8]
	}
	name := strings.ToLower(sanitize(spec.Name))
	return fmt.Sprintf("tierci-%s-%s-%d", name, id, spec.Attempt)
}
