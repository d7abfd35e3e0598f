package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrDraftNotFound is returned when promoting a draft that does not exist.
	ErrDraftNotFound = errors.New("draft release not found")
	// ErrReleaseExists is returned when promoting over an existing release.
	ErrReleaseExists = errors.New("release already exists")
)

// ReleaseChannel stores releases in a directory tree:
//
//	<root>/<channel>/drafts/<release>/...
//	<root>/<channel>/releases/<release>/...
//	<root>/<channel>/LATEST
type ReleaseChannel struct {
	Root string
}

var _ Storage = (*ReleaseChannel)(nil)

// NewReleaseChannel creates a channel store rooted at root.
func NewReleaseChannel(root string) *ReleaseChannel {
	return &ReleaseChannel{Root: root}
}

// Put implements Storage. The target destination names the channel.
func (r *ReleaseChannel) Put(ctx context.Context, up Upload) (string, error) {
	channel, err := cleanName(up.Target.Destination)
	if err != nil {
		return "", err
	}
	release, err := cleanName(up.Release)
	if err != nil {
		return "", err
	}
	area := "releases"
	if up.Draft {
		area = "drafts"
	}
	dir := filepath.Join(r.Root, channel, area, release)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create release dir: %w", err)
	}

	dst := filepath.Join(dir, filepath.Base(up.Artifact.Path))
	if err := copyFile(ctx, up.Artifact.Path, dst); err != nil {
		return "", fmt.Errorf("copy artifact %s: %w", up.Artifact.Name, err)
	}
	if !up.Draft {
		if err := r.setLatest(channel, release); err != nil {
			return "", err
		}
	}
	return dst, nil
}

// Promote publishes a staged draft release.
func (r *ReleaseChannel) Promote(channel, release string) (string, error) {
	channel, err := cleanName(channel)
	if err != nil {
		return "", err
	}
	release, err = cleanName(release)
	if err != nil {
		return "", err
	}

	src := filepath.Join(r.Root, channel, "drafts", release)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s/%s", ErrDraftNotFound, channel, release)
	}
	dst := filepath.Join(r.Root, channel, "releases", release)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("%w: %s/%s", ErrReleaseExists, channel, release)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("create releases dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("promote %s/%s: %w", channel, release, err)
	}
	if err := r.setLatest(channel, release); err != nil {
		return "", err
	}
	return dst, nil
}

// Drafts lists staged releases of a channel.
func (r *ReleaseChannel) Drafts(channel string) ([]string, error) {
	return r.list(channel, "drafts")
}

// Releases lists published releases of a channel.
func (r *ReleaseChannel) Releases(channel string) ([]string, error) {
	return r.list(channel, "releases")
}

// Latest returns the most recently published release of a channel.
func (r *ReleaseChannel) Latest(channel string) (string, error) {
	channel, err := cleanName(channel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(r.Root, channel, "LATEST"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (r *ReleaseChannel) list(channel, area string) ([]string, error) {
	channel, err := cleanName(channel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(r.Root, channel, area))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *ReleaseChannel) setLatest(channel, release string) error {
	path := filepath.Join(r.Root, channel, "LATEST")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(release+"\n"), 0644); err != nil {
		return fmt.Errorf("write LATEST: %w", err)
	}
	return os.Rename(tmp, path)
}

// cleanName rejects names that would escape the channel root.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid release channel name %q", name)
	}
	return name, nil
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
