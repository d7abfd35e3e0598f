// Package runner abstracts the execution capacity jobs run on.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// ErrNoCapacity is returned when a runner class cannot be resolved.
var ErrNoCapacity = errors.New("no runner capacity")

// Result is the outcome reported by an executor.
type Result string

const (
	ResultSuccess    Result = "success"
	ResultFailure    Result = "failure"
	ResultInfraError Result = "infra_error"
	ResultTimeout    Result = "timeout"
)

// JobSpec is everything an executor needs to run one job attempt.
type JobSpec struct {
	RunID   string
	JobID   string
	Name    string
	Tier    int
	Runner  models.RunnerClass
	Command string
	Image   string
	Env     map[string]string
	Attempt int
}

// Outcome is what an executor reports for one attempt.
type Outcome struct {
	Result Result
	Detail string
	LogURL string
}

// Executor runs a job. Execute must return promptly once ctx is done;
// the result it returns after cancellation is discarded.
type Executor interface {
	Execute(ctx context.Context, spec JobSpec) Outcome
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, spec JobSpec) Outcome

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, spec JobSpec) Outcome {
	return f(ctx, spec)
}

// Pool maps runner classes to executors. It is shared by all runs.
type Pool interface {
	Resolve(class models.RunnerClass) (Executor, error)
}

// Capacity describes a registered runner class.
type Capacity struct {
	Class    models.RunnerClass
	Executor string
	// Cost is a relative price per job, used for reporting.
	Cost int
}

type registration struct {
	exec Executor
	cap  Capacity
}

// StaticPool is a Pool with a fixed class to executor mapping.
type StaticPool struct {
	mu      sync.RWMutex
	classes map[models.RunnerClass]registration
}

var _ Pool = (*StaticPool)(nil)

// NewStaticPool creates an empty pool.
func NewStaticPool() *StaticPool {
	return &StaticPool{classes: make(map[models.RunnerClass]registration)}
}

// Register binds a class to an executor. Registering a class twice replaces it.
func (p *StaticPool) Register(c Capacity, exec Executor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.classes[c.Class] = registration{exec: exec, cap: c}
}

// Remove drops a class, so later jobs on it resolve to ErrNoCapacity.
func (p *StaticPool) Remove(class models.RunnerClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.classes, class)
}

// Resolve implements Pool.
func (p *StaticPool) Resolve(class models.RunnerClass) (Executor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.classes[class]
	if !ok || r.exec == nil {
		return nil, fmt.Errorf("%w for runner class %q", ErrNoCapacity, class)
	}
	return r.exec, nil
}

// Capacities lists the registered classes sorted by cost.
func (p *StaticPool) Capacities() []Capacity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Capacity, 0, len(p.classes))
	for _, r := range p.classes {
		out = append(out, r.cap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		return out[i].Class < out[j].Class
	})
	return out
}
