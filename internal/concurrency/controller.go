// Package concurrency guarantees at most one active run per concurrency key.
// A newer run on the same key supersedes the older one.
package concurrency

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/tierci/pkg/models"
)

var (
	// ErrSuperseded is the cancellation cause of a run replaced by a newer one.
	ErrSuperseded = errors.New("run superseded by a newer run")
	// ErrCanceled is the cancellation cause of a manually canceled run.
	ErrCanceled = errors.New("run canceled")
	// ErrNotActive is returned when canceling a run that holds no lease.
	ErrNotActive = errors.New("run is not active")
	// ErrFinished is returned when canceling a run whose verdict is fixed.
	ErrFinished = errors.New("run already finished")
)

// Lease is one run's claim on a concurrency key.
type Lease struct {
	Key      string
	RunID    string
	Acquired time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	ctrl   *Controller

	mu         sync.Mutex
	superseded bool
	finished   bool

	prev        <-chan struct{}
	done        chan struct{}
	releaseOnce sync.Once
}

// Context is canceled when the run is superseded or canceled.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Cause returns why the lease context ended, or nil while it is live.
func (l *Lease) Cause() error {
	return context.Cause(l.ctx)
}

// BeginTier reports whether the run may start another tier. Once the run
// has been superseded it always returns false.
func (l *Lease) BeginTier() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.superseded && !l.finished
}

// Finish fixes the run's verdict. If supersession won the race against
// completion the verdict becomes superseded.
func (l *Lease) Finish(verdict models.Verdict) models.Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = true
	if l.superseded {
		return models.VerdictSuperseded
	}
	return verdict
}

// Superseded reports whether the run was superseded or canceled.
func (l *Lease) Superseded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.superseded
}

// Release gives up the key. It is safe to call more than once.
func (l *Lease) Release() {
	l.releaseOnce.Do(func() {
		l.ctrl.remove(l)
		l.cancel(context.Canceled)
		close(l.done)
	})
}

// Done is closed once the lease is released.
func (l *Lease) Done() <-chan struct{} {
	return l.done
}

// supersede marks the run superseded and cancels its context. It reports
// false when the verdict was already fixed.
func (l *Lease) supersede(cause error) bool {
	l.mu.Lock()
	finished := l.finished
	if !finished {
		l.superseded = true
	}
	l.mu.Unlock()
	l.cancel(cause)
	return !finished
}

// ActiveRun describes a lease currently held.
type ActiveRun struct {
	Key      string    `json:"key"`
	RunID    string    `json:"run_id"`
	Acquired time.Time `json:"acquired"`
}

// Controller tracks leases by key and by run ID.
type Controller struct {
	mu    sync.Mutex
	byKey map[string]*Lease
	byRun map[string]*Lease
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{
		byKey: make(map[string]*Lease),
		byRun: make(map[string]*Lease),
	}
}

// Register claims key for runID immediately, superseding any run holding
// it. The new run must call WaitTurn before starting work. Registration
// order is the order in which runs take the key.
func (c *Controller) Register(ctx context.Context, key, runID string) *Lease {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:      key,
		RunID:    runID,
		Acquired: time.Now().UTC(),
		ctx:      leaseCtx,
		cancel:   cancel,
		ctrl:     c,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	prev := c.byKey[key]
	c.byKey[key] = l
	c.byRun[runID] = l
	c.mu.Unlock()

	if prev != nil {
		l.prev = prev.done
		prev.supersede(ErrSuperseded)
	}
	return l
}

// WaitTurn blocks until the run this lease superseded has released the
// key. If ctx ends first the lease is released in the background once
// the older run is gone, so nothing queued behind it can overtake that run.
func (l *Lease) WaitTurn(ctx context.Context) error {
	if l.prev == nil {
		return nil
	}
	select {
	case <-l.prev:
		return nil
	case <-ctx.Done():
		go func() {
			<-l.prev
			l.Release()
		}()
		return ctx.Err()
	}
}

// Acquire registers runID on key and waits for its turn. The lease
// context derives from ctx.
func (c *Controller) Acquire(ctx context.Context, key, runID string) (*Lease, error) {
	l := c.Register(ctx, key, runID)
	if err := l.WaitTurn(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Cancel supersedes the run with the given ID. A run whose verdict is
// already fixed, for example one still publishing, can no longer be
// canceled and yields ErrFinished.
func (c *Controller) Cancel(runID string) error {
	c.mu.Lock()
	l, ok := c.byRun[runID]
	c.mu.Unlock()
	if !ok {
		return ErrNotActive
	}
	if !l.supersede(ErrCanceled) {
		return ErrFinished
	}
	return nil
}

// Active lists held leases ordered by acquisition time.
func (c *Controller) Active() []ActiveRun {
	c.mu.Lock()
	out := make([]ActiveRun, 0, len(c.byRun))
	for _, l := range c.byRun {
		out = append(out, ActiveRun{Key: l.Key, RunID: l.RunID, Acquired: l.Acquired})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Acquired.Before(out[j].Acquired) })
	return out
}

func (c *Controller) remove(l *Lease) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byKey[l.Key] == l {
		delete(c.byKey, l.Key)
	}
	if c.byRun[l.RunID] == l {
		delete(c.byRun, l.RunID)
	}
}
