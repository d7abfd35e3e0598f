package coordinator

import (
	"io"

	"github.com/ShayCichocki/tierci/internal/concurrency"
	"github.com/ShayCichocki/tierci/internal/publish"
	"github.com/ShayCichocki/tierci/internal/state"
	"github.com/ShayCichocki/tierci/internal/trigger"
)

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*options)

type options struct {
	store      state.RunStore
	upstream   trigger.UpstreamResolver
	publisher  *publish.Publisher
	emitter    *EventEmitter
	controller *concurrency.Controller
	summary    io.Writer
	history    int
}

// WithStore persists every run transition.
func WithStore(s state.RunStore) Option {
	return func(o *options) { o.store = s }
}

// WithUpstream enables validation of chained triggers.
func WithUpstream(r trigger.UpstreamResolver) Option {
	return func(o *options) { o.upstream = r }
}

// WithPublisher sets the artifact publisher. Without one, qualifying runs
// record no publication.
func WithPublisher(p *publish.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithEmitter sets where live events are sent.
func WithEmitter(e *EventEmitter) Option {
	return func(o *options) { o.emitter = e }
}

// WithController shares a concurrency controller between coordinators.
func WithController(c *concurrency.Controller) Option {
	return func(o *options) { o.controller = c }
}

// WithSummaryWriter renders every final summary to w.
func WithSummaryWriter(w io.Writer) Option {
	return func(o *options) { o.summary = w }
}

// WithHistory sets how many finished runs stay queryable in memory.
func WithHistory(n int) Option {
	return func(o *options) { o.history = n }
}
