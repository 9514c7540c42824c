package splice

import (
	"time"

	"github.com/zoobzio/clockz"
)

// DefaultSampleSize is the number of sibling records read to infer a key
// map when none is declared.
const DefaultSampleSize = 25

// DefaultDebounce is the default debounce duration of mirrored sources.
const DefaultDebounce = 100 * time.Millisecond

// config holds the settings shared by a root record and every record
// derived from it, or by a Mirror.
type config struct {
	clock          clockz.Clock
	syncMode       bool
	metrics        MetricsProvider
	sampleSize     int
	resolveTimeout time.Duration
	errorHistory   int
	debounce       time.Duration
	codec          Codec
}

func defaultConfig() *config {
	return &config{
		clock:      clockz.RealClock,
		metrics:    NoOpMetricsProvider{},
		sampleSize: DefaultSampleSize,
		debounce:   DefaultDebounce,
		codec:      AutoCodec{},
	}
}

// Option configures a Joiner or a Mirror.
type Option func(*config)

// WithClock sets a custom clock for resolve timeouts and build timing.
// Use this with clockz.FakeClock for deterministic tests.
func WithClock(clock clockz.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithSyncMode runs construction and every rebuild on the calling goroutine.
// Combined with a store that delivers events synchronously, all observer
// callbacks have run by the time a write returns, making tests deterministic.
func WithSyncMode() Option {
	return func(c *config) {
		c.syncMode = true
	}
}

// WithMetrics sets a metrics provider notified of state changes, builds,
// emitted events and aborts.
func WithMetrics(provider MetricsProvider) Option {
	return func(c *config) {
		if provider != nil {
			c.metrics = provider
		}
	}
}

// WithSampleSize sets how many records are sampled to infer a key map.
func WithSampleSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.sampleSize = n
		}
	}
}

// WithResolveTimeout bounds each key map sampling read.
// Default: no timeout.
func WithResolveTimeout(d time.Duration) Option {
	return func(c *config) {
		c.resolveTimeout = d
	}
}

// WithErrorHistory retains the n most recent errors of every record.
// Use 0 (default) to only retain the most recent error via LastError().
func WithErrorHistory(n int) Option {
	return func(c *config) {
		c.errorHistory = n
	}
}

// WithDebounce sets how long a Mirror waits for a source to settle before
// applying its latest document. Changes arriving within this duration are
// coalesced into a single write.
func WithDebounce(d time.Duration) Option {
	return func(c *config) {
		c.debounce = d
	}
}

// WithCodec fixes the format of mirrored documents. Without this option the
// format is detected from content.
func WithCodec(codec Codec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// Joiner creates joined records sharing one set of options.
type Joiner struct {
	cfg *config
}

// NewJoiner creates a Joiner.
//
// Example:
//
//	j := splice.NewJoiner(splice.WithResolveTimeout(5 * time.Second))
//	users, err := j.Join(db.Ref("users/account"), db.Ref("users/profile"))
func NewJoiner(opts ...Option) *Joiner {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Joiner{cfg: cfg}
}

// Join merges specs into one live record. Each spec is a store.Ref, a
// store.Query, a *Record, or a PathSpec / *PathSpec carrying one of those.
// Paths are unions unless their PathSpec says otherwise.
//
// Structurally invalid specs fail immediately. Key map resolution runs in
// the background; see Record.Ready.
func (j *Joiner) Join(specs ...any) (*Record, error) {
	return j.join(specs, false)
}

// Intersect is Join with every path marked as intersecting: a key missing
// from any path is excluded from the merged record.
func (j *Joiner) Intersect(specs ...any) (*Record, error) {
	return j.join(specs, true)
}

func (j *Joiner) join(specs []any, intersectAll bool) (*Record, error) {
	paths, err := parseSpecs(specs, intersectAll)
	if err != nil {
		return nil, err
	}
	return newRootRecord(j.cfg, paths), nil
}

var defaultJoiner = NewJoiner()

// Join merges specs using default options. See Joiner.Join.
func Join(specs ...any) (*Record, error) {
	return defaultJoiner.Join(specs...)
}

// Intersect intersects specs using default options. See Joiner.Intersect.
func Intersect(specs ...any) (*Record, error) {
	return defaultJoiner.Intersect(specs...)
}
