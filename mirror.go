package splice

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/splice/store"
)

// Source emits raw documents whenever an external location changes. The
// first value is the current contents.
type Source interface {
	Watch(ctx context.Context) (<-chan []byte, error)
}

// ChannelSource wraps an existing byte channel as a Source.
type ChannelSource struct {
	ch   <-chan []byte
	sync bool
}

// NewChannelSource returns a Source forwarding values from ch through its
// own goroutine until ctx is done or ch is closed.
func NewChannelSource(ch <-chan []byte) *ChannelSource {
	return &ChannelSource{ch: ch}
}

// NewSyncChannelSource returns a Source handing out ch directly. Pair it
// with WithSyncMode.
func NewSyncChannelSource(ch <-chan []byte) *ChannelSource {
	return &ChannelSource{ch: ch, sync: true}
}

// Watch returns a channel of the wrapped values.
func (s *ChannelSource) Watch(ctx context.Context) (<-chan []byte, error) {
	if s.sync {
		return s.ch, nil
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-s.ch:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Mirror keeps a store location equal to the decoded contents of a Source.
// Joined records over that location see every reload as ordinary store
// events.
type Mirror struct {
	src   Source
	dst   store.Ref
	cfg   *config
	codec Codec

	lastError atomic.Pointer[error]
	applied   atomic.Int64

	mu      sync.Mutex
	started bool
	changes <-chan []byte
}

// NewMirror creates a Mirror writing documents from src to dst. It accepts
// WithDebounce, WithCodec, WithClock, WithSyncMode and WithMetrics.
func NewMirror(src Source, dst store.Ref, opts ...Option) *Mirror {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Mirror{src: src, dst: dst, cfg: cfg, codec: cfg.codec}
}

// Start begins watching. It blocks until the first document is applied or
// rejected, then keeps watching in the background.
//
// In sync mode Start only applies the first document; call Process for
// each later one.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("mirror of %s already started", m.dst)
	}
	m.started = true
	m.mu.Unlock()

	changes, err := m.src.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch source: %w", err)
	}

	var initialErr error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case raw, ok := <-changes:
		if !ok {
			return fmt.Errorf("source closed before emitting initial value")
		}
		initialErr = m.apply(ctx, raw)
	}

	if m.cfg.syncMode {
		m.changes = changes
		return initialErr
	}
	go m.watch(ctx, changes)
	return initialErr
}

// Process applies the next pending document. Only available in sync mode;
// reports false when nothing is pending or the source closed.
func (m *Mirror) Process(ctx context.Context) bool {
	if !m.cfg.syncMode {
		return false
	}
	select {
	case raw, ok := <-m.changes:
		if !ok {
			return false
		}
		_ = m.apply(ctx, raw) //nolint:errcheck // kept in LastError
		return true
	default:
		return false
	}
}

// LastError returns the error of the latest document, or nil once a later
// document applied.
func (m *Mirror) LastError() error {
	ptr := m.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// Applied returns how many documents were written to the store.
func (m *Mirror) Applied() int64 {
	return m.applied.Load()
}

// apply writes one document. An empty document removes the location
// whatever the codec.
func (m *Mirror) apply(ctx context.Context, raw []byte) error {
	var err error
	if len(bytes.TrimSpace(raw)) == 0 {
		if err = m.dst.Remove(ctx); err != nil {
			err = fmt.Errorf("remove failed: %w", err)
		}
	} else {
		var doc any
		if err = m.codec.Unmarshal(raw, &doc); err != nil {
			err = fmt.Errorf("decode failed: %w", err)
		} else if err = m.dst.Set(ctx, doc); err != nil {
			err = fmt.Errorf("write failed: %w", err)
		}
	}

	m.cfg.metrics.OnSourceReload(err == nil)
	if err != nil {
		m.lastError.Store(&err)
		capitan.Emit(ctx, SourceReloadFailed,
			KeyLocation.Field(m.dst.String()),
			KeyError.Field(err.Error()),
		)
		return err
	}
	m.lastError.Store(nil)
	m.applied.Add(1)
	capitan.Emit(ctx, SourceReloaded,
		KeyLocation.Field(m.dst.String()),
	)
	return nil
}

// watch applies documents after the source has been quiet for the debounce
// duration. Only the latest document of a burst is written.
func (m *Mirror) watch(ctx context.Context, changes <-chan []byte) {
	var (
		timer   clockz.Timer
		pending []byte
		waiting bool
	)
	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case raw, ok := <-changes:
			if !ok {
				if waiting {
					_ = m.apply(ctx, pending) //nolint:errcheck // kept in LastError
				}
				return
			}
			pending, waiting = raw, true
			if timer == nil {
				timer = m.cfg.clock.NewTimer(m.cfg.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C():
				default:
				}
			}
			timer.Reset(m.cfg.debounce)

		case <-timerC:
			if waiting {
				_ = m.apply(ctx, pending) //nolint:errcheck // kept in LastError
				pending, waiting = nil, false
			}
			timer = nil
		}
	}
}
