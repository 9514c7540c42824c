package splice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/splice/store"
	splicetest "github.com/zoobzio/splice/testing"
)

type reloadMetrics struct {
	NoOpMetricsProvider
	ok, failed int
}

func (m *reloadMetrics) OnSourceReload(success bool) {
	if success {
		m.ok++
		return
	}
	m.failed++
}

func TestMirror_YAML(t *testing.T) {
	ctx := context.Background()
	s := splicetest.NewStore(t, nil)
	ch := make(chan []byte, 1)
	m := NewMirror(NewSyncChannelSource(ch), s.Ref("flags"), WithSyncMode())

	ch <- []byte("checkout: true\nbanner: Autumn sale\nlimits:\n  cart: 20\n")
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	splicetest.RequireValue(t, s.Ref("flags"), map[string]any{
		"checkout": true,
		"banner":   "Autumn sale",
		"limits":   map[string]any{"cart": float64(20)},
	})
	if m.Applied() != 1 {
		t.Errorf("expected 1 applied document, got %d", m.Applied())
	}
}

func TestMirror_JSON(t *testing.T) {
	ctx := context.Background()
	s := splicetest.NewStore(t, nil)
	ch := make(chan []byte, 1)
	m := NewMirror(NewSyncChannelSource(ch), s.Ref("flags"), WithSyncMode(), WithCodec(JSONCodec{}))

	ch <- []byte(`{"checkout": false}`)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	splicetest.RequireValue(t, s.Ref("flags/checkout"), false)
}

func TestMirror_EmptyDocumentRemoves(t *testing.T) {
	ctx := context.Background()
	s := splicetest.NewStore(t, nil)
	ch := make(chan []byte, 2)
	m := NewMirror(NewSyncChannelSource(ch), s.Ref("flags"), WithSyncMode(), WithCodec(JSONCodec{}))

	ch <- []byte(`{"a": 2}`)
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	splicetest.RequireValue(t, s.Ref("flags"), map[string]any{"a": float64(2)})

	ch <- []byte(" \n")
	if !m.Process(ctx) {
		t.Fatal("expected a document to process")
	}
	if m.LastError() != nil {
		t.Errorf("expected no error, got %v", m.LastError())
	}
	if snap := mustGet(t, s.Ref("flags")); snap.Exists() {
		t.Errorf("expected the location removed, got %v", snap.Val())
	}
	if m.Applied() != 2 {
		t.Errorf("expected 2 applied documents, got %d", m.Applied())
	}
}

func TestMirror_RejectsInvalidDocument(t *testing.T) {
	ctx := context.Background()
	s := splicetest.NewStore(t, nil)
	ch := make(chan []byte, 2)
	metrics := &reloadMetrics{}
	m := NewMirror(NewSyncChannelSource(ch), s.Ref("flags"), WithSyncMode(), WithMetrics(metrics))

	ch <- []byte("checkout: true")
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	ch <- []byte("checkout: [unclosed")
	if !m.Process(ctx) {
		t.Fatal("expected a document to process")
	}
	if m.LastError() == nil {
		t.Error("expected the decode error kept")
	}
	splicetest.RequireValue(t, s.Ref("flags"), map[string]any{"checkout": true})

	ch <- []byte("checkout: false")
	m.Process(ctx)
	if m.LastError() != nil {
		t.Errorf("expected the error cleared, got %v", m.LastError())
	}
	splicetest.RequireValue(t, s.Ref("flags/checkout"), false)

	if metrics.ok != 2 || metrics.failed != 1 {
		t.Errorf("expected 2 reloads and 1 failure, got %d and %d", metrics.ok, metrics.failed)
	}
}

func TestMirror_FeedsJoinedRecord(t *testing.T) {
	ctx := context.Background()
	s := usersStore(t)
	ch := make(chan []byte, 2)
	m := NewMirror(NewSyncChannelSource(ch), s.Ref("users/account"), WithSyncMode())

	ch <- []byte("kato:\n  email: kato@example.com\n")
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	r := mustJoin(t)(NewJoiner(WithSyncMode()).Join(s.Ref("users/account"), s.Ref("users/profile")))
	rec := splicetest.Record(t, r.Child("kato"), store.EventValue)
	defer rec.Off()

	ch <- []byte("kato:\n  email: k@example.com\n")
	m.Process(ctx)

	last, ok := rec.Last(store.EventValue)
	if !ok {
		t.Fatal("expected a value event")
	}
	requireEqual(t, last.Value, map[string]any{"email": "k@example.com", "name": "Kato", "nick": "K"})
}

func TestMirror_CannotStartTwice(t *testing.T) {
	ctx := context.Background()
	ch := make(chan []byte, 1)
	ch <- []byte("a: 1")
	m := NewMirror(NewSyncChannelSource(ch), splicetest.NewStore(t, nil).Ref("x"), WithSyncMode())

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("expected an error on second Start")
	}
}

func TestMirror_SourceClosedBeforeStart(t *testing.T) {
	ch := make(chan []byte)
	close(ch)
	m := NewMirror(NewSyncChannelSource(ch), splicetest.NewStore(t, nil).Ref("x"), WithSyncMode())
	if err := m.Start(context.Background()); err == nil {
		t.Error("expected an error for a closed source")
	}
}

type failingSource struct{ err error }

func (f failingSource) Watch(context.Context) (<-chan []byte, error) {
	return nil, f.err
}

func TestMirror_WatchError(t *testing.T) {
	boom := errors.New("boom")
	m := NewMirror(failingSource{boom}, splicetest.NewStore(t, nil).Ref("x"))
	if err := m.Start(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestMirror_ProcessRequiresSyncMode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan []byte, 1)
	ch <- []byte("a: 1")
	m := NewMirror(NewChannelSource(ch), splicetest.NewStore(t, nil).Ref("x"))
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Process(ctx) {
		t.Error("expected Process to be unavailable outside sync mode")
	}
}

func TestMirror_DebounceCoalesces(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := splicetest.NewStore(t, nil)
	ch := make(chan []byte, 10)
	ch <- []byte("v: 1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMirror(NewSyncChannelSource(ch), s.Ref("doc"), WithClock(clock), WithDebounce(100*time.Millisecond))
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	ch <- []byte("v: 2")
	ch <- []byte("v: 3")
	ch <- []byte("v: 4")
	splicetest.WaitFor(t, time.Second, func() bool { return len(ch) == 0 })
	time.Sleep(10 * time.Millisecond)

	if m.Applied() != 1 {
		t.Errorf("expected the burst held back, got %d applies", m.Applied())
	}

	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()
	if !splicetest.WaitFor(t, time.Second, func() bool { return m.Applied() == 2 }) {
		t.Fatalf("expected 2 applies after debounce, got %d", m.Applied())
	}
	splicetest.RequireValue(t, s.Ref("doc/v"), float64(4))
}

func TestMirror_AppliesPendingOnClose(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := splicetest.NewStore(t, nil)
	ch := make(chan []byte, 2)
	ch <- []byte("v: 1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMirror(NewSyncChannelSource(ch), s.Ref("doc"), WithClock(clock))
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	ch <- []byte("v: 99")
	close(ch)
	if !splicetest.WaitFor(t, time.Second, func() bool { return m.Applied() == 2 }) {
		t.Fatalf("expected the pending document applied on close, got %d", m.Applied())
	}
	splicetest.RequireValue(t, s.Ref("doc/v"), float64(99))
}

func TestChannelSource_Forwards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan []byte, 1)
	out, err := NewChannelSource(ch).Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ch <- []byte("x")
	if got := string(<-out); got != "x" {
		t.Errorf("expected x, got %q", got)
	}
	cancel()
	if _, ok := <-out; ok {
		t.Error("expected the output closed after cancel")
	}
}
