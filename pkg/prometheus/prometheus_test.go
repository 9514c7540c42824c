package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/zoobzio/splice"
	"github.com/zoobzio/splice/store"
	splicetest "github.com/zoobzio/splice/testing"
)

func TestMetrics_Callbacks(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OnStateChange(splice.StateConstructing, splice.StateReady)
	m.OnEmit(store.EventChildAdded)
	m.OnEmit(store.EventChildAdded)
	m.OnAbort()
	m.OnSourceReload(true)
	m.OnSourceReload(false)
	m.OnBuildSuccess("record", 2*time.Millisecond)

	if v := testutil.ToFloat64(m.Transitions.WithLabelValues("constructing", "ready")); v != 1 {
		t.Errorf("transitions[constructing,ready] = %f, want 1", v)
	}
	if v := testutil.ToFloat64(m.Emits.WithLabelValues("child_added")); v != 2 {
		t.Errorf("events[child_added] = %f, want 2", v)
	}
	if v := testutil.ToFloat64(m.Aborts); v != 1 {
		t.Errorf("aborts = %f, want 1", v)
	}
	if v := testutil.ToFloat64(m.Reloads.WithLabelValues("error")); v != 1 {
		t.Errorf("reloads[error] = %f, want 1", v)
	}
	if n := testutil.CollectAndCount(m.BuildDuration); n != 1 {
		t.Errorf("expected one build series, got %d", n)
	}
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected a panic registering twice on one registry")
		}
	}()
	New(reg)
}

func TestMetrics_WiredIntoRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())
	s := splicetest.NewStore(t, map[string]any{
		"fruit":  map[string]any{"a": "apple"},
		"legume": map[string]any{"a": "adzuki"},
	})

	r, err := splice.NewJoiner(splice.WithSyncMode(), splice.WithMetrics(m)).
		Join(splice.PathSpec{Ref: s.Ref("fruit")}, splice.PathSpec{Ref: s.Ref("legume")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(context.Background()); err != nil {
		t.Fatal(err)
	}

	if v := testutil.ToFloat64(m.Transitions.WithLabelValues("constructing", "ready")); v != 1 {
		t.Errorf("expected the record to report ready, got %f", v)
	}
	if n := testutil.CollectAndCount(m.BuildDuration); n == 0 {
		t.Error("expected build latency observed")
	}
}
