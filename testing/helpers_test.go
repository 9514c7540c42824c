package testing

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/splice/pkg/memory"
	"github.com/zoobzio/splice/store"
)

func TestNewStore(t *testing.T) {
	s := NewStore(t, map[string]any{"users": map[string]any{"kato": "x"}})
	RequireValue(t, s.Ref("users/kato"), "x")

	empty := NewStore(t, nil)
	RequireValue(t, empty.Root(), nil)
}

func TestWaitFor(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		if !WaitFor(t, 100*time.Millisecond, func() bool { return true }) {
			t.Error("expected WaitFor to return true")
		}
	})

	t.Run("condition never met", func(t *testing.T) {
		if WaitFor(t, 50*time.Millisecond, func() bool { return false }) {
			t.Error("expected WaitFor to return false on timeout")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		start := time.Now()
		var met atomic.Bool
		go func() {
			time.Sleep(30 * time.Millisecond)
			met.Store(true)
		}()
		if !WaitFor(t, time.Second, met.Load) {
			t.Error("expected WaitFor to return true")
		}
		if time.Since(start) < 30*time.Millisecond {
			t.Error("condition should have taken at least 30ms")
		}
	})
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t, map[string]any{"list": map[string]any{"a": 1}})

	rec := Record(t, s.Ref("list"), store.EventChildAdded, store.EventChildRemoved)
	if rec.Len() != 1 {
		t.Fatalf("expected 1 initial event, got %d", rec.Len())
	}

	if err := s.Ref("list/b").Set(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Ref("list/a").Remove(ctx); err != nil {
		t.Fatal(err)
	}

	last, ok := rec.Last(store.EventChildAdded)
	if !ok || last.Key != "b" || last.Prev != "a" || last.Value != float64(2) {
		t.Errorf("unexpected last child_added: %+v", last)
	}
	if removed := rec.Of(store.EventChildRemoved); len(removed) != 1 || removed[0].Key != "a" {
		t.Errorf("unexpected child_removed events: %+v", removed)
	}

	rec.Reset()
	rec.Off()
	rec.Off()
	if err := s.Ref("list/c").Set(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if rec.Len() != 0 {
		t.Errorf("expected no events after Off, got %d", rec.Len())
	}
	if n := s.Subscriptions(); n != 0 {
		t.Errorf("expected subscriptions closed, got %d", n)
	}
}

func TestRecorder_Cancelled(t *testing.T) {
	denied := errors.New("denied")
	s := NewStore(t, map[string]any{"secret": "x"})
	rec := Record(t, s.Ref("secret"), store.EventValue)

	s.SetRules(func(_ memory.Op, path string) error {
		if strings.HasPrefix(path, "/secret") {
			return denied
		}
		return nil
	})

	errs := rec.Cancelled()
	if len(errs) != 1 || !errors.Is(errs[0], denied) {
		t.Errorf("expected one cancellation with %v, got %v", denied, errs)
	}
}
