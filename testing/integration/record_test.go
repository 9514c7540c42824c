package integration

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/splice"
	"github.com/zoobzio/splice/pkg/file"
	"github.com/zoobzio/splice/store"
	splicetest "github.com/zoobzio/splice/testing"
)

func TestRecord_AsyncConcurrentWriters(t *testing.T) {
	s := usersStore(t)
	r, err := splice.Join(s.Ref("account"), s.Ref("profile"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Ready(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := splicetest.Record(t, r, store.EventChildAdded, store.EventChildChanged)
	defer rec.Off()

	ctx := context.Background()
	var wg sync.WaitGroup
	for _, user := range []string{"ana", "bo", "cy", "di"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			if err := r.Child(user).Set(ctx, map[string]any{"email": user + "@example.com", "name": user}); err != nil {
				t.Errorf("set %s: %v", user, err)
			}
		}(user)
	}
	wg.Wait()

	ok := splicetest.WaitFor(t, 2*time.Second, func() bool {
		snap, err := r.Get(ctx)
		return err == nil && snap.NumChildren() == 6
	})
	if !ok {
		t.Fatalf("expected 6 joined users, got %v", valueOf(t, r))
	}
	if got := valueOf(t, s.Ref("account/bo")); !reflect.DeepEqual(got, map[string]any{"email": "bo@example.com"}) {
		t.Errorf("expected the email routed to account, got %#v", got)
	}
	if got := valueOf(t, s.Ref("profile/bo")); !reflect.DeepEqual(got, map[string]any{"name": "bo"}) {
		t.Errorf("expected the name routed to profile, got %#v", got)
	}
	if !splicetest.WaitFor(t, time.Second, func() bool { return len(rec.Of(store.EventChildAdded)) >= 6 }) {
		t.Errorf("expected every user announced, got %d", len(rec.Of(store.EventChildAdded)))
	}
}

func TestRecord_FollowsMirroredFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("kato:\n  name: Kato\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := usersStore(t)
	m := splice.NewMirror(file.New(path), s.Ref("profile"), splice.WithDebounce(10*time.Millisecond))
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	r, err := splice.Intersect(s.Ref("account"), s.Ref("profile"))
	if err != nil {
		t.Fatal(err)
	}
	rec := splicetest.Record(t, r, store.EventChildAdded, store.EventChildRemoved)
	defer rec.Off()

	if !splicetest.WaitFor(t, time.Second, func() bool { return rec.Len() == 1 }) {
		t.Fatalf("expected only kato joined, got %v", rec.Events())
	}

	if err := os.WriteFile(path, []byte("lee:\n  name: Lee\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	ok := splicetest.WaitFor(t, 2*time.Second, func() bool {
		return len(rec.Of(store.EventChildRemoved)) == 1 && len(rec.Of(store.EventChildAdded)) == 2
	})
	if !ok {
		t.Fatalf("expected kato removed and lee added, got %v", rec.Events())
	}
	if added, _ := rec.Last(store.EventChildAdded); added.Key != "lee" {
		t.Errorf("expected lee added, got %s", added.Key)
	}
}
