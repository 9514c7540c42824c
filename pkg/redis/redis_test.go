package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/zoobzio/splice"
	splicetest "github.com/zoobzio/splice/testing"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })

	if err := client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		t.Fatalf("failed to enable keyspace notifications: %v", err)
	}
	return client
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for value")
		return nil
	}
}

func TestNew(t *testing.T) {
	s := New(nil, "flags", WithDB(3))
	if s.Channel() != "__keyspace@3__:flags" {
		t.Errorf("unexpected channel %q", s.Channel())
	}
}

func TestSource_EmitsInitialValue(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Set(ctx, "flags", `{"checkout": true}`, 0).Err(); err != nil {
		t.Fatalf("failed to set initial value: %v", err)
	}
	ch, err := New(client, "flags").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := string(receive(t, ch)); got != `{"checkout": true}` {
		t.Errorf("unexpected initial value %q", got)
	}
}

func TestSource_MissingKeyEmitsEmpty(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := New(client, "absent").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := receive(t, ch); len(got) != 0 {
		t.Errorf("expected an empty document, got %q", got)
	}
}

func TestSource_EmitsOnSetAndDelete(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Set(ctx, "flags", `{"v": 1}`, 0).Err(); err != nil {
		t.Fatal(err)
	}
	ch, err := New(client, "flags").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	receive(t, ch)

	if err := client.Set(ctx, "flags", `{"v": 2}`, 0).Err(); err != nil {
		t.Fatal(err)
	}
	if got := string(receive(t, ch)); got != `{"v": 2}` {
		t.Errorf("expected updated value, got %q", got)
	}

	if err := client.Del(ctx, "flags").Err(); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, ch); len(got) != 0 {
		t.Errorf("expected an empty document after delete, got %q", got)
	}
}

func TestSource_ClosesOnContextCancel(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := New(client, "flags").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	receive(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestSource_MirrorsIntoStore(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Set(ctx, "profile", "kato:\n  name: Kato\n", 0).Err(); err != nil {
		t.Fatal(err)
	}
	s := splicetest.NewStore(t, nil)
	m := splice.NewMirror(New(client, "profile"), s.Ref("users/profile"), splice.WithDebounce(10*time.Millisecond))
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	splicetest.RequireValue(t, s.Ref("users/profile/kato/name"), "Kato")

	if err := client.Del(ctx, "profile").Err(); err != nil {
		t.Fatal(err)
	}
	ok := splicetest.WaitFor(t, 5*time.Second, func() bool {
		snap, err := s.Ref("users/profile").Get(ctx)
		return err == nil && !snap.Exists()
	})
	if !ok {
		t.Error("expected the delete mirrored as a removal")
	}
}
