package integration

import (
	"context"
	"testing"

	"github.com/zoobzio/splice/pkg/memory"
	"github.com/zoobzio/splice/store"
	splicetest "github.com/zoobzio/splice/testing"
)

func usersStore(t *testing.T) *memory.Store {
	t.Helper()
	return splicetest.NewStore(t, map[string]any{
		"account": map[string]any{
			"kato": map[string]any{"email": "kato@example.com"},
			"lee":  map[string]any{"email": "lee@example.com"},
		},
		"profile": map[string]any{
			"kato": map[string]any{"name": "Kato"},
			"lee":  map[string]any{"name": "Lee"},
		},
	})
}

func valueOf(t *testing.T, q store.Query) any {
	t.Helper()
	snap, err := q.Get(context.Background())
	if err != nil {
		t.Fatalf("Get %s failed: %v", q.Ref(), err)
	}
	return snap.Val()
}
