package splice

import (
	"context"
	"errors"
	"strings"
	"testing"

	splicetest "github.com/zoobzio/splice/testing"
)

const usersJoinYAML = `
paths:
  - path: users/account
    keymap:
      email: true
  - path: users/profile
    keymap:
      name: displayName
      nick: false
`

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		codec   Codec
		data    string
		wantErr string
	}{
		{"yaml", YAMLCodec{}, usersJoinYAML, ""},
		{"json", JSONCodec{}, `{"intersect": true, "paths": [{"path": "fruit"}, {"path": "legume", "limit": 10}]}`, ""},
		{"no paths", JSONCodec{}, `{"paths": []}`, "validate"},
		{"missing path", JSONCodec{}, `{"paths": [{"sortBy": true}]}`, "validate"},
		{"negative limit", JSONCodec{}, `{"paths": [{"path": "a", "limit": -1}]}`, "validate"},
		{"malformed", JSONCodec{}, `{"paths": [`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig([]byte(tt.data), tt.codec)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("LoadConfig failed: %v", err)
				}
				if len(cfg.Paths) != 2 {
					t.Errorf("expected 2 paths, got %d", len(cfg.Paths))
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %s error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestJoinConfig(t *testing.T) {
	s := usersStore(t)
	cfg, err := LoadConfig([]byte(usersJoinYAML), YAMLCodec{})
	if err != nil {
		t.Fatal(err)
	}

	r := mustJoin(t)(NewJoiner(WithSyncMode()).JoinConfig(s.Root(), cfg))
	requireEqual(t, mustGet(t, r).Val(), map[string]any{
		"kato": map[string]any{"email": "kato@example.com", "displayName": "Kato"},
		"lee":  map[string]any{"email": "lee@example.com"},
		"bo":   map[string]any{"displayName": "Bo"},
	})
}

func TestJoinConfig_Intersect(t *testing.T) {
	s := produceStore(t)
	cfg, err := LoadConfig([]byte(`{"intersect": true, "paths": [{"path": "fruit"}, {"path": "legume", "limit": 1}]}`), JSONCodec{})
	if err != nil {
		t.Fatal(err)
	}

	r := mustJoin(t)(NewJoiner(WithSyncMode()).JoinConfig(s.Root(), cfg))
	// legume is limited to its last record, c, which fruit lacks.
	requireEqual(t, mustGet(t, r).Exists(), false)
}

func TestJoinConfig_Dynamic(t *testing.T) {
	s := stylesStore(t)
	cfg, err := LoadConfig([]byte(`
paths:
  - path: profile
  - path: nicknames
    keymap:
      .value: {ref: "", alias: style}
`), YAMLCodec{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = cfg.Specs(s.Root())
	if !errors.Is(err, ErrInvalidKeyMap) {
		t.Fatalf("expected ErrInvalidKeyMap for an empty ref, got %v", err)
	}

	if err := s.Ref("nicknames/kato").Set(context.Background(), "KungFu"); err != nil {
		t.Fatal(err)
	}
	cfg.Paths[1].KeyMap[ValueKey] = map[string]any{"ref": "styles", "alias": "style"}
	r := mustJoin(t)(NewJoiner(WithSyncMode()).JoinConfig(s.Root(), cfg))
	requireEqual(t, mustGet(t, r.Child("kato")).Val(), map[string]any{
		"name":  "Kato",
		"style": map[string]any{"description": "Hands"},
	})
}

func TestJoinConfig_WritesThroughLimitedPath(t *testing.T) {
	ctx := context.Background()
	s := usersStore(t)
	cfg := &Config{Paths: []PathConfig{{Path: "users/profile", Limit: 1}}}

	r := mustJoin(t)(NewJoiner(WithSyncMode()).JoinConfig(s.Root(), cfg))
	requireEqual(t, mustGet(t, r).Keys(), []string{"kato"})
	if err := r.ChildRecord("zed").Set(ctx, map[string]any{"name": "Zed"}); err != nil {
		t.Fatal(err)
	}
	splicetest.RequireValue(t, s.Ref("users/profile/zed"), map[string]any{"name": "Zed"})
}
