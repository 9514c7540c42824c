package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/zoobzio/splice"
	"github.com/zoobzio/splice/pkg/memory"
	"github.com/zoobzio/splice/store"
)

func seed(b *testing.B, n int) *memory.Store {
	b.Helper()
	account := make(map[string]any, n)
	profile := make(map[string]any, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("user%04d", i)
		account[key] = map[string]any{"email": key + "@example.com"}
		profile[key] = map[string]any{"name": key, "level": i}
	}
	s := memory.New()
	if err := s.Load(context.Background(), map[string]any{"account": account, "profile": profile}); err != nil {
		b.Fatal(err)
	}
	return s
}

func join(b *testing.B, s *memory.Store, intersect bool) *splice.Record {
	b.Helper()
	j := splice.NewJoiner(splice.WithSyncMode())
	var (
		r   *splice.Record
		err error
	)
	if intersect {
		r, err = j.Intersect(s.Ref("account"), s.Ref("profile"))
	} else {
		r, err = j.Join(s.Ref("account"), s.Ref("profile"))
	}
	if err != nil {
		b.Fatal(err)
	}
	if err := r.Ready(context.Background()); err != nil {
		b.Fatal(err)
	}
	return r
}

func BenchmarkRecord_GetUnion(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			r := join(b, seed(b, n), false)
			ctx := context.Background()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := r.Get(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkRecord_GetIntersect(b *testing.B) {
	r := join(b, seed(b, 100), true)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Get(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRecord_LiveChildChange(b *testing.B) {
	s := seed(b, 100)
	r := join(b, s, false)
	reg, err := r.On(store.EventChildChanged, func(*store.Snapshot, string) {}, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer reg.Off()

	ctx := context.Background()
	ref := s.Ref("profile/user0042/level")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ref.Set(ctx, i); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRecord_WriteThrough(b *testing.B) {
	s := seed(b, 10)
	r := join(b, s, false)
	ctx := context.Background()
	child := r.Child("user0001")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := child.Update(ctx, map[string]any{"email": fmt.Sprintf("u%d@example.com", i), "level": i}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMirror_Process(b *testing.B) {
	s := memory.New()
	ch := make(chan []byte, b.N+1)
	ch <- []byte(`{"value": 0}`)
	for i := 1; i <= b.N; i++ {
		ch <- []byte(fmt.Sprintf(`{"value": %d}`, i))
	}
	m := splice.NewMirror(splice.NewSyncChannelSource(ch), s.Ref("doc"), splice.WithSyncMode())
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Process(ctx)
	}
}
