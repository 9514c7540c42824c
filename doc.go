/*
Package splice merges several independently updating locations of a
tree-shaped store into one live, ordered record.

Each location is a path. A path's key map translates its stored fields into
the fields of the joined record; it is declared explicitly, inherited from a
parent join, or inferred by sampling existing records. Paths are unions by
default: a record present in any path appears in the join. Intersecting
paths exclude every record they do not hold.

# Basic Usage

	db := memory.New()
	users, err := splice.Join(db.Ref("users/account"), db.Ref("users/profile"))
	if err != nil {
	    return err
	}

	reg, err := users.On(store.EventChildAdded, func(snap *store.Snapshot, prev string) {
	    fmt.Println(snap.Key(), snap.Val())
	}, nil)
	defer reg.Off()

With account/kato = {email: "a@b.com"} and profile/kato = {name: "Kato"},
the child kato of the join is {email: "a@b.com", name: "Kato"}.

# Paths

A spec is a store.Ref, a store.Query, a *Record, or a PathSpec:

	splice.Join(
	    splice.PathSpec{Ref: db.Ref("fruit"), Intersects: true, SortBy: true},
	    splice.PathSpec{Ref: db.Ref("legume"), Intersects: true},
	)

When two paths expose the same field, the path declared last wins and the
field is dropped from the earlier one.

Key map values are true (keep the name), an alias, or a Dynamic reference
whose stored value is a key into another location:

	splice.PathSpec{
	    Ref:    db.Ref("nicknames"),
	    KeyMap: map[string]any{".value": splice.Dynamic{Ref: db.Root(), Alias: "style"}},
	}

# Records

A Record implements store.Ref. Reads, subscriptions and writes are
translated into per-path operations: writes fan out to every path owning a
field, and events are emitted only when the merged value actually changes.
Limit, StartAt, EndAt, Transaction and OnDisconnect return ErrNotSupported.

# Mirrors

A Mirror copies an external document into a store location so it can be
joined like any other path. Sources emit raw bytes: pkg/file follows a file
through fsnotify and pkg/redis follows a key through keyspace notifications.

	m := splice.NewMirror(file.New("prices.yaml"), db.Ref("prices"))
	if err := m.Start(ctx); err != nil {
	    log.Printf("initial load failed: %v", err)
	}

Bursts of changes are debounced (WithDebounce) and documents that fail to
decode leave the location untouched.

# Observability

Lifecycle, resolution, builds and aborts are emitted as capitan signals
(see signals.go). A MetricsProvider receives the same events as counters;
pkg/prometheus provides one backed by client_golang.

# Testing

WithSyncMode runs construction and rebuilds on the calling goroutine. With
pkg/memory, which delivers events synchronously, every observer has run by
the time a write returns.
*/
package splice
