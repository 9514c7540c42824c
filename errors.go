package splice

import (
	"errors"

	"github.com/zoobzio/splice/store"
)

// Configuration errors are returned synchronously by Join, Intersect and
// LoadConfig. Resolution errors surface through Ready and every operation
// of a record that failed to construct.
var (
	// ErrInvalidPath is returned for a spec that is not a store reference,
	// a joined record, or a PathSpec carrying one of those.
	ErrInvalidPath = errors.New("invalid path spec")

	// ErrNoPaths is returned when a join is declared without any path.
	ErrNoPaths = errors.New("join requires at least one path")

	// ErrInvalidKeyMap is returned for an explicit key map entry that is
	// neither true, an alias, nor a dynamic reference.
	ErrInvalidKeyMap = errors.New("invalid key map")

	// ErrSortPath is returned when the sort path does not intersect while
	// other paths do.
	ErrSortPath = errors.New("sort path must be an intersecting path")

	// ErrResolve wraps failures to sample a path's key map.
	ErrResolve = errors.New("key map resolution failed")

	// ErrNotSupported is the store's unsupported operation error, returned
	// by operations a joined record does not forward.
	ErrNotSupported = store.ErrNotSupported
)

// errEmpty short-circuits a build when an intersecting path has no data.
var errEmpty = errors.New("intersecting path is empty")
