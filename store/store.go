// Package store defines the tree-shaped remote store contract consumed by
// splice, along with the immutable ordered Snapshot value shared by every
// store implementation and by joined records.
package store

import (
	"context"
	"errors"
)

// EventType names a change notification delivered by a subscription.
type EventType string

// Event types understood by stores and joined records.
const (
	EventValue        EventType = "value"
	EventChildAdded   EventType = "child_added"
	EventChildRemoved EventType = "child_removed"
	EventChildChanged EventType = "child_changed"
	EventChildMoved   EventType = "child_moved"
)

// EventTypes lists every event type in delivery-relevant order.
var EventTypes = []EventType{
	EventValue,
	EventChildAdded,
	EventChildRemoved,
	EventChildChanged,
	EventChildMoved,
}

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	switch e {
	case EventValue, EventChildAdded, EventChildRemoved, EventChildChanged, EventChildMoved:
		return true
	}
	return false
}

// IsChild reports whether e is one of the child_* events.
func (e EventType) IsChild() bool {
	return e.Valid() && e != EventValue
}

// String returns the wire name of the event type.
func (e EventType) String() string {
	return string(e)
}

// Errors shared by store implementations.
var (
	// ErrNotSupported is returned by operations a Ref or Query cannot perform.
	ErrNotSupported = errors.New("operation not supported")

	// ErrPermissionDenied is returned when the store refuses a read or write.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidPath is returned for malformed locations.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidEvent is returned when subscribing to an unknown event type.
	ErrInvalidEvent = errors.New("invalid event type")
)

// Handler receives a snapshot and, for child events, the key of the previous
// sibling ("" when the child is first).
type Handler func(snap *Snapshot, prevKey string)

// CancelFunc is invoked once when a subscription is revoked by the store.
// No further events are delivered after it runs.
type CancelFunc func(err error)

// Registration is returned by On and detaches the subscription.
type Registration interface {
	Off()
}

// RegistrationFunc adapts a function to a Registration.
type RegistrationFunc func()

// Off calls f.
func (f RegistrationFunc) Off() { f() }

// Query is a readable, observable view of a location.
type Query interface {
	// Ref returns the location the query reads from.
	Ref() Ref

	// Get reads the current value once.
	Get(ctx context.Context) (*Snapshot, error)

	// On subscribes to event. The current state is delivered first (a value
	// event, or one child_added per existing child), then live changes.
	On(event EventType, fn Handler, cancel CancelFunc) (Registration, error)

	// Limit restricts the query to the last n children.
	Limit(n int) (Query, error)

	// StartAt restricts the query to children ordered at or after the
	// given priority and key.
	StartAt(priority any, key string) (Query, error)

	// EndAt restricts the query to children ordered at or before the
	// given priority and key.
	EndAt(priority any, key string) (Query, error)
}

// Ref is a writable location in the store.
type Ref interface {
	Query

	// Key is the last segment of the location, "" at the root.
	Key() string

	// String is the absolute location, for example "/users/account".
	String() string

	Child(path string) Ref
	Parent() Ref
	Root() Ref

	Set(ctx context.Context, value any) error
	SetWithPriority(ctx context.Context, value any, priority any) error
	SetPriority(ctx context.Context, priority any) error
	Update(ctx context.Context, values map[string]any) error
	Remove(ctx context.Context) error

	// Push creates a child with a generated, time-ordered key. A nil value
	// only generates the key without writing.
	Push(ctx context.Context, value any) (Ref, error)

	// Transaction atomically replaces the value with fn(current). Returning
	// false from fn aborts without writing.
	Transaction(ctx context.Context, fn func(current any) (any, bool)) (bool, *Snapshot, error)

	// OnDisconnect returns the queue of writes applied when the client
	// disconnects from the store.
	OnDisconnect() (Disconnect, error)
}

// Disconnect schedules writes to run server-side when the connection drops.
type Disconnect interface {
	Set(ctx context.Context, value any) error
	Remove(ctx context.Context) error
	Cancel(ctx context.Context) error
}
