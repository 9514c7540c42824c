package splice

import (
	"time"

	"github.com/zoobzio/splice/store"
)

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key record events.
type MetricsProvider interface {
	// OnStateChange is called when a record transitions between states.
	OnStateChange(from, to State)

	// OnBuildSuccess is called when a merged snapshot is built.
	// Mode is "collection" or "record".
	OnBuildSuccess(mode string, duration time.Duration)

	// OnBuildFailure is called when any sub-read of a build fails.
	OnBuildFailure(mode string, duration time.Duration)

	// OnEmit is called for every event delivered to an observer.
	OnEmit(event store.EventType)

	// OnAbort is called when a record aborts its observers.
	OnAbort()

	// OnSourceReload is called each time a Mirror applies or rejects a
	// document from its source.
	OnSourceReload(success bool)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStateChange(_, _ State)                 {}
func (NoOpMetricsProvider) OnBuildSuccess(_ string, _ time.Duration) {}
func (NoOpMetricsProvider) OnBuildFailure(_ string, _ time.Duration) {}
func (NoOpMetricsProvider) OnEmit(_ store.EventType)                 {}
func (NoOpMetricsProvider) OnAbort()                                 {}
func (NoOpMetricsProvider) OnSourceReload(_ bool)                    {}
