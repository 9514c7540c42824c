package splice

import (
	"testing"
	"time"

	"github.com/zoobzio/splice/store"
)

func TestNoOpMetricsProvider_DoesNotPanic(_ *testing.T) {
	var m NoOpMetricsProvider

	m.OnStateChange(StateConstructing, StateReady)
	m.OnBuildSuccess("collection", 100*time.Millisecond)
	m.OnBuildFailure("record", 50*time.Millisecond)
	m.OnEmit(store.EventValue)
	m.OnAbort()
	m.OnSourceReload(true)
}

var _ MetricsProvider = NoOpMetricsProvider{}
