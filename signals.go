package splice

import "github.com/zoobzio/capitan"

// Record lifecycle signals.
var (
	// RecordCreated is emitted when a Record starts constructing.
	RecordCreated = capitan.NewSignal(
		"splice.record.created",
		"Joined record construction started",
	)

	// RecordStateChanged is emitted when a Record transitions between states.
	RecordStateChanged = capitan.NewSignal(
		"splice.record.state.changed",
		"Joined record state transition",
	)

	// RecordObserving is emitted when the first observer attaches and
	// remote subscriptions open.
	RecordObserving = capitan.NewSignal(
		"splice.record.observing",
		"Joined record subscriptions opened",
	)

	// RecordIdle is emitted when the last observer detaches and remote
	// subscriptions close.
	RecordIdle = capitan.NewSignal(
		"splice.record.idle",
		"Joined record subscriptions released",
	)

	// RecordAborted is emitted when a constituent path fails and every
	// observer is cancelled.
	RecordAborted = capitan.NewSignal(
		"splice.record.aborted",
		"Joined record observers aborted",
	)
)

// Path resolution signals.
var (
	// KeyMapResolved is emitted when a path's key map is known.
	KeyMapResolved = capitan.NewSignal(
		"splice.keymap.resolved",
		"Path key map resolved",
	)

	// KeyMapResolveFailed is emitted when sampling a path fails.
	KeyMapResolveFailed = capitan.NewSignal(
		"splice.keymap.resolve.failed",
		"Path key map resolution failed",
	)

	// KeyMapSampleEmpty is emitted when a path had no data to sample.
	KeyMapSampleEmpty = capitan.NewSignal(
		"splice.keymap.sample.empty",
		"Path had no records to sample",
	)

	// PathFieldDropped is emitted when a later path claims a field and the
	// earlier path gives it up.
	PathFieldDropped = capitan.NewSignal(
		"splice.path.field.dropped",
		"Field claimed by a later path",
	)

	// PathSortDemoted is emitted when more than one path asks to be the
	// sort path and all but the first are demoted.
	PathSortDemoted = capitan.NewSignal(
		"splice.path.sort.demoted",
		"Conflicting sort path demoted",
	)

	// PathWriteSkipped is emitted when a write is not routed to a path.
	PathWriteSkipped = capitan.NewSignal(
		"splice.path.write.skipped",
		"Write skipped for path",
	)
)

// Snapshot build signals.
var (
	// SnapshotBuilt is emitted when a merged snapshot finishes.
	SnapshotBuilt = capitan.NewSignal(
		"splice.snapshot.built",
		"Merged snapshot built",
	)

	// SnapshotFailed is emitted when any sub-read of a build fails.
	SnapshotFailed = capitan.NewSignal(
		"splice.snapshot.failed",
		"Merged snapshot build failed",
	)

	// SnapshotDiscarded is emitted when a build finishes after a newer one
	// was already applied.
	SnapshotDiscarded = capitan.NewSignal(
		"splice.snapshot.discarded",
		"Stale merged snapshot discarded",
	)
)

// Source signals, used by stores mirrored from external sources.
var (
	// SourceReloaded is emitted when an external source was applied.
	SourceReloaded = capitan.NewSignal(
		"splice.source.reloaded",
		"External source reloaded",
	)

	// SourceReloadFailed is emitted when an external source could not be
	// read or decoded.
	SourceReloadFailed = capitan.NewSignal(
		"splice.source.reload.failed",
		"External source reload failed",
	)
)
