package splice

import "github.com/zoobzio/capitan"

// Field keys for splice events.
var (
	// KeyRecord is the instance id of the Record emitting the event.
	KeyRecord = capitan.NewStringKey("record")

	// KeyLocation is the joined location, for example "[/users/account,/users/profile]".
	KeyLocation = capitan.NewStringKey("location")

	// KeyPath is the store location of a constituent path.
	KeyPath = capitan.NewStringKey("path")

	// KeyField is a source field name.
	KeyField = capitan.NewStringKey("field")

	// KeyAlias is the aliased field name in the joined record.
	KeyAlias = capitan.NewStringKey("alias")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyMode is "collection" or "record".
	KeyMode = capitan.NewStringKey("mode")

	// KeyFieldCount is the number of fields in a resolved key map.
	KeyFieldCount = capitan.NewIntKey("field_count")

	// KeyDuration is the time a snapshot build took.
	KeyDuration = capitan.NewDurationKey("duration")

	// KeyReason explains why a write or build was skipped.
	KeyReason = capitan.NewStringKey("reason")
)
