// Package restrict derives per-session restriction flags from the session
// kind and server-provided configuration. Derivation is a pure function run
// once at session creation; after that the set only changes when the server
// sends an explicit restriction update. The client never infers restrictions
// from its own heuristics.
package restrict

import "github.com/parley-dev/parley/pkg/protocol"

// Set holds the flags consulted before allowing certain user actions.
type Set struct {
	CanSwitchSessions bool
	CanAccessHistory  bool
	CanFreeTypeText   bool
	CanEndEarly       bool
}

// Derive computes the starting restriction set for a session. Templated
// sessions default to the strictest set, reactive sessions to the most
// permissive; overrides from server config win field by field.
func Derive(kind protocol.SessionKind, overrides *protocol.RestrictionOverrides) Set {
	var set Set
	switch kind {
	case protocol.SessionTemplated:
		set = Set{}
	default:
		set = Set{
			CanSwitchSessions: true,
			CanAccessHistory:  true,
			CanFreeTypeText:   true,
			CanEndEarly:       true,
		}
	}
	return Apply(set, overrides)
}

// Apply folds an explicit server restriction update into an existing set.
// Nil fields leave the current value untouched.
func Apply(set Set, overrides *protocol.RestrictionOverrides) Set {
	if overrides == nil {
		return set
	}
	if overrides.CanSwitchSessions != nil {
		set.CanSwitchSessions = *overrides.CanSwitchSessions
	}
	if overrides.CanAccessHistory != nil {
		set.CanAccessHistory = *overrides.CanAccessHistory
	}
	if overrides.CanFreeTypeText != nil {
		set.CanFreeTypeText = *overrides.CanFreeTypeText
	}
	if overrides.CanEndEarly != nil {
		set.CanEndEarly = *overrides.CanEndEarly
	}
	return set
}
