package restrict

import (
	"testing"

	"github.com/parley-dev/parley/pkg/protocol"
)

func boolPtr(b bool) *bool { return &b }

func TestDerive_ReactiveDefaultsPermissive(t *testing.T) {
	set := Derive(protocol.SessionReactive, nil)
	if !set.CanSwitchSessions || !set.CanAccessHistory || !set.CanFreeTypeText || !set.CanEndEarly {
		t.Fatalf("reactive defaults = %+v, want all true", set)
	}
}

func TestDerive_TemplatedDefaultsStrict(t *testing.T) {
	set := Derive(protocol.SessionTemplated, nil)
	if set.CanSwitchSessions || set.CanAccessHistory || set.CanFreeTypeText || set.CanEndEarly {
		t.Fatalf("templated defaults = %+v, want all false", set)
	}
}

func TestDerive_OverridesWin(t *testing.T) {
	set := Derive(protocol.SessionTemplated, &protocol.RestrictionOverrides{
		CanSwitchSessions: boolPtr(true),
		CanEndEarly:       boolPtr(true),
	})
	if !set.CanSwitchSessions {
		t.Errorf("CanSwitchSessions = false, want override true")
	}
	if !set.CanEndEarly {
		t.Errorf("CanEndEarly = false, want override true")
	}
	if set.CanAccessHistory || set.CanFreeTypeText {
		t.Errorf("unset fields changed: %+v", set)
	}
}

func TestApply_NilLeavesSetUnchanged(t *testing.T) {
	in := Set{CanSwitchSessions: true, CanFreeTypeText: true}
	if got := Apply(in, nil); got != in {
		t.Fatalf("Apply(nil) = %+v, want %+v", got, in)
	}
}

func TestApply_PartialUpdate(t *testing.T) {
	in := Derive(protocol.SessionReactive, nil)
	got := Apply(in, &protocol.RestrictionOverrides{CanFreeTypeText: boolPtr(false)})
	if got.CanFreeTypeText {
		t.Errorf("CanFreeTypeText = true, want false after update")
	}
	if !got.CanSwitchSessions || !got.CanAccessHistory || !got.CanEndEarly {
		t.Errorf("untouched fields changed: %+v", got)
	}
}
