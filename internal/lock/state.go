package lock

import "fmt"

// Phase is the controller state.
type Phase int

const (
	// PhaseUninitialized is the state before a successful Init.
	PhaseUninitialized Phase = iota
	// PhaseNeedsSetup means the user has no PIN; nothing is locked.
	PhaseNeedsSetup
	// PhaseUnlocked is normal use.
	PhaseUnlocked
	// PhaseLocked is an idle lock.
	PhaseLocked
	// PhaseLockedSticky is a lock that only a successful Unlock clears.
	PhaseLockedSticky
)

var phaseNames = map[Phase]string{
	PhaseUninitialized: "uninitialized",
	PhaseNeedsSetup:    "needs_setup",
	PhaseUnlocked:      "unlocked",
	PhaseLocked:        "locked",
	PhaseLockedSticky:  "locked_sticky",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for ph, name := range phaseNames {
		if name == string(b) {
			*p = ph
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Locked reports whether the phase blocks the protected area.
func (p Phase) Locked() bool {
	return p == PhaseLocked || p == PhaseLockedSticky
}

// State is the externally visible controller state.
type State struct {
	Phase        Phase  `json:"phase"`
	NeedsSetup   bool   `json:"needsSetup"`
	IsLocked     bool   `json:"isLocked"`
	StickyLocked bool   `json:"stickyLocked"`
	Username     string `json:"username,omitempty"`
}

func stateOf(p Phase, username string) State {
	return State{
		Phase:        p,
		NeedsSetup:   p == PhaseNeedsSetup,
		IsLocked:     p.Locked(),
		StickyLocked: p == PhaseLockedSticky,
		Username:     username,
	}
}
