// Package evse abstracts polling and commanding the EVSE controller that
// actually opens/closes the vehicle's charging session. The sequencer
// never talks to the EVSE directly — it works entirely off the State
// snapshot this package produces and the commands it issues on the
// sequencer's behalf.
package evse

import "fenwick-energy/phase-switcher/internal/logic"

// State is one poll's worth of EVSE-reported facts, matching the shape
// api.getState("evse/state")/("evse/low_level_state")/("evse/auto_start_charging")
// produced in the original firmware.
type State struct {
	ChargerState      logic.ChargerState
	IEC61851State     logic.IEC61851State
	AutoStartCharging bool
	ContactorState    int
	ButtonPressed     bool
	RelayOutput       bool
}

// AsEVSEState adapts State to the shape the pure sequencer consumes.
func (s State) AsEVSEState() logic.EVSEState {
	return logic.EVSEState{
		ChargerState:      s.ChargerState,
		IEC61851State:     s.IEC61851State,
		AutoStartCharging: s.AutoStartCharging,
		ContactorState:    s.ContactorState,
		ButtonPressed:     s.ButtonPressed,
		RelayOutput:       s.RelayOutput,
	}
}

// Client is the facade the switcher core polls and commands through.
type Client interface {
	// Poll fetches the current EVSE state.
	Poll() (State, error)

	// StartCharging requests the EVSE begin a charging session.
	StartCharging() error

	// StopCharging requests the EVSE end the current charging session.
	StopCharging() error

	// SetExternalCurrent updates the EVSE's externally-imposed current
	// limit. Implementations must pass mA through ClampCurrent before
	// sending it: 0 is sent as is, any other value is clamped to
	// [logic.MinCurrentMA, logic.MaxCurrentMA].
	SetExternalCurrent(mA uint32) error
}

// ClampCurrent enforces the boundary the EVSE facade owns: the sequencer
// derives currents already inside range, but external callers (a
// manually-issued quick-charge request racing a config reload, say)
// are not trusted to have done so. 0 mA (no phases committed) passes
// through untouched — only a nonzero current is clamped to
// [logic.MinCurrentMA, logic.MaxCurrentMA].
func ClampCurrent(mA uint32) uint32 {
	if mA == 0 {
		return 0
	}
	if mA < logic.MinCurrentMA {
		return logic.MinCurrentMA
	}
	if mA > logic.MaxCurrentMA {
		return logic.MaxCurrentMA
	}
	return mA
}
