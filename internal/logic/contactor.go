package logic

import "time"

// ContactorSupervisor compares commanded vs. observed contactor state per
// phase, raising a latching fault after a debounce window. Its
// per-phase watchdog-reset-on-match shape is grounded on a
// Detector.processChannel debounce pattern, simplified to a single
// threshold (no separate baseline phase — the very first tick primes
// the watchdog rather than requiring a settling period, since a
// freshly-booted contactor mismatch is exactly the fault this component
// exists to catch).
type ContactorSupervisor struct {
	// watchdogStart[i] for phase i (1..3) is the last time commanded and
	// observed agreed for that phase. Index 0 is unused.
	watchdogStart [4]time.Time
	latched       bool
	primed        bool
}

// NewContactorSupervisor creates a supervisor with the latch cleared.
func NewContactorSupervisor() *ContactorSupervisor {
	return &ContactorSupervisor{}
}

// Latched reports whether contactor_error is currently set.
func (c *ContactorSupervisor) Latched() bool { return c.latched }

// Check runs one 250ms audit tick. commanded and observed are indexed by
// phase (1..3; index 0 unused). chargerNotConnected must be true only
// when the EVSE reports charger_state == not_connected. It returns
// whether the latch is newly raised this tick and, if so, which phase
// faulted (1..3), resolving design ambiguity #2: clearance requires every
// per-phase check to be clean on this tick AND chargerNotConnected — a
// historical contactor_error[0] is never consulted, because it is never
// written.
func (c *ContactorSupervisor) Check(now time.Time, commanded, observed [4]bool, chargerNotConnected bool) (raised bool, faultedPhase int) {
	if !c.primed {
		for i := 1; i <= 3; i++ {
			c.watchdogStart[i] = now
		}
		c.primed = true
	}

	allClean := true
	for i := 1; i <= 3; i++ {
		if commanded[i] == observed[i] {
			c.watchdogStart[i] = now
			continue
		}
		allClean = false
		if !c.latched && Elapsed(now, c.watchdogStart[i].Add(ContactorDebounce)) {
			c.latched = true
			raised = true
			faultedPhase = i
		}
	}

	if chargerNotConnected && allClean {
		c.latched = false
	}

	return raised, faultedPhase
}

// SafeStateFor returns the sequencer state the sequencer should be forced
// into while the contactor latch is asserted.
func SafeStateFor(current SequencerState) (target SequencerState, shouldForce bool) {
	switch current {
	case WaitingForEVSEStart, Active, QuickCharging:
		return WaitingForEVSEStop, true
	case WaitingForEVSEStop:
		return current, false
	case Inactive:
		return Inactive, false
	default:
		return Inactive, true
	}
}
