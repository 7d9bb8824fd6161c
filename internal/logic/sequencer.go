package logic

import "time"

// TickResult carries the side effects the sequencer wants applied for a
// tick. It is returned as data — mirroring a Detector.Process-style
// design that returns []Event — so callers can log and publish without
// the sequencer itself depending on a logger or an EVSE client.
type TickResult struct {
	Transitioned bool
	From, To     SequencerState

	StartEVSE bool
	StopEVSE  bool

	// CurrentMA is non-nil when the sequencer wants the EVSE's external
	// current limit updated this tick.
	CurrentMA *uint32

	QuickChargeStarted bool
}

// Sequencer is the state machine coordinating EVSE start/stop, phase
// changes, quick-charge requests, and contactor-fault response. It owns
// every field of the sequencer's runtime state.
type Sequencer struct {
	state               SequencerState
	quickChargingActive bool

	requestedPhases        uint8
	requestedPhasesPending uint8
	availablePowerW        uint16

	lastStateChange        time.Time
	lastPhaseRequestChange time.Time
	// lastPendingSeen resolves design ambiguity #1: last_phase_request_change
	// is stamped only when the pending value differs from what
	// SetAvailablePower computed on its *previous* call, not merely from
	// the currently-committed value.
	lastPendingSeen uint8

	// watchdogStart backs the three re-issue-command-every-10s states.
	// Only one of those states is ever active at a time, so a single
	// field (reset on every transition) suffices.
	watchdogStart time.Time
}

// NewSequencer creates a Sequencer starting in the inactive state.
func NewSequencer(now time.Time) *Sequencer {
	return &Sequencer{
		state:           Inactive,
		lastStateChange: now,
	}
}

func (s *Sequencer) State() SequencerState             { return s.state }
func (s *Sequencer) RequestedPhases() uint8             { return s.requestedPhases }
func (s *Sequencer) RequestedPhasesPending() uint8      { return s.requestedPhasesPending }
func (s *Sequencer) QuickChargingActive() bool          { return s.quickChargingActive }
func (s *Sequencer) LastStateChange() time.Time         { return s.lastStateChange }
func (s *Sequencer) LastPhaseRequestChange() time.Time  { return s.lastPhaseRequestChange }

// SetAvailablePower updates the available power setpoint and re-derives
// requested_phases_pending from it. It always returns a current-update
// command for the EVSE, computed against the currently-committed phase
// count (not pending) — this is what lets the current setpoint track
// fluctuating available power even when no phase change is warranted.
func (s *Sequencer) SetAvailablePower(cfg Config, now time.Time, availablePowerW uint16) uint32 {
	s.availablePowerW = availablePowerW
	pending := SelectPhases(cfg.OperatingMode, availablePowerW, s.requestedPhases)
	s.requestedPhasesPending = pending

	if pending != s.lastPendingSeen {
		if pending != s.requestedPhases {
			s.lastPhaseRequestChange = now
		}
		s.lastPendingSeen = pending
	}

	return DeriveCurrentMilliamps(availablePowerW, s.requestedPhases)
}

// StartQuickCharging honors an operator/button request for forced
// 3-phase charging. It is a no-op unless enabled and the sequencer is
// in a state that permits it.
func (s *Sequencer) StartQuickCharging(cfg Config) (accepted bool, currentMA uint32) {
	if !cfg.Enabled {
		return false, 0
	}
	if s.state != Standby && s.state != StoppedByEVSE {
		return false, 0
	}
	s.quickChargingActive = true
	s.requestedPhasesPending = 3
	return true, MaxCurrentMA
}

func (s *Sequencer) setState(now time.Time, next SequencerState) TickResult {
	prev := s.state
	s.state = next
	s.lastStateChange = now
	s.watchdogStart = time.Time{}
	return TickResult{Transitioned: prev != next, From: prev, To: next}
}

// Tick runs the top-level gate then dispatches to the current state's
// step function. contactorError reflects the latch from the previous
// tick's contactor supervisor check (the supervisor itself runs after
// the sequencer within a scheduling cycle).
func (s *Sequencer) Tick(cfg Config, now time.Time, evse EVSEState, contactorError bool) TickResult {
	if !cfg.Enabled || evse.ChargerState == NotConnected || evse.ChargerState == ChargerError {
		prev := s.state
		s.state = Inactive
		s.quickChargingActive = false
		s.requestedPhases = 0
		if prev != Inactive {
			s.lastStateChange = now
		}
		return TickResult{Transitioned: prev != Inactive, From: prev, To: Inactive}
	}

	switch s.state {
	case Inactive:
		return s.stepInactive(now, evse)
	case Standby:
		return s.stepStandby(cfg, now, evse)
	case CancellingEVSEStart:
		return s.stepCancellingEVSEStart(now, evse)
	case WaitingForEVSEStart:
		return s.stepWaitingForEVSEStart(now, evse)
	case Active:
		return s.stepActive(cfg, now, evse)
	case QuickCharging:
		return s.stepQuickCharging(cfg, now, evse)
	case WaitingForEVSEStop:
		return s.stepWaitingForEVSEStop(now, evse, contactorError)
	case PausingWhileSwitching:
		return s.stepPausingWhileSwitching(cfg, now)
	case StoppedByEVSE:
		return s.stepStoppedByEVSE(now, evse)
	default:
		return TickResult{}
	}
}

func (s *Sequencer) stepInactive(now time.Time, evse EVSEState) TickResult {
	connected := evse.ChargerState == WaitingForChargeRelease &&
		(evse.AutoStartCharging || evse.IEC61851State == StateB)

	switch {
	case connected:
		return s.setState(now, Standby)
	case evse.ChargerState == ReadyForCharging || evse.ChargerState == Charging:
		return s.setState(now, CancellingEVSEStart)
	}
	return TickResult{}
}

func (s *Sequencer) stepStandby(cfg Config, now time.Time, evse EVSEState) TickResult {
	if Elapsed(now, s.lastPhaseRequestChange.Add(cfg.DelayUp)) {
		if s.requestedPhasesPending > 0 {
			r := s.setState(now, WaitingForEVSEStart)
			if !s.quickChargingActive {
				ma := DeriveCurrentMilliamps(s.availablePowerW, s.requestedPhasesPending)
				r.CurrentMA = &ma
			}
			s.requestedPhases = s.requestedPhasesPending
			return r
		}
		s.requestedPhases = s.requestedPhasesPending
		return TickResult{}
	}
	if evse.ChargerState == ReadyForCharging || evse.ChargerState == Charging {
		return s.setState(now, CancellingEVSEStart)
	}
	return TickResult{}
}

func (s *Sequencer) stepCancellingEVSEStart(now time.Time, evse EVSEState) TickResult {
	var r TickResult
	if Elapsed(now, s.watchdogStart.Add(EVSEStopTimeout)) {
		r.StopEVSE = true
		s.watchdogStart = now
	}
	if evse.ChargerState != ReadyForCharging && evse.ChargerState != Charging {
		next := s.setState(now, Standby)
		next.StopEVSE = r.StopEVSE
		return next
	}
	return r
}

func (s *Sequencer) stepWaitingForEVSEStart(now time.Time, evse EVSEState) TickResult {
	var r TickResult
	if Elapsed(now, s.watchdogStart.Add(EVSEStartTimeout)) {
		r.StartEVSE = true
		s.watchdogStart = now
	}
	if evse.ChargerState == Charging {
		var next TickResult
		if s.quickChargingActive {
			next = s.setState(now, QuickCharging)
		} else {
			next = s.setState(now, Active)
		}
		next.StartEVSE = r.StartEVSE
		return next
	}
	return r
}

func (s *Sequencer) stepActive(cfg Config, now time.Time, evse EVSEState) TickResult {
	more := s.requestedPhasesPending > s.requestedPhases
	less := s.requestedPhasesPending < s.requestedPhases

	deltaR := (more && Elapsed(now, s.lastPhaseRequestChange.Add(cfg.DelayUp))) ||
		(less && Elapsed(now, s.lastPhaseRequestChange.Add(cfg.DelayDown)))
	deltaD := Elapsed(now, s.lastStateChange.Add(cfg.MinDuration))

	if deltaR && deltaD {
		return s.setState(now, WaitingForEVSEStop)
	}
	if evse.ChargerState != Charging {
		r := s.setState(now, StoppedByEVSE)
		s.quickChargingActive = false
		return r
	}
	return TickResult{}
}

func (s *Sequencer) stepQuickCharging(cfg Config, now time.Time, evse EVSEState) TickResult {
	if evse.ChargerState != Charging {
		s.requestedPhasesPending = SelectPhases(cfg.OperatingMode, s.availablePowerW, s.requestedPhases)
		s.quickChargingActive = false
		return s.setState(now, StoppedByEVSE)
	}
	return TickResult{}
}

func (s *Sequencer) stepWaitingForEVSEStop(now time.Time, evse EVSEState, contactorError bool) TickResult {
	var r TickResult
	if Elapsed(now, s.watchdogStart.Add(EVSEStopTimeout)) {
		r.StopEVSE = true
		s.watchdogStart = now
	}
	if evse.ChargerState != Charging {
		var next TickResult
		if s.requestedPhasesPending != 0 && !contactorError {
			next = s.setState(now, PausingWhileSwitching)
		} else {
			s.requestedPhases = s.requestedPhasesPending
			next = s.setState(now, Standby)
		}
		next.StopEVSE = r.StopEVSE
		return next
	}
	return r
}

func (s *Sequencer) stepPausingWhileSwitching(cfg Config, now time.Time) TickResult {
	if Elapsed(now, s.lastStateChange.Add(cfg.PauseTime)) {
		s.requestedPhases = s.requestedPhasesPending
		r := s.setState(now, WaitingForEVSEStart)
		ma := DeriveCurrentMilliamps(s.availablePowerW, s.requestedPhases)
		r.CurrentMA = &ma
		return r
	}
	return TickResult{}
}

func (s *Sequencer) stepStoppedByEVSE(now time.Time, evse EVSEState) TickResult {
	var r TickResult
	switch {
	case s.quickChargingActive:
		r = s.setState(now, Standby)
	case evse.ChargerState == Charging:
		r = s.setState(now, Active)
	}
	s.requestedPhases = s.requestedPhasesPending
	return r
}

// ForceTransition is used by the contactor supervisor to push the
// sequencer into a safe state outside its normal transition table.
func (s *Sequencer) ForceTransition(now time.Time, next SequencerState) TickResult {
	return s.setState(now, next)
}
