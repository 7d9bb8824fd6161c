// Package switcher owns the phase switcher's core runtime value: the
// wiring between the pure state machines in internal/logic and the
// EVSE/meter/hardware/MQTT collaborators that actually talk to the
// outside world. It is the only package (besides tests) that drives the
// logic package's Sequencer and ContactorSupervisor.
package switcher

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fenwick-energy/phase-switcher/internal/evse"
	"fenwick-energy/phase-switcher/internal/hardware"
	"fenwick-energy/phase-switcher/internal/logic"
	"fenwick-energy/phase-switcher/internal/meter"
	"fenwick-energy/phase-switcher/internal/mqttpub"
	"fenwick-energy/phase-switcher/internal/telemetry"
)

// ErrRejected is returned by SetAvailablePower when the command is
// rejected in the current state: while the switcher is disabled or a
// quick-charge session is active.
var ErrRejected = errors.New("switcher: command rejected in current state")

// Deps are the collaborators a Switcher drives. All fields except Log
// are required (a nil Log falls back to the standard logger); Publisher
// and Meter may be fakes in tests.
type Deps struct {
	EVSE      evse.Client
	Meter     meter.Reader
	Relay     hardware.Relay
	DigitalIn hardware.DigitalIn
	Publisher mqttpub.Publisher
	Recorder  *telemetry.Recorder
	Log       logrus.FieldLogger
}

// StateSnapshot is the read-only view published on the state endpoint,
// over MQTT, and over the websocket, matching the periodic publish task
// and phase_switcher.cpp:update_all_data.
type StateSnapshot struct {
	AvailablePowerW        uint16
	RequestedPhases        uint8
	RequestedPhasesPending uint8
	ActivePhases           uint8
	SequencerState         logic.SequencerState
	TimeSinceStateChangeS  int64
	DelayTimeS             int64
	ContactorError         bool
	QuickChargingActive    bool
	SessionID              string
}

// Switcher is the owning value for one phase switcher instance. It is
// not safe for concurrent use: Tick, SetAvailablePower, StartQuickCharging,
// Snapshot, and Reload must all be called from the same goroutine (the
// scheduler's).
type Switcher struct {
	deps Deps

	configInUse logic.Config

	sequencer *logic.Sequencer
	contactor *logic.ContactorSupervisor
	button    *logic.ButtonWatcher

	state logic.RuntimeState

	sessionID string

	lastEVSE     evse.State
	lastCommand  [4]bool
	lastObserved [4]bool

	moduleDisabled bool

	log logrus.FieldLogger
}

// New creates a Switcher starting in the inactive state with cfg as its
// initial in-use configuration.
func New(now time.Time, cfg logic.Config, deps Deps) *Switcher {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Switcher{
		deps:        deps,
		configInUse: cfg,
		sequencer:   logic.NewSequencer(now),
		contactor:   logic.NewContactorSupervisor(),
		button:      &logic.ButtonWatcher{},
		log:         log.WithField("component", "switcher"),
	}
}

// Tick runs one 250ms scheduling cycle in a fixed order: EVSE signal
// poll (which also carries the button line), button, sequencer, output
// shaper, contactor supervisor. A failed EVSE poll is logged and skips
// the whole tick; a failed relay command, relay read, or digital-in read
// is logged and the tick carries on, with a failed read counting as off
// for that channel. No error propagates to the caller.
func (s *Switcher) Tick(now time.Time) {
	st, err := s.deps.EVSE.Poll()
	if err != nil {
		s.log.WithError(err).Warn("evse poll failed, skipping tick")
		return
	}
	s.lastEVSE = st
	evseState := st.AsEVSEState()

	if s.button.Update(now, st.ButtonPressed) {
		s.startQuickCharging(now)
	}

	result := s.sequencer.Tick(s.configInUse, now, evseState, s.state.ContactorError)
	s.applyTickResult(now, result)

	s.state.RequestedPhases = s.sequencer.RequestedPhases()
	s.state.RequestedPhasesPending = s.sequencer.RequestedPhasesPending()
	s.state.QuickChargingActive = s.sequencer.QuickChargingActive()

	cmds := logic.ShapeOutputs(s.state.RequestedPhases, evseState.RelayOutput, s.state.ContactorError, s.configInUse.Enabled)
	s.driveRelays(cmds)

	s.lastCommand = s.readCommanded()
	s.lastObserved = s.readObserved(evseState)
	chargerNotConnected := evseState.ChargerState == logic.NotConnected
	raised, faultedPhase := s.contactor.Check(now, s.lastCommand, s.lastObserved, chargerNotConnected)
	s.state.ContactorError = s.contactor.Latched()
	if raised {
		s.log.WithField("phase", faultedPhase).Error("contactor mismatch latched")
	}

	if s.state.ContactorError {
		if target, force := logic.SafeStateFor(s.sequencer.State()); force {
			s.applyTickResult(now, s.sequencer.ForceTransition(now, target))
		}
	}
}

func (s *Switcher) applyTickResult(now time.Time, r logic.TickResult) {
	if r.Transitioned {
		if r.From == logic.Standby && r.To == logic.WaitingForEVSEStart {
			s.sessionID = uuid.NewString()
		}
		s.log.WithFields(logrus.Fields{
			"from":       r.From,
			"to":         r.To,
			"session_id": s.sessionID,
		}).Info("sequencer transition")

		snap := s.mqttSnapshot(now)
		if err := s.deps.Publisher.PublishTransition(r.From, r.To, snap); err != nil {
			s.log.WithError(err).Warn("publish transition failed")
		}
	}
	if r.StartEVSE {
		if err := s.deps.EVSE.StartCharging(); err != nil {
			s.log.WithError(err).Warn("evse start_charging failed")
		}
	}
	if r.StopEVSE {
		if err := s.deps.EVSE.StopCharging(); err != nil {
			s.log.WithError(err).Warn("evse stop_charging failed")
		}
	}
	if r.CurrentMA != nil {
		if err := s.deps.EVSE.SetExternalCurrent(evse.ClampCurrent(*r.CurrentMA)); err != nil {
			s.log.WithError(err).Warn("evse set_external_current failed")
		}
	}
}

func (s *Switcher) driveRelays(cmds [4]logic.ChannelCommand) {
	for ch := 1; ch <= 3; ch++ {
		cmd := cmds[ch]
		var err error
		if cmd.On && !cmd.Steady {
			err = s.deps.Relay.SetMonoflop(ch, true, logic.MonoflopDuration)
		} else {
			err = s.deps.Relay.SetSteady(ch, false)
		}
		if err != nil {
			s.log.WithError(err).WithField("channel", ch).Warn("relay command failed")
		}
	}
}

func (s *Switcher) readCommanded() (out [4]bool) {
	for ch := 1; ch <= 3; ch++ {
		v, err := s.deps.Relay.Read(ch)
		if err != nil {
			s.log.WithError(err).WithField("channel", ch).Warn("relay read failed")
			continue
		}
		out[ch] = v
	}
	return out
}

func (s *Switcher) readObserved(evseState logic.EVSEState) (out [4]bool) {
	out[1] = evseState.ContactorState == 3
	for ch := 2; ch <= 3; ch++ {
		v, err := s.deps.DigitalIn.Read(ch)
		if err != nil {
			s.log.WithError(err).WithField("channel", ch).Warn("digital-in read failed")
			continue
		}
		out[ch] = v
	}
	return out
}

// SetAvailablePower is the deferred handler for the
// available_charging_power command. It is rejected while disabled or
// while a quick-charge session is active.
func (s *Switcher) SetAvailablePower(now time.Time, powerW uint16) error {
	if !s.configInUse.Enabled || s.state.QuickChargingActive {
		return ErrRejected
	}
	s.state.AvailablePowerW = powerW
	currentMA := s.sequencer.SetAvailablePower(s.configInUse, now, powerW)
	if err := s.deps.EVSE.SetExternalCurrent(evse.ClampCurrent(currentMA)); err != nil {
		s.log.WithError(err).Warn("evse set_external_current failed")
		return err
	}
	return nil
}

// StartQuickCharging is the deferred handler for both the physical
// button (via Tick) and the start_quick_charging command. It is
// idempotent: calling it while already quick-charging or outside a
// permitted sequencer state is a silent no-op.
func (s *Switcher) StartQuickCharging(now time.Time) (accepted bool) {
	return s.startQuickCharging(now)
}

func (s *Switcher) startQuickCharging(now time.Time) (accepted bool) {
	accepted, currentMA := s.sequencer.StartQuickCharging(s.configInUse)
	if !accepted {
		return false
	}
	s.state.QuickChargingActive = true
	if err := s.deps.EVSE.SetExternalCurrent(evse.ClampCurrent(currentMA)); err != nil {
		s.log.WithError(err).Warn("evse set_external_current failed")
	}
	return true
}

// Reload re-captures configInUse from cfg. Edits made through the
// config API only reach the running sequencer through an explicit
// Reload call — never mid-tick, since Tick and Reload never run
// concurrently. A module disabled at startup by DisableModule stays
// disabled across every subsequent Reload: there is no config edit
// that brings the meter back.
func (s *Switcher) Reload(cfg logic.Config) {
	if s.moduleDisabled {
		cfg.Enabled = false
	}
	s.configInUse = cfg
}

// DisableModule latches the switcher permanently disabled, matching
// phase_switcher.cpp:setup's early return when the energy meter is not
// available at boot: the whole module is taken out of service rather
// than left to fail on every subsequent tick.
func (s *Switcher) DisableModule() {
	s.moduleDisabled = true
	s.configInUse.Enabled = false
}

// ConfigInUse returns the configuration snapshot currently governing the
// sequencer. (GET /phase_switcher/config reads the persisted file
// through config.Store instead.)
func (s *Switcher) ConfigInUse() logic.Config {
	return s.configInUse
}

// Snapshot builds the state view for the state endpoint, MQTT publish,
// and websocket push, grounded on phase_switcher.cpp:update_all_data.
func (s *Switcher) Snapshot(now time.Time) StateSnapshot {
	committed := s.sequencer.RequestedPhases()
	pending := s.sequencer.RequestedPhasesPending()

	var delayS int64
	switch {
	case pending > committed:
		delayS = cappedSeconds(now.Sub(s.sequencer.LastPhaseRequestChange()), s.configInUse.DelayUp)
	case pending < committed:
		delayS = cappedSeconds(now.Sub(s.sequencer.LastPhaseRequestChange()), s.configInUse.DelayDown)
	}

	return StateSnapshot{
		AvailablePowerW:        s.state.AvailablePowerW,
		RequestedPhases:        committed,
		RequestedPhasesPending: pending,
		ActivePhases:           activePhasesFrom(s.lastObserved),
		SequencerState:         s.sequencer.State(),
		TimeSinceStateChangeS:  int64(now.Sub(s.sequencer.LastStateChange()).Seconds()),
		DelayTimeS:             delayS,
		ContactorError:         s.state.ContactorError,
		QuickChargingActive:    s.sequencer.QuickChargingActive(),
		SessionID:              s.sessionID,
	}
}

// PublishSnapshot publishes the current snapshot to MQTT; the scheduler
// calls this on its 250ms+10ms offset task. Websocket subscribers are
// fed separately, by api.Server.BroadcastSnapshot.
func (s *Switcher) PublishSnapshot(now time.Time) {
	if err := s.deps.Publisher.PublishTelemetry(s.mqttSnapshot(now)); err != nil {
		s.log.WithError(err).Warn("publish snapshot failed")
	}
}

// RecordTelemetry appends one sample to the telemetry rings; the
// scheduler calls this on its 60s+20ms offset task.
func (s *Switcher) RecordTelemetry(now time.Time) {
	chargingW, ok, err := s.deps.Meter.ReadPowerWatts()
	if err != nil {
		s.log.WithError(err).Warn("meter read failed")
	}
	if !ok {
		chargingW = -1
	}
	s.deps.Recorder.PushOnce(s.state.AvailablePowerW, chargingW, s.state.RequestedPhases)
}

func (s *Switcher) mqttSnapshot(now time.Time) mqttpub.Snapshot {
	chargingW, ok, _ := s.deps.Meter.ReadPowerWatts()
	if !ok {
		chargingW = -1
	}
	return mqttpub.Snapshot{
		Timestamp:       now,
		State:           s.sequencer.State(),
		RequestedPhases: s.sequencer.RequestedPhases(),
		AvailablePowerW: s.state.AvailablePowerW,
		ChargingPowerW:  chargingW,
		ContactorError:  s.state.ContactorError,
		SessionID:       s.sessionID,
	}
}

func cappedSeconds(elapsed, bound time.Duration) int64 {
	e := int64(elapsed / time.Second)
	if e < 0 {
		return 0
	}
	b := int64(bound / time.Second)
	if e > b {
		return b
	}
	return e
}

func activePhasesFrom(observed [4]bool) uint8 {
	switch {
	case observed[1] && observed[2] && observed[3]:
		return 3
	case observed[1] && observed[2]:
		return 2
	case observed[1]:
		return 1
	default:
		return 0
	}
}
