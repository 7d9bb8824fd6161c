// Package mqttpub publishes sequencer state transitions and periodic
// telemetry snapshots to MQTT, generalized from a boiler on/off event
// publisher into phase-switcher sequencer transitions and snapshots.
// Not present in the original firmware; added because every
// charger/meter example in the pack publishes over MQTT.
package mqttpub

import (
	"encoding/json"
	"time"

	"fenwick-energy/phase-switcher/internal/logic"
)

// TopicEvents is the MQTT topic for sequencer state-change events.
const TopicEvents = "phase_switcher/events"

// TopicTelemetry is the MQTT topic for periodic telemetry snapshots.
const TopicTelemetry = "phase_switcher/telemetry"

// Snapshot is the point-in-time view published on both topics.
type Snapshot struct {
	Timestamp       time.Time
	State           logic.SequencerState
	RequestedPhases uint8
	AvailablePowerW uint16
	ChargingPowerW  float64
	ContactorError  bool
	SessionID       string
}

// Publisher publishes sequencer events to MQTT.
type Publisher interface {
	// PublishTransition sends a state-change event to the broker.
	PublishTransition(from, to logic.SequencerState, snap Snapshot) error

	// PublishTelemetry sends a periodic snapshot to the broker.
	PublishTelemetry(snap Snapshot) error

	// Close disconnects from the broker.
	Close() error
}

// eventPayload is the JSON wire shape for phase_switcher/events.
type eventPayload struct {
	PhaseSwitcher eventPayloadInner `json:"phase_switcher"`
}

type eventPayloadInner struct {
	Timestamp       string `json:"timestamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	RequestedPhases uint8  `json:"requested_phases"`
	SessionID       string `json:"session_id,omitempty"`
}

// telemetryPayload is the JSON wire shape for phase_switcher/telemetry.
type telemetryPayload struct {
	PhaseSwitcher telemetryPayloadInner `json:"phase_switcher"`
}

type telemetryPayloadInner struct {
	Timestamp       string  `json:"timestamp"`
	State           string  `json:"state"`
	RequestedPhases uint8   `json:"requested_phases"`
	AvailablePowerW uint16  `json:"available_power_w"`
	ChargingPowerW  float64 `json:"charging_power_w"`
	ContactorError  bool    `json:"contactor_error"`
}

// FormatTransitionPayload builds the JSON payload for a state transition.
func FormatTransitionPayload(from, to logic.SequencerState, snap Snapshot) ([]byte, error) {
	return json.Marshal(eventPayload{
		PhaseSwitcher: eventPayloadInner{
			Timestamp:       snap.Timestamp.UTC().Format(time.RFC3339),
			From:            from.String(),
			To:              to.String(),
			RequestedPhases: snap.RequestedPhases,
			SessionID:       snap.SessionID,
		},
	})
}

// FormatTelemetryPayload builds the JSON payload for a telemetry snapshot.
func FormatTelemetryPayload(snap Snapshot) ([]byte, error) {
	return json.Marshal(telemetryPayload{
		PhaseSwitcher: telemetryPayloadInner{
			Timestamp:       snap.Timestamp.UTC().Format(time.RFC3339),
			State:           snap.State.String(),
			RequestedPhases: snap.RequestedPhases,
			AvailablePowerW: snap.AvailablePowerW,
			ChargingPowerW:  snap.ChargingPowerW,
			ContactorError:  snap.ContactorError,
		},
	})
}
