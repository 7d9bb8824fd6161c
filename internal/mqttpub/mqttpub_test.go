package mqttpub

import (
	"encoding/json"
	"testing"
	"time"

	"fenwick-energy/phase-switcher/internal/logic"
)

func TestFormatTransitionPayload(t *testing.T) {
	snap := Snapshot{
		Timestamp:       time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC),
		RequestedPhases: 3,
		SessionID:       "abc-123",
	}
	payload, err := FormatTransitionPayload(logic.Standby, logic.WaitingForEVSEStart, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed eventPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.PhaseSwitcher.From != "standby" || parsed.PhaseSwitcher.To != "waiting_for_evse_start" {
		t.Errorf("unexpected from/to: %+v", parsed.PhaseSwitcher)
	}
	if parsed.PhaseSwitcher.RequestedPhases != 3 {
		t.Errorf("unexpected requested_phases: %d", parsed.PhaseSwitcher.RequestedPhases)
	}
	if parsed.PhaseSwitcher.SessionID != "abc-123" {
		t.Errorf("unexpected session id: %s", parsed.PhaseSwitcher.SessionID)
	}
}

func TestFormatTelemetryPayload(t *testing.T) {
	snap := Snapshot{
		Timestamp:       time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC),
		State:           logic.Active,
		RequestedPhases: 2,
		AvailablePowerW: 4000,
		ChargingPowerW:  3721.5,
		ContactorError:  false,
	}
	payload, err := FormatTelemetryPayload(snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed telemetryPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.PhaseSwitcher.State != "active" {
		t.Errorf("unexpected state: %s", parsed.PhaseSwitcher.State)
	}
	if parsed.PhaseSwitcher.AvailablePowerW != 4000 {
		t.Errorf("unexpected available power: %d", parsed.PhaseSwitcher.AvailablePowerW)
	}
}

func TestFakePublisherRecordsCalls(t *testing.T) {
	f := NewFakePublisher()
	snap := Snapshot{RequestedPhases: 1}

	if err := f.PublishTransition(logic.Inactive, logic.Standby, snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishTelemetry(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.Transitions) != 1 || len(f.Telemetry) != 1 {
		t.Fatalf("expected one recorded transition and one telemetry snapshot, got %d/%d", len(f.Transitions), len(f.Telemetry))
	}
	if f.Transitions[0].To != logic.Standby {
		t.Errorf("unexpected recorded transition: %+v", f.Transitions[0])
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.PublishTelemetry(Snapshot{})
	f.Close()
	f.Reset()
	if len(f.Telemetry) != 0 || f.Closed {
		t.Fatal("expected reset to clear recorded state")
	}
}
