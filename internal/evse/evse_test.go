package evse

import (
	"testing"

	"fenwick-energy/phase-switcher/internal/logic"
)

func TestClampCurrentEnforcesBounds(t *testing.T) {
	if got := ClampCurrent(1000); got != logic.MinCurrentMA {
		t.Errorf("expected clamp to min, got %d", got)
	}
	if got := ClampCurrent(50000); got != logic.MaxCurrentMA {
		t.Errorf("expected clamp to max, got %d", got)
	}
	if got := ClampCurrent(10000); got != 10000 {
		t.Errorf("expected passthrough, got %d", got)
	}
	if got := ClampCurrent(0); got != 0 {
		t.Errorf("expected 0 mA to pass through uncorrected, got %d", got)
	}
}

func TestFakeClientScriptedPollsRepeatLast(t *testing.T) {
	f := NewFakeClient([]State{
		{ChargerState: logic.WaitingForChargeRelease},
		{ChargerState: logic.Charging},
	})

	s1, _ := f.Poll()
	if s1.ChargerState != logic.WaitingForChargeRelease {
		t.Fatalf("unexpected first state: %+v", s1)
	}
	s2, _ := f.Poll()
	if s2.ChargerState != logic.Charging {
		t.Fatalf("unexpected second state: %+v", s2)
	}
	s3, _ := f.Poll()
	if s3.ChargerState != logic.Charging {
		t.Fatalf("expected repeat of last scripted state, got %+v", s3)
	}
}

func TestFakeClientRecordsCommands(t *testing.T) {
	f := NewFakeClient(nil)
	f.StartCharging()
	f.StopCharging()
	f.SetExternalCurrent(1000)

	if f.StartCalls != 1 || f.StopCalls != 1 {
		t.Fatalf("expected one start and one stop call, got %d/%d", f.StartCalls, f.StopCalls)
	}
	if len(f.CurrentCalls) != 1 || f.CurrentCalls[0] != logic.MinCurrentMA {
		t.Fatalf("expected clamped current call recorded, got %+v", f.CurrentCalls)
	}
}

func TestStateAsEVSEState(t *testing.T) {
	s := State{
		ChargerState:      logic.Charging,
		IEC61851State:     logic.StateC,
		AutoStartCharging: true,
		ContactorState:    3,
		ButtonPressed:     true,
	}
	got := s.AsEVSEState()
	want := logic.EVSEState{
		ChargerState:      logic.Charging,
		IEC61851State:     logic.StateC,
		AutoStartCharging: true,
		ContactorState:    3,
		ButtonPressed:     true,
	}
	if got != want {
		t.Errorf("AsEVSEState() = %+v, want %+v", got, want)
	}
}
