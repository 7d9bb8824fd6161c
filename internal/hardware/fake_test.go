package hardware

import (
	"testing"
	"time"
)

func TestFakeRelaySetSteadyTracksState(t *testing.T) {
	r := NewFakeRelay()
	if err := r.SetSteady(1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Steady[1] {
		t.Error("expected channel 1 steady on")
	}
}

func TestFakeRelayMonoflopClearsSteady(t *testing.T) {
	r := NewFakeRelay()
	r.SetSteady(2, true)
	r.SetMonoflop(2, true, 2*time.Second)
	if r.Steady[2] {
		t.Error("expected steady state cleared once monoflop set")
	}
	if !r.Monoflop[2] {
		t.Error("expected monoflop channel 2 on")
	}
}

func TestFakeRelayRecordsCallsInOrder(t *testing.T) {
	r := NewFakeRelay()
	r.SetSteady(1, true)
	r.SetMonoflop(2, true, time.Second)
	if len(r.Calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(r.Calls))
	}
	if r.Calls[1].Monoflop != true || r.Calls[1].Duration != time.Second {
		t.Errorf("unexpected second call: %+v", r.Calls[1])
	}
}

func TestFakeDigitalInDefaultsLow(t *testing.T) {
	d := NewFakeDigitalIn()
	got, err := d.Read(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("expected default low reading")
	}
}

func TestFakeDigitalInSettable(t *testing.T) {
	d := NewFakeDigitalIn()
	d.Values[3] = true
	got, _ := d.Read(3)
	if !got {
		t.Error("expected high reading after setting value")
	}
}
