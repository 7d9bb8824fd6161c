package logic

import (
	"testing"
	"time"
)

// TestScenarioS5ContactorMismatchLatches implements spec scenario S5.
func TestScenarioS5ContactorMismatchLatches(t *testing.T) {
	c := NewContactorSupervisor()
	now := t0()

	commanded := [4]bool{false, true, true, true}
	observed := [4]bool{false, true, true, false} // phase 3 stuck open

	raised, phase := c.Check(now, commanded, observed, false)
	if raised {
		t.Fatal("must not raise before the debounce window elapses")
	}
	if c.Latched() {
		t.Fatal("must not be latched yet")
	}

	now = now.Add(ContactorDebounce - time.Millisecond)
	raised, _ = c.Check(now, commanded, observed, false)
	if raised {
		t.Fatal("must not raise one tick before the debounce window elapses")
	}

	now = now.Add(2 * time.Millisecond)
	raised, phase = c.Check(now, commanded, observed, false)
	if !raised {
		t.Fatal("expected the fault to raise once the debounce window elapses")
	}
	if phase != 3 {
		t.Errorf("expected faulted phase 3, got %d", phase)
	}
	if !c.Latched() {
		t.Fatal("expected the latch to be set")
	}
}

func TestContactorLatchClearsOnlyWhenNotConnectedAndClean(t *testing.T) {
	c := NewContactorSupervisor()
	now := t0()
	commanded := [4]bool{false, true, true, true}
	observed := [4]bool{false, true, true, false}

	// The first Check primes the watchdog; the latch needs a mismatch that
	// persists past ContactorDebounce after that.
	c.Check(now, commanded, observed, false)
	now = now.Add(ContactorDebounce + time.Second)
	c.Check(now, commanded, observed, false)
	if !c.Latched() {
		t.Fatal("expected latch set")
	}

	// Still mismatched: not-connected alone must not clear it.
	c.Check(now, commanded, observed, true)
	if !c.Latched() {
		t.Fatal("mismatch present: not-connected alone must not clear the latch")
	}

	// Clean but still connected: must not clear either.
	clean := [4]bool{false, true, true, true}
	c.Check(now, clean, clean, false)
	if !c.Latched() {
		t.Fatal("clean readings while still connected must not clear the latch")
	}

	// Clean AND not connected: now it clears.
	c.Check(now, clean, clean, true)
	if c.Latched() {
		t.Fatal("expected the latch to clear once clean and not connected")
	}
}

func TestContactorDebounceResetsOnTransientMatch(t *testing.T) {
	c := NewContactorSupervisor()
	now := t0()
	commanded := [4]bool{false, true, true, true}
	mismatch := [4]bool{false, true, true, false}
	clean := [4]bool{false, true, true, true}

	now = now.Add(ContactorDebounce - time.Millisecond)
	c.Check(now, commanded, mismatch, false)

	// A transient match on phase 3 resets its watchdog.
	now = now.Add(time.Millisecond)
	c.Check(now, commanded, clean, false)

	now = now.Add(ContactorDebounce - time.Millisecond)
	raised, _ := c.Check(now, commanded, mismatch, false)
	if raised {
		t.Fatal("watchdog should have reset on the transient match; must not raise yet")
	}
}

func TestSafeStateForRoutesActiveStatesToWaitingForEVSEStop(t *testing.T) {
	cases := []SequencerState{WaitingForEVSEStart, Active, QuickCharging}
	for _, s := range cases {
		target, force := SafeStateFor(s)
		if !force || target != WaitingForEVSEStop {
			t.Errorf("SafeStateFor(%v) = (%v, %v), want (waiting_for_evse_stop, true)", s, target, force)
		}
	}
}

func TestSafeStateForInactiveDoesNotForce(t *testing.T) {
	target, force := SafeStateFor(Inactive)
	if force {
		t.Errorf("SafeStateFor(inactive) must not force a transition, got target=%v", target)
	}
}

func TestSafeStateForWaitingForEVSEStopDoesNotForce(t *testing.T) {
	target, force := SafeStateFor(WaitingForEVSEStop)
	if force {
		t.Errorf("SafeStateFor(waiting_for_evse_stop) must not re-force itself, got target=%v", target)
	}
}

// TestPropertyContactorErrorMeansNoRelayOn verifies that for any tick
// with contactor_error == true, every commanded channel from
// ShapeOutputs must be off, regardless of the committed phase count.
func TestPropertyContactorErrorMeansNoRelayOn(t *testing.T) {
	for committed := uint8(0); committed <= 3; committed++ {
		for _, relayOut := range []bool{true, false} {
			out := ShapeOutputs(committed, relayOut, true, true)
			for i := 1; i <= 3; i++ {
				if out[i].On {
					t.Fatalf("committed=%d relayOut=%v: channel %d commanded on despite contactor_error", committed, relayOut, i)
				}
			}
		}
	}
}
