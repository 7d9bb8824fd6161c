package logic

import "testing"

func TestShapeOutputsAllOffWhenRelayOutputFalse(t *testing.T) {
	out := ShapeOutputs(3, false, false, true)
	for i := 1; i <= 3; i++ {
		if out[i] != (ChannelCommand{}) {
			t.Errorf("channel %d expected off, got %+v", i, out[i])
		}
	}
}

func TestShapeOutputsAllOffOnContactorError(t *testing.T) {
	out := ShapeOutputs(3, true, true, true)
	for i := 1; i <= 3; i++ {
		if out[i] != (ChannelCommand{}) {
			t.Errorf("channel %d expected off on contactor error, got %+v", i, out[i])
		}
	}
}

func TestShapeOutputsBypassWhenDisabled(t *testing.T) {
	out := ShapeOutputs(0, true, false, false)
	for i := 1; i <= 3; i++ {
		if !out[i].On {
			t.Errorf("channel %d expected bypass-on, got %+v", i, out[i])
		}
	}
}

func TestShapeOutputsCommittedPhases(t *testing.T) {
	out := ShapeOutputs(2, true, false, true)
	if !out[1].On || !out[2].On {
		t.Fatal("expected channels 1 and 2 on")
	}
	if !out[3].Steady {
		t.Fatal("expected channel 3 held steady, not switched")
	}
	if out[3].On {
		t.Fatal("channel above committed count must not be commanded on")
	}
}

func TestShapeOutputsZeroCommittedAllSteady(t *testing.T) {
	out := ShapeOutputs(0, true, false, true)
	for i := 1; i <= 3; i++ {
		if !out[i].Steady || out[i].On {
			t.Errorf("channel %d expected steady-off, got %+v", i, out[i])
		}
	}
}
