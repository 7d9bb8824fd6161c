package logic

import "time"

// ButtonWatcher detects a physical quick-charge button press held for at
// least QuickChargeButtonHoldTime, grounded on the original firmware's
// handle_button (a hold-time-armed one-shot trigger keyed off the
// button GPIO going low again to re-arm).
type ButtonWatcher struct {
	pressedSince time.Time
	triggered    bool
}

// Update feeds one sample of the button's raw (active-high) state and
// reports whether this sample is the one that crosses the hold threshold.
func (b *ButtonWatcher) Update(now time.Time, pressed bool) (trigger bool) {
	if !pressed {
		b.pressedSince = time.Time{}
		b.triggered = false
		return false
	}
	if b.pressedSince.IsZero() {
		b.pressedSince = now
		return false
	}
	if !b.triggered && Elapsed(now, b.pressedSince.Add(QuickChargeButtonHoldTime)) {
		b.triggered = true
		return true
	}
	return false
}
