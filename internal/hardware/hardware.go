// Package hardware provides relay and digital-input abstraction for the
// contactor outputs and phase-feedback inputs. The real implementation
// uses the Linux GPIO character device; other platforms get a stub.
package hardware

import "time"

// Relay drives the three phase contactors (channels 1..3). SetSteady
// drives the line directly; SetMonoflop is a software realization of
// the original firmware bricklet's hardware monoflop — the line goes
// high and falls low again after duration unless refreshed by another
// SetMonoflop call first.
type Relay interface {
	SetSteady(channel int, on bool) error
	SetMonoflop(channel int, on bool, duration time.Duration) error
	// Read reports the relay's actual driven output for channel, used by
	// the contactor supervisor as the "commanded" side of its per-phase
	// comparison.
	Read(channel int) (bool, error)
	Close() error
}

// DigitalIn reads the phase 2/3 contactor feedback inputs (channels
// 2..3; phase 1 has no feedback line here — its feedback comes from the
// EVSE's contactor_state instead).
type DigitalIn interface {
	Read(channel int) (bool, error)
	Close() error
}

// Pin definitions (BCM numbering), generalized from a two-relay naming
// convention to three relay channels and two feedback inputs.
const (
	PinRelay1 = 5
	PinRelay2 = 6
	PinRelay3 = 13

	PinFeedback2 = 19
	PinFeedback3 = 26
)
