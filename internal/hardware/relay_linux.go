//go:build linux

package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// gpioRelay drives the phase contactors via the Linux GPIO character
// device, grounded on a chip + per-line request pattern, generalized
// from input lines to output lines with a software monoflop.
type gpioRelay struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line

	mu     sync.Mutex
	timers map[int]*time.Timer
}

// NewGPIORelay opens output lines for the three relay channels.
func NewGPIORelay() (Relay, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	pins := map[int]int{1: PinRelay1, 2: PinRelay2, 3: PinRelay3}
	lines := make(map[int]*gpiocdev.Line, len(pins))
	for ch, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			for _, l := range lines {
				l.Close()
			}
			chip.Close()
			return nil, fmt.Errorf("request relay channel %d pin %d: %w", ch, pin, err)
		}
		lines[ch] = line
	}

	return &gpioRelay{
		chip:   chip,
		lines:  lines,
		timers: make(map[int]*time.Timer),
	}, nil
}

// SetSteady implements Relay.
func (r *gpioRelay) SetSteady(channel int, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelTimerLocked(channel)
	return r.setLine(channel, on)
}

// SetMonoflop implements Relay.
func (r *gpioRelay) SetMonoflop(channel int, on bool, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !on {
		r.cancelTimerLocked(channel)
		return r.setLine(channel, false)
	}

	if err := r.setLine(channel, true); err != nil {
		return err
	}
	r.cancelTimerLocked(channel)
	r.timers[channel] = time.AfterFunc(duration, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.setLine(channel, false)
		delete(r.timers, channel)
	})
	return nil
}

// Read implements Relay.
func (r *gpioRelay) Read(channel int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line, ok := r.lines[channel]
	if !ok {
		return false, fmt.Errorf("relay: unknown channel %d", channel)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read relay channel %d: %w", channel, err)
	}
	return v != 0, nil
}

func (r *gpioRelay) cancelTimerLocked(channel int) {
	if t, ok := r.timers[channel]; ok {
		t.Stop()
		delete(r.timers, channel)
	}
}

func (r *gpioRelay) setLine(channel int, on bool) error {
	line, ok := r.lines[channel]
	if !ok {
		return fmt.Errorf("relay: unknown channel %d", channel)
	}
	v := 0
	if on {
		v = 1
	}
	return line.SetValue(v)
}

// Close implements Relay.
func (r *gpioRelay) Close() error {
	r.mu.Lock()
	for ch := range r.timers {
		r.cancelTimerLocked(ch)
	}
	r.mu.Unlock()

	var firstErr error
	for _, l := range r.lines {
		if err := l.SetValue(0); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.chip.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
