package telemetry

import (
	"bytes"
	"strconv"
)

// HistorySeries is a fixed-length, oldest-first sample series that
// marshals the unknown sentinel as JSON null instead of -1.
type HistorySeries []int16

// MarshalJSON implements json.Marshaler.
func (h HistorySeries) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		if v == unknown {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Recorder owns the three named history rings the API's history
// endpoints read from: requested power, measured charging power, and
// committed phase count. The scheduler calls PushOnce once a minute;
// nothing else writes to these rings.
type Recorder struct {
	requestedPower  *Ring
	chargingPower   *Ring
	phasesCommitted *Ring
}

// NewRecorder creates a Recorder with all three rings sentinel-filled.
func NewRecorder() *Recorder {
	return &Recorder{
		requestedPower:  NewRing(),
		chargingPower:   NewRing(),
		phasesCommitted: NewRing(),
	}
}

// phaseScaleWatts is the per-phase scaling factor applied to the
// committed phase count (230V × 6A) so it plots on the same axis as
// the power rings, matching phase_switcher.cpp's
// `requested_phases * 230 * 6`.
const phaseScaleWatts = 230 * 6

// PushOnce appends one sample to each ring. requestedW and chargingW are
// clamped to int16 range before storage — no real installation exceeds
// ~32kW split across three phases, so this never truncates a real
// reading. phasesCommitted is the raw 0..3 phase count; it is scaled by
// phaseScaleWatts before storage.
func (r *Recorder) PushOnce(requestedW uint16, chargingW float64, phasesCommitted uint8) {
	r.requestedPower.Push(clampToInt16(float64(requestedW)))
	r.chargingPower.Push(clampToInt16(chargingW))
	r.phasesCommitted.Push(int16(phasesCommitted) * phaseScaleWatts)
}

func clampToInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// RequestedPowerHistory returns the requested-power series, oldest first.
func (r *Recorder) RequestedPowerHistory() HistorySeries {
	return HistorySeries(r.requestedPower.Snapshot())
}

// ChargingPowerHistory returns the measured charging-power series.
func (r *Recorder) ChargingPowerHistory() HistorySeries {
	return HistorySeries(r.chargingPower.Snapshot())
}

// RequestedPhasesHistory returns the committed-phases series. Named for
// wire compatibility with the original firmware's
// requested_phases_history endpoint even though the values it carries
// are the committed phase count, not a pending request (design-note
// ambiguity #3 — kept, not fixed).
func (r *Recorder) RequestedPhasesHistory() HistorySeries {
	return HistorySeries(r.phasesCommitted.Snapshot())
}
