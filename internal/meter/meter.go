// Package meter abstracts reading the instantaneous power draw of the
// vehicle's charging circuit from an external energy meter, replacing
// the original firmware's bricklet-based meter/values state.
package meter

// Reader is the facade the switcher core polls once per tick. ok is
// false when no reading is available yet (meter offline, not yet
// configured) — distinct from a zero reading.
type Reader interface {
	ReadPowerWatts() (watts float64, ok bool, err error)
}
