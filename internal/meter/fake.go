package meter

// FakeReader is a settable test double for Reader.
type FakeReader struct {
	Watts     float64
	Available bool
	Err       error

	Reads int
}

// NewFakeReader creates a FakeReader reporting the given wattage.
func NewFakeReader(watts float64, available bool) *FakeReader {
	return &FakeReader{Watts: watts, Available: available}
}

// ReadPowerWatts implements Reader.
func (f *FakeReader) ReadPowerWatts() (float64, bool, error) {
	f.Reads++
	if f.Err != nil {
		return 0, false, f.Err
	}
	return f.Watts, f.Available, nil
}
