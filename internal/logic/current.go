package logic

// DeriveCurrentMilliamps computes the EVSE external-current override for
// a given available power split across n committed phases, clamped to
// [MinCurrentMA, MaxCurrentMA]. n == 0 always yields 0.
func DeriveCurrentMilliamps(availablePowerW uint16, phases uint8) uint32 {
	if phases == 0 {
		return 0
	}

	mA := uint32(availablePowerW) * 1000 / NominalVoltage / uint32(phases)

	if mA < MinCurrentMA {
		return MinCurrentMA
	}
	if mA > MaxCurrentMA {
		return MaxCurrentMA
	}
	return mA
}
