package logic

// Power thresholds derived from nominal voltage, minimum current, and
// per-phase maximum current.
const (
	minPowerOnePhase   = 6 * NominalVoltage
	minPowerTwoPhases  = 2 * minPowerOnePhase
	minPowerThreePhases = 3 * minPowerOnePhase

	maxPowerOnePhase  = MaxCurrentPerPhaseA * NominalVoltage
	maxPowerTwoPhases = 2 * maxPowerOnePhase
)

// SelectPhases is a pure function mapping (available power, operating
// mode, currently-committed phase count) to the desired phase count.
// committed is only consulted for the 1/2-dyn mode's hysteresis.
func SelectPhases(mode OperatingMode, availablePowerW uint16, committed uint8) uint8 {
	p := int(availablePowerW)

	switch mode {
	case OneStatic:
		if p >= minPowerOnePhase {
			return 1
		}
		return 0

	case TwoStatic:
		if p >= minPowerTwoPhases {
			return 2
		}
		return 0

	case ThreeStatic:
		if p >= minPowerThreePhases {
			return 3
		}
		return 0

	case OneThreeDynamic:
		switch {
		case p >= minPowerThreePhases:
			return 3
		case p >= minPowerOnePhase:
			return 1
		default:
			return 0
		}

	case OneTwoThreeDynamic:
		switch {
		case p >= minPowerThreePhases:
			return 3
		case p >= minPowerTwoPhases:
			return 2
		case p >= minPowerOnePhase:
			return 1
		default:
			return 0
		}

	case OneTwoDynamic:
		// Asymmetric hysteresis: upgrading to 2 phases requires reaching
		// maxPowerOnePhase; demoting to 1 phase only requires dropping
		// below minPowerTwoPhases. This prevents oscillation around
		// minPowerTwoPhases.
		if committed == 2 {
			switch {
			case p >= minPowerTwoPhases:
				return 2
			case p >= minPowerOnePhase:
				return 1
			default:
				return 0
			}
		}
		switch {
		case p >= maxPowerOnePhase:
			return 2
		case p >= minPowerOnePhase:
			return 1
		default:
			return 0
		}

	default:
		return 0
	}
}
