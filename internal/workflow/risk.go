package workflow

// RiskScore multiplies likelihood by severity, each clamped to [1,5].
func RiskScore(likelihood, severity int) int {
	return clamp(likelihood) * clamp(severity)
}

// RiskBand classifies a score. Used for routing emphasis only, never a gate.
func RiskBand(likelihood, severity int) string {
	score := RiskScore(likelihood, severity)
	switch {
	case score >= 15:
		return "High"
	case score >= 8:
		return "Medium"
	default:
		return "Low"
	}
}

func clamp(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
