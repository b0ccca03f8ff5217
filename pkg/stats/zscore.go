package stats

// ZScores standardises spread around mean. The divisor is floored at 1% of
// std; floored reports that the floor was applied. A zero std yields all-zero
// scores instead of dividing by zero.
func ZScores(spread []float64, mean, std float64) (scores []float64, effectiveStd float64, floored bool) {
	minStd := 0.01 * std
	effectiveStd = std
	if effectiveStd < minStd {
		effectiveStd = minStd
		floored = true
	}

	scores = make([]float64, len(spread))
	if effectiveStd == 0 {
		return scores, 0, floored
	}
	for i, v := range spread {
		scores[i] = (v - mean) / effectiveStd
	}
	return scores, effectiveStd, floored
}
