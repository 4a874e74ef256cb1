package reputation

import "math"

// z-score for a 95% confidence interval.
const wilsonZ = 1.96

// WilsonLowerBound returns the lower bound of the Wilson score interval for
// the rate positives/total at 95% confidence. Unlike the raw ratio it stays
// conservative at small sample sizes: a domain with one healthy attempt out
// of one is not scored as certainly healthy, and one failure out of one is
// not scored as certainly bad.
func WilsonLowerBound(positives, total int) float64 {
	if total <= 0 {
		return 0
	}

	n := float64(total)
	phat := float64(positives) / n
	z2 := wilsonZ * wilsonZ

	center := phat + z2/(2*n)
	margin := wilsonZ * math.Sqrt((phat*(1-phat)+z2/(4*n))/n)
	denom := 1 + z2/n

	bound := (center - margin) / denom
	if bound < 0 {
		return 0
	}

	return bound
}

// Score is the confidence-adjusted quality score of a domain: the Wilson
// lower bound of the healthy-attempt rate, where an attempt is healthy
// unless it ended in a blockable failure.
func Score(blockableFailures, totalAttempts int) float64 {
	healthy := totalAttempts - blockableFailures
	if healthy < 0 {
		healthy = 0
	}

	return WilsonLowerBound(healthy, totalAttempts)
}

// Weight is the Laplace-smoothed success rate used as the multiplicative
// selector ranking weight. Brand-new domains start at a neutral 0.5.
func Weight(successCount, totalAttempts int) float64 {
	return float64(successCount+1) / float64(totalAttempts+2)
}
