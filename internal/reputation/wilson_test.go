package reputation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWilsonLowerBound(t *testing.T) {
	require.Zero(t, WilsonLowerBound(0, 0))
	require.Zero(t, WilsonLowerBound(0, 10))

	// all healthy still stays below 1 on a small sample
	allHealthy := WilsonLowerBound(10, 10)
	require.Greater(t, allHealthy, 0.6)
	require.Less(t, allHealthy, 1.0)

	// more evidence tightens the bound upward at the same rate
	require.Greater(t, WilsonLowerBound(100, 100), allHealthy)
}

func TestWilsonMonotonicity(t *testing.T) {
	// non-increasing in failures for fixed successes
	for failures := 0; failures < 20; failures++ {
		lower := Score(failures+1, 10+failures+1)
		higher := Score(failures, 10+failures)
		require.LessOrEqual(t, lower, higher,
			"score must not rise when a failure is added (failures=%d)", failures)
	}

	// non-decreasing in successes for fixed failures
	for successes := 0; successes < 20; successes++ {
		lower := Score(5, successes+5)
		higher := Score(5, successes+1+5)
		require.LessOrEqual(t, lower, higher,
			"score must not drop when a success is added (successes=%d)", successes)
	}
}

func TestWeightExact(t *testing.T) {
	// Laplace smoothing: (success+1)/(total+2)
	require.InDelta(t, 0.5, Weight(0, 0), 1e-9)
	require.InDelta(t, 4.0/6.0, Weight(3, 4), 1e-9)
	require.InDelta(t, 1.0/2.0, Weight(0, 0), 1e-9)
	require.InDelta(t, 11.0/12.0, Weight(10, 10), 1e-9)
	require.InDelta(t, 1.0/12.0, Weight(0, 10), 1e-9)
}
