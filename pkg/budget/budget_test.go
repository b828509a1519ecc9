package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_FirstActionCreatesRowUnderLimit(t *testing.T) {
	store := NewMemoryStore()
	c := NewChecker(store)

	decision, counter, err := c.Evaluate(CheckParams{
		OrgID: "org1", UAPKID: "uapk1", MaxPerDay: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionUnderLimit, decision)
	assert.Equal(t, 0, counter.Count)
	assert.Equal(t, Today(), counter.CounterDate)
}

func TestEvaluate_UnlimitedWhenMaxPerDayZero(t *testing.T) {
	store := NewMemoryStore()
	c := NewChecker(store)

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Admit("org1", "uapk1"))
	}
	decision, _, err := c.Evaluate(CheckParams{OrgID: "org1", UAPKID: "uapk1", MaxPerDay: 0})
	require.NoError(t, err)
	assert.Equal(t, DecisionUnderLimit, decision)
}

func TestEvaluate_DeniesAtLimit(t *testing.T) {
	store := NewMemoryStore()
	c := NewChecker(store)

	for i := 0; i < 3; i++ {
		decision, _, err := c.Evaluate(CheckParams{OrgID: "org1", UAPKID: "uapk1", MaxPerDay: 3})
		require.NoError(t, err)
		require.Equal(t, DecisionUnderLimit, decision)
		require.NoError(t, c.Admit("org1", "uapk1"))
	}

	decision, counter, err := c.Evaluate(CheckParams{OrgID: "org1", UAPKID: "uapk1", MaxPerDay: 3})
	require.NoError(t, err)
	assert.Equal(t, DecisionExceeded, decision)
	assert.Equal(t, 3, counter.Count)
}

func TestEvaluate_ReachesThresholdBeforeExceeded(t *testing.T) {
	store := NewMemoryStore()
	c := NewChecker(store)

	// MaxPerDay=10, threshold=0.8 -> reached once count >= 8
	for i := 0; i < 8; i++ {
		require.NoError(t, c.Admit("org1", "uapk1"))
	}
	decision, _, err := c.Evaluate(CheckParams{
		OrgID: "org1", UAPKID: "uapk1", MaxPerDay: 10, ThresholdFraction: 0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionThresholdReached, decision)
}

func TestEvaluate_ChainsAreIsolatedPerUAPK(t *testing.T) {
	store := NewMemoryStore()
	c := NewChecker(store)

	require.NoError(t, c.Admit("org1", "uapk1"))
	require.NoError(t, c.Admit("org1", "uapk1"))

	decision, counter, err := c.Evaluate(CheckParams{OrgID: "org1", UAPKID: "uapk2", MaxPerDay: 1})
	require.NoError(t, err)
	assert.Equal(t, DecisionUnderLimit, decision)
	assert.Equal(t, 0, counter.Count)
}

func TestAdmit_IncrementsAcrossCalls(t *testing.T) {
	store := NewMemoryStore()
	c := NewChecker(store)

	require.NoError(t, c.Admit("org1", "uapk1"))
	require.NoError(t, c.Admit("org1", "uapk1"))
	require.NoError(t, c.Admit("org1", "uapk1"))

	counter, err := store.Check("org1", "uapk1", Today())
	require.NoError(t, err)
	assert.Equal(t, 3, counter.Count)
}
