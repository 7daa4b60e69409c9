package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightnest/haven/internal/common"
)

func TestTierForAge_TotalAndMonotonic(t *testing.T) {
	prev := Tier(0)
	for age := 2; age <= 18; age++ {
		tier, err := TierForAge(age)
		require.NoError(t, err, "age %d", age)
		assert.GreaterOrEqual(t, tier, prev, "tiers must not go backwards at age %d", age)
		prev = tier
	}
}

func TestTierForAge_Bands(t *testing.T) {
	tests := []struct {
		age  int
		want Tier
	}{
		{2, TierEarly},
		{7, TierEarly},
		{8, TierElementary},
		{10, TierElementary},
		{11, TierMiddle},
		{13, TierMiddle},
		{14, TierTeen},
		{17, TierTeen},
		{18, TierAdult},
	}
	for _, tt := range tests {
		got, err := TierForAge(tt.age)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "age %d", tt.age)
	}
}

func TestTierForAge_OutOfRange(t *testing.T) {
	for _, age := range []int{-1, 0, 1, 19, 120} {
		_, err := TierForAge(age)
		assert.ErrorIs(t, err, common.ErrValidation, "age %d", age)
	}
}

func TestTierSpec_WordRangesAscend(t *testing.T) {
	tiers := []Tier{TierEarly, TierElementary, TierMiddle, TierTeen, TierAdult}
	for i := 1; i < len(tiers); i++ {
		assert.Greater(t, tiers[i].Spec().MaxWords, tiers[i-1].Spec().MaxWords)
	}
}

func TestTierSpec_StrictnessDescends(t *testing.T) {
	assert.Equal(t, StrictnessMaximum, TierEarly.Spec().Strictness)
	assert.Equal(t, StrictnessHigh, TierElementary.Spec().Strictness)
	assert.Equal(t, StrictnessModerate, TierMiddle.Spec().Strictness)
	assert.Equal(t, StrictnessStandard, TierTeen.Spec().Strictness)
	assert.Equal(t, StrictnessLight, TierAdult.Spec().Strictness)
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("middle")
	require.NoError(t, err)
	assert.Equal(t, TierMiddle, tier)

	_, err = ParseTier("toddler")
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestParseStrictness(t *testing.T) {
	s, err := ParseStrictness("maximum")
	require.NoError(t, err)
	assert.Equal(t, StrictnessMaximum, s)

	_, err = ParseStrictness("extreme")
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
