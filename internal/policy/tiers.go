package policy

import (
	"fmt"

	"github.com/brightnest/haven/internal/common"
)

// Strictness is the filtering level a tier operates at. Higher values filter
// more aggressively. A rule applies to a tier when the tier's strictness is
// at or above the rule's minimum strictness.
type Strictness int

const (
	StrictnessLight Strictness = iota + 1
	StrictnessStandard
	StrictnessModerate
	StrictnessHigh
	StrictnessMaximum
)

var strictnessNames = map[string]Strictness{
	"light":    StrictnessLight,
	"standard": StrictnessStandard,
	"moderate": StrictnessModerate,
	"high":     StrictnessHigh,
	"maximum":  StrictnessMaximum,
}

func (s Strictness) String() string {
	for name, v := range strictnessNames {
		if v == s {
			return name
		}
	}
	return fmt.Sprintf("strictness(%d)", int(s))
}

// ParseStrictness converts a bundle string into a Strictness.
func ParseStrictness(s string) (Strictness, error) {
	if v, ok := strictnessNames[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown strictness %q: %w", s, common.ErrConfiguration)
}

// Tier is one of five age bands. Each band carries a filtering strictness
// and a target response word-count range so the same policy produces
// age-appropriate behavior.
type Tier int

const (
	TierEarly      Tier = iota + 1 // ages 2-7
	TierElementary                 // ages 8-10
	TierMiddle                     // ages 11-13
	TierTeen                       // ages 14-17
	TierAdult                      // age 18
)

// TierSpec describes one age band.
type TierSpec struct {
	Name       string
	MinAge     int
	MaxAge     int
	Strictness Strictness
	MinWords   int
	MaxWords   int
}

// tierSpecs is ordered youngest-first; TierForAge relies on this ordering.
var tierSpecs = []TierSpec{
	{Name: "early", MinAge: 2, MaxAge: 7, Strictness: StrictnessMaximum, MinWords: 25, MaxWords: 50},
	{Name: "elementary", MinAge: 8, MaxAge: 10, Strictness: StrictnessHigh, MinWords: 50, MaxWords: 75},
	{Name: "middle", MinAge: 11, MaxAge: 13, Strictness: StrictnessModerate, MinWords: 75, MaxWords: 125},
	{Name: "teen", MinAge: 14, MaxAge: 17, Strictness: StrictnessStandard, MinWords: 125, MaxWords: 200},
	{Name: "adult", MinAge: 18, MaxAge: 18, Strictness: StrictnessLight, MinWords: 150, MaxWords: 300},
}

// TierForAge maps an age to its band. Total and monotonic over [2,18];
// anything outside that range is a validation error.
func TierForAge(age int) (Tier, error) {
	for i, spec := range tierSpecs {
		if age >= spec.MinAge && age <= spec.MaxAge {
			return Tier(i + 1), nil
		}
	}
	return 0, fmt.Errorf("age %d outside supported range [2,18]: %w", age, common.ErrValidation)
}

// Spec returns the band metadata for t.
func (t Tier) Spec() TierSpec {
	i := int(t) - 1
	if i < 0 || i >= len(tierSpecs) {
		return TierSpec{Name: "unknown"}
	}
	return tierSpecs[i]
}

func (t Tier) String() string {
	return t.Spec().Name
}

// ParseTier converts a bundle string ("early", "middle", ...) into a Tier.
func ParseTier(s string) (Tier, error) {
	for i, spec := range tierSpecs {
		if spec.Name == s {
			return Tier(i + 1), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q: %w", s, common.ErrConfiguration)
}
