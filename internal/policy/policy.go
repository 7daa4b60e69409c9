// Package policy holds the versioned, age-tiered safety rule table: blocked
// term patterns, severities, redirect templates, and word-count targets per
// age band. It is pure data plus lookup; rules are read-only at runtime and
// replaced only by loading a new bundle.
package policy

import (
	"fmt"
	"regexp"

	"github.com/brightnest/haven/internal/common"
)

// MaxMessageLen is the cap (in runes) applied to any input before matching.
// Bounding the input is itself an invariant: lookup cost stays flat no
// matter what the chat front-end delivers.
const MaxMessageLen = 1000

// Category identifies a class of safety concern.
type Category string

const (
	CategoryViolence     Category = "violence"
	CategoryAdultContent Category = "adult_content"
	CategoryPersonalInfo Category = "personal_info"
	CategorySelfHarm     Category = "self_harm"
	CategorySubstance    Category = "substance"
	CategoryDangerous    Category = "dangerous"
	CategoryScary        Category = "scary"
	CategoryBullying     Category = "bullying"
	CategoryMedical      Category = "medical"
	CategoryCommercial   Category = "commercial"
	CategoryProfanity    Category = "profanity"
)

var knownCategories = map[Category]struct{}{
	CategoryViolence:     {},
	CategoryAdultContent: {},
	CategoryPersonalInfo: {},
	CategorySelfHarm:     {},
	CategorySubstance:    {},
	CategoryDangerous:    {},
	CategoryScary:        {},
	CategoryBullying:     {},
	CategoryMedical:      {},
	CategoryCommercial:   {},
	CategoryProfanity:    {},
}

// Severity orders rule outcomes from least to most restrictive. When several
// rules match one input, the highest severity wins; ties break by bundle
// order (stable, documented).
type Severity int

const (
	SeverityRedirect Severity = iota + 1
	SeverityBlocked
	SeverityEscalate
)

func (s Severity) String() string {
	switch s {
	case SeverityRedirect:
		return "redirect"
	case SeverityBlocked:
		return "blocked"
	case SeverityEscalate:
		return "escalate"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity converts a bundle string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "redirect":
		return SeverityRedirect, nil
	case "blocked":
		return SeverityBlocked, nil
	case "escalate":
		return SeverityEscalate, nil
	}
	return 0, fmt.Errorf("unknown severity %q: %w", s, common.ErrConfiguration)
}

// Rule is one compiled policy entry.
type Rule struct {
	Category      Category
	Severity      Severity
	MinStrictness Strictness
	Pattern       *regexp.Regexp
	// Emergency rules bypass strike counting and always escalate with an
	// immediate parent alert (self-harm, immediate-danger indicators).
	Emergency bool
	// Cumulative rules count strikes per profile across sessions until a
	// parent acknowledges them (e.g., repeated personal-information probing).
	Cumulative bool

	// bundleOrder is the rule's position in the loaded bundle; it is the
	// documented tie-break when severities are equal.
	bundleOrder int
}

// Match is one rule hit on an input.
type Match struct {
	Rule    *Rule
	Excerpt string
}
