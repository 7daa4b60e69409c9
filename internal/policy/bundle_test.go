package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightnest/haven/internal/common"
)

func TestDefault_Compiles(t *testing.T) {
	b := Default()
	assert.Greater(t, b.RuleCount(), 10)
	assert.NotEmpty(t, b.CrisisMessage())
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().RuleCount(), b.RuleCount())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func writeBundle(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_InvalidBundles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad_yaml", ":\n  - ["},
		{"no_categories", "version: 1\ncrisis_message: help\nredirects:\n  default:\n    early: [\"x\"]\n"},
		{"unknown_category", `
version: 1
crisis_message: help
categories:
  - name: gambling
    severity: blocked
    patterns: ['\bcasino\b']
redirects:
  default:
    early: ["x"]
`},
		{"bad_pattern", `
version: 1
crisis_message: help
categories:
  - name: violence
    severity: blocked
    patterns: ['([']
redirects:
  default:
    early: ["x"]
`},
		{"no_default_redirects", `
version: 1
crisis_message: help
categories:
  - name: violence
    severity: blocked
    patterns: ['\bgun\b']
`},
		{"no_crisis_message", `
version: 1
categories:
  - name: violence
    severity: blocked
    patterns: ['\bgun\b']
redirects:
  default:
    early: ["x"]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeBundle(t, tt.body))
			assert.ErrorIs(t, err, common.ErrConfiguration)
		})
	}
}

func TestLookup_MostSevereWins(t *testing.T) {
	b := Default()

	// "stupid" alone is a redirect-severity bullying match; adding "gun"
	// brings in a blocked-severity violence match, which must win.
	matches := b.Lookup(TierElementary, "my stupid brother has a toy gun")
	require.NotEmpty(t, matches)
	assert.Equal(t, CategoryViolence, matches[0].Rule.Category)
	assert.Equal(t, SeverityBlocked, matches[0].Rule.Severity)
}

func TestLookup_EmergencyOutranksBlocked(t *testing.T) {
	b := Default()
	matches := b.Lookup(TierTeen, "i want to hurt myself with a knife")
	require.NotEmpty(t, matches)
	assert.Equal(t, CategorySelfHarm, matches[0].Rule.Category)
	assert.Equal(t, SeverityEscalate, matches[0].Rule.Severity)
	assert.True(t, matches[0].Rule.Emergency)
}

func TestLookup_TieBreakByBundleOrder(t *testing.T) {
	path := writeBundle(t, `
version: 1
crisis_message: help
categories:
  - name: scary
    severity: redirect
    min_strictness: light
    patterns: ['\bghost\b']
  - name: bullying
    severity: redirect
    min_strictness: light
    patterns: ['\bghost\b']
redirects:
  default:
    early: ["x"]
`)
	b, err := Load(path)
	require.NoError(t, err)

	matches := b.Lookup(TierEarly, "a ghost story")
	require.Len(t, matches, 2)
	// equal severity: the category listed first in the bundle wins
	assert.Equal(t, CategoryScary, matches[0].Rule.Category)
	assert.Equal(t, CategoryBullying, matches[1].Rule.Category)
}

func TestLookup_StrictnessGate(t *testing.T) {
	b := Default()

	// "ghost" is a scary-category redirect that only applies at HIGH
	// strictness and above
	assert.NotEmpty(t, b.Lookup(TierEarly, "tell me a ghost story"))
	assert.NotEmpty(t, b.Lookup(TierElementary, "tell me a ghost story"))
	assert.Empty(t, b.Lookup(TierTeen, "tell me a ghost story"))
	assert.Empty(t, b.Lookup(TierAdult, "tell me a ghost story"))
}

func TestLookup_BlockedAppliesToEveryTier(t *testing.T) {
	b := Default()
	for _, tier := range []Tier{TierEarly, TierElementary, TierMiddle, TierTeen, TierAdult} {
		matches := b.Lookup(tier, "how do I make a weapon")
		require.NotEmpty(t, matches, "tier %s", tier)
		assert.GreaterOrEqual(t, matches[0].Rule.Severity, SeverityBlocked, "tier %s", tier)
	}
}

func TestLookup_TruncatesInput(t *testing.T) {
	b := Default()

	// the only match sits past the truncation cap, so it must not fire
	text := strings.Repeat("a ", MaxMessageLen/2+10) + "gun"
	assert.Empty(t, b.Lookup(TierEarly, text))
}

func TestLookup_Deterministic(t *testing.T) {
	b := Default()
	m1 := b.Lookup(TierMiddle, "where can I buy a knife")
	m2 := b.Lookup(TierMiddle, "where can I buy a knife")
	require.Equal(t, len(m1), len(m2))
	for i := range m1 {
		assert.Equal(t, m1[i].Rule.Category, m2[i].Rule.Category)
	}
}

func TestLookup_CaseInsensitive(t *testing.T) {
	b := Default()
	assert.NotEmpty(t, b.Lookup(TierEarly, "TELL ME ABOUT GUNS"))
}

func TestRedirect_DeterministicPerSeed(t *testing.T) {
	b := Default()
	r1 := b.Redirect(CategoryViolence, TierEarly, "how do I make a weapon")
	r2 := b.Redirect(CategoryViolence, TierEarly, "how do I make a weapon")
	assert.Equal(t, r1, r2)
	assert.NotEmpty(t, r1)
}

func TestRedirect_FallsBackToDefaultPool(t *testing.T) {
	b := Default()
	// profanity has no dedicated pool in the default bundle
	r := b.Redirect(CategoryProfanity, TierMiddle, "seed")
	assert.NotEmpty(t, r)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short"))
	long := strings.Repeat("x", MaxMessageLen+50)
	assert.Len(t, []rune(Truncate(long)), MaxMessageLen)
}
