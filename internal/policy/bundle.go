package policy

import (
	_ "embed"
	"fmt"
	"hash/fnv"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brightnest/haven/internal/common"
)

//go:embed default_bundle.yaml
var defaultBundle []byte

// bundleFile mirrors the YAML layout of a policy bundle. It is a DTO;
// Load compiles it into a Bundle.
type bundleFile struct {
	Version       int    `yaml:"version"`
	CrisisMessage string `yaml:"crisis_message"`
	Categories    []struct {
		Name          string   `yaml:"name"`
		Severity      string   `yaml:"severity"`
		MinStrictness string   `yaml:"min_strictness"`
		Emergency     bool     `yaml:"emergency"`
		Cumulative    bool     `yaml:"cumulative"`
		Patterns      []string `yaml:"patterns"`
	} `yaml:"categories"`
	Redirects map[string]map[string][]string `yaml:"redirects"`
}

// Bundle is a compiled, immutable policy table. All lookups are
// deterministic and side-effect free.
type Bundle struct {
	version       int
	crisisMessage string
	rules         []Rule
	// redirects: category -> tier -> template pool. The "default" category
	// pool is the fallback for categories without their own templates.
	redirects map[Category]map[Tier][]string
}

// Default compiles the embedded policy bundle. It panics only if the
// embedded asset itself is broken, which is a build defect, not a runtime
// condition.
func Default() *Bundle {
	b, err := compile(defaultBundle)
	if err != nil {
		panic(fmt.Sprintf("embedded policy bundle is invalid: %v", err))
	}
	return b
}

// Load reads and compiles a policy bundle. An empty path selects the
// embedded default. Any structural problem (unreadable file, bad YAML,
// unknown category, uncompilable pattern) is reported as ErrConfiguration
// so callers fail closed rather than filter with a partial table.
func Load(path string) (*Bundle, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy bundle %s: %w: %v", path, common.ErrConfiguration, err)
	}
	return compile(raw)
}

func compile(raw []byte) (*Bundle, error) {
	var f bundleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing policy bundle: %w: %v", common.ErrConfiguration, err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("policy bundle has no categories: %w", common.ErrConfiguration)
	}

	b := &Bundle{
		version:       f.Version,
		crisisMessage: strings.TrimSpace(f.CrisisMessage),
		redirects:     make(map[Category]map[Tier][]string),
	}
	if b.crisisMessage == "" {
		return nil, fmt.Errorf("policy bundle has no crisis message: %w", common.ErrConfiguration)
	}

	order := 0
	for _, c := range f.Categories {
		cat := Category(c.Name)
		if _, ok := knownCategories[cat]; !ok {
			return nil, fmt.Errorf("unknown category %q: %w", c.Name, common.ErrConfiguration)
		}
		sev, err := ParseSeverity(c.Severity)
		if err != nil {
			return nil, err
		}
		if c.Emergency {
			// emergency rules always escalate, whatever the bundle says
			sev = SeverityEscalate
		}
		strictness := StrictnessLight
		if c.MinStrictness != "" {
			strictness, err = ParseStrictness(c.MinStrictness)
			if err != nil {
				return nil, err
			}
		}
		if len(c.Patterns) == 0 {
			return nil, fmt.Errorf("category %q has no patterns: %w", c.Name, common.ErrConfiguration)
		}
		for _, p := range c.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("pattern %q in category %q: %w: %v", p, c.Name, common.ErrConfiguration, err)
			}
			b.rules = append(b.rules, Rule{
				Category:      cat,
				Severity:      sev,
				MinStrictness: strictness,
				Pattern:       re,
				Emergency:     c.Emergency,
				Cumulative:    c.Cumulative,
				bundleOrder:   order,
			})
			order++
		}
	}

	for name, pools := range f.Redirects {
		cat := Category(name)
		if name != "default" {
			if _, ok := knownCategories[cat]; !ok {
				return nil, fmt.Errorf("redirect pool for unknown category %q: %w", name, common.ErrConfiguration)
			}
		}
		byTier := make(map[Tier][]string)
		for tierName, templates := range pools {
			tier, err := ParseTier(tierName)
			if err != nil {
				return nil, err
			}
			byTier[tier] = templates
		}
		b.redirects[cat] = byTier
	}
	if _, ok := b.redirects[Category("default")]; !ok {
		return nil, fmt.Errorf("policy bundle has no default redirect pool: %w", common.ErrConfiguration)
	}

	return b, nil
}

// Version reports the bundle version.
func (b *Bundle) Version() int { return b.version }

// RuleCount reports the number of compiled rules.
func (b *Bundle) RuleCount() int { return len(b.rules) }

// CrisisMessage returns the fixed crisis-resource text used for emergency
// escalations.
func (b *Bundle) CrisisMessage() string { return b.crisisMessage }

// Truncate bounds text to MaxMessageLen runes before matching.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxMessageLen {
		return text
	}
	return string(runes[:MaxMessageLen])
}

// Lookup returns every rule matching text at the given tier, ordered most
// severe first; rules of equal severity keep their bundle order. Input is
// truncated to MaxMessageLen runes before matching.
func (b *Bundle) Lookup(tier Tier, text string) []Match {
	text = Truncate(text)
	strictness := tier.Spec().Strictness

	var matches []Match
	for i := range b.rules {
		r := &b.rules[i]
		if strictness < r.MinStrictness {
			continue
		}
		if loc := r.Pattern.FindString(text); loc != "" {
			matches = append(matches, Match{Rule: r, Excerpt: loc})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Rule.Severity != matches[j].Rule.Severity {
			return matches[i].Rule.Severity > matches[j].Rule.Severity
		}
		return matches[i].Rule.bundleOrder < matches[j].Rule.bundleOrder
	})

	return matches
}

// Redirect picks the redirect template for a category at a tier. Selection
// is deterministic in (category, tier, seed) so replaying a message yields
// the same text; different messages still see variety across the pool.
func (b *Bundle) Redirect(category Category, tier Tier, seed string) string {
	pool := b.pool(category, tier)
	if len(pool) == 0 {
		// a compiled bundle always has the default pool, but a tier may be
		// missing from it; fall back to any non-empty tier pool
		for _, p := range b.redirects[Category("default")] {
			if len(p) > 0 {
				pool = p
				break
			}
		}
	}
	if len(pool) == 0 {
		return b.crisisMessage
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(category)))
	_, _ = h.Write([]byte(tier.String()))
	_, _ = h.Write([]byte(seed))
	return pool[h.Sum32()%uint32(len(pool))]
}

func (b *Bundle) pool(category Category, tier Tier) []string {
	if byTier, ok := b.redirects[category]; ok {
		if pool, ok := byTier[tier]; ok && len(pool) > 0 {
			return pool
		}
	}
	if byTier, ok := b.redirects[Category("default")]; ok {
		return byTier[tier]
	}
	return nil
}
