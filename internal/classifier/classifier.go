// Package classifier turns a child message into a safety verdict. It is the
// single choke point between raw input and the model: every message passes
// through Classify before any inference happens, and every non-allow verdict
// is recorded (strike + audit entry) before the verdict is returned, so a
// crash cannot produce an unrecorded block. Model output passes through
// CheckOutput on the way back.
package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/brightnest/haven/internal/audit"
	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/policy"
	"github.com/brightnest/haven/internal/strikes"
)

// Verdict is the outcome of classifying one message.
type Verdict string

const (
	VerdictAllow    Verdict = "allow"
	VerdictRedirect Verdict = "redirect"
	VerdictBlock    Verdict = "block"
	VerdictEscalate Verdict = "escalate"
)

// failClosedMessage is shown when the policy table is unavailable. Neutral
// on purpose: it must not hint at what would or would not have matched.
const failClosedMessage = "I can't chat right now. Please ask a parent to check the app."

// CategoryCustomTopic marks a hit on a parent-configured blocked topic
// rather than a bundle category.
const CategoryCustomTopic = "custom_topic"

// CategoryContext marks a context-heuristic hit (mashing, shouting,
// oversized input, age-inappropriate vocabulary) rather than a term match.
const CategoryContext = "context"

const (
	suspiciousLen = 500
	mashRunLen    = 6
)

// longWordRe finds words long enough to be out of reach for early readers.
var longWordRe = regexp.MustCompile(`\b\w{10,}\b`)

// complexTopics are subjects redirected for pre-middle-school tiers
// regardless of phrasing.
var complexTopics = []string{"quantum", "calculus", "algorithm", "philosophy", "psychology"}

// Shape carries the per-tier response bounds an allowed message should be
// answered with.
type Shape struct {
	MinWords   int
	MaxWords   int
	Strictness policy.Strictness
}

// Result is the verdict plus everything the caller needs to act on it. For
// any verdict other than allow, Response is the full text to show the child
// in place of a model answer.
type Result struct {
	Verdict        Verdict
	Category       string
	Severity       string
	Response       string
	SessionStrikes int
	Shape          Shape
}

// Classifier evaluates messages against the policy bundle and records the
// consequences. Safe for concurrent use.
type Classifier struct {
	bundle  *policy.Bundle
	strikes *strikes.Tracker
	auditor *audit.Log
	alerter audit.Alerter
	log     logging.Logger
}

// New builds a classifier. A nil bundle is tolerated and makes every
// message fail closed until a valid bundle is supplied.
func New(bundle *policy.Bundle, tr *strikes.Tracker, al *audit.Log, alerter audit.Alerter, log logging.Logger) *Classifier {
	return &Classifier{
		bundle:  bundle,
		strikes: tr,
		auditor: al,
		alerter: alerter,
		log:     log.With("component", "classifier"),
	}
}

// Classify evaluates one child message. blockedTopics is the profile's
// parent-configured extra list. The returned error reports either a missing
// policy bundle (the Result still carries the fail-closed block to show) or
// a failure to persist the strike or audit entry; callers must treat any
// error as a block.
func (c *Classifier) Classify(ctx context.Context, profileID, sessionID string, tier policy.Tier, blockedTopics []string, text string) (Result, error) {
	if c.bundle == nil {
		c.log.Error(ctx, "no policy bundle loaded, failing closed", "profile_id", profileID)
		return failClosed(tier), fmt.Errorf("policy bundle unavailable: %w", common.ErrConfiguration)
	}

	text = policy.Truncate(text)

	// context heuristics before any term lookup
	if reason := contextFlag(tier, text); reason != "" {
		res := Result{
			Verdict:  VerdictRedirect,
			Category: CategoryContext,
			Severity: policy.SeverityRedirect.String(),
			Response: c.bundle.Redirect("default", tier, text),
			Shape:    shapeFor(tier),
		}
		return c.applyStrike(ctx, profileID, sessionID, res, 1, false, CategoryContext, reason, text)
	}

	matches := c.bundle.Lookup(tier, text)
	if len(matches) > 0 {
		return c.applyMatch(ctx, profileID, sessionID, tier, text, matches)
	}

	// parent-configured topics come after the bundle so real safety
	// categories keep their severity
	if topic := matchTopic(text, blockedTopics); topic != "" {
		res := Result{
			Verdict:  VerdictRedirect,
			Category: CategoryCustomTopic,
			Severity: policy.SeverityRedirect.String(),
			Response: c.bundle.Redirect("default", tier, text),
			Shape:    shapeFor(tier),
		}
		return c.applyStrike(ctx, profileID, sessionID, res, 1, false, CategoryCustomTopic, "blocked topic: "+topic, text)
	}

	return Result{Verdict: VerdictAllow, Shape: shapeFor(tier)}, nil
}

func (c *Classifier) applyMatch(ctx context.Context, profileID, sessionID string, tier policy.Tier, text string, matches []policy.Match) (Result, error) {
	top := matches[0]
	res := Result{
		Category: string(top.Rule.Category),
		Severity: top.Rule.Severity.String(),
		Shape:    shapeFor(tier),
	}

	// emergency rules skip the strike ladder entirely: alert first, then
	// escalate with the crisis resources
	if top.Rule.Emergency {
		res.Verdict = VerdictEscalate
		res.Response = c.bundle.CrisisMessage()
		if err := c.escalate(ctx, profileID, sessionID, res, top.Excerpt, "emergency category", text); err != nil {
			return Result{}, err
		}
		return res, nil
	}

	count := 1
	if top.Rule.Cumulative {
		count = categoryHits(matches, top.Rule.Category)
	}

	res.Response = c.bundle.Redirect(top.Rule.Category, tier, text)
	switch top.Rule.Severity {
	case policy.SeverityBlocked:
		res.Verdict = VerdictBlock
	default:
		res.Verdict = VerdictRedirect
	}
	return c.applyStrike(ctx, profileID, sessionID, res, count, top.Rule.Cumulative, top.Rule.Category, top.Excerpt, text)
}

// applyStrike is the bookkeeping shared by every non-allow verdict: count
// the strike, flip to an escalation when the threshold is crossed, and land
// the audit entry before the verdict leaves the classifier.
func (c *Classifier) applyStrike(ctx context.Context, profileID, sessionID string, res Result, count int, cumulative bool, category policy.Category, excerpt, text string) (Result, error) {
	strikeCount, escalate, err := c.strikes.Add(ctx, profileID, category, count, cumulative)
	if err != nil {
		return Result{}, fmt.Errorf("recording strike: %w", err)
	}
	res.SessionStrikes = strikeCount

	if escalate {
		res.Verdict = VerdictEscalate
		res.Response = c.bundle.CrisisMessage()
		if err := c.escalate(ctx, profileID, sessionID, res, excerpt, fmt.Sprintf("strike threshold reached (%d)", strikeCount), text); err != nil {
			return Result{}, err
		}
		return res, nil
	}

	if err := c.recordIncident(ctx, profileID, sessionID, res, excerpt, text); err != nil {
		return Result{}, err
	}
	return res, nil
}

// escalate alerts the parent synchronously, audits the escalation with the
// delivery outcome, and locks the profile. All three must be attempted
// before the verdict is returned.
func (c *Classifier) escalate(ctx context.Context, profileID, sessionID string, res Result, excerpt, reason, text string) error {
	alert := audit.Alert{
		ProfileID: profileID,
		SessionID: sessionID,
		Category:  res.Category,
		Excerpt:   audit.TruncateExcerpt(excerpt),
		Message:   reason,
	}
	alerted := true
	if err := c.alerter.Alert(ctx, alert); err != nil {
		// the escalation stands; only the delivery failed
		alerted = false
		c.log.Error(ctx, "parent alert delivery failed", "profile_id", profileID, "error", err.Error())
	}

	_, err := c.auditor.Append(ctx, profileID, audit.Event{
		Type:      audit.EventEscalation,
		SessionID: sessionID,
		Category:  res.Category,
		Severity:  res.Severity,
		Excerpt:   excerpt,
		Hash:      audit.HashInput(text),
		Alerted:   alerted,
		Detail:    reason,
	})
	if err != nil {
		return fmt.Errorf("auditing escalation: %w", err)
	}

	if err := c.strikes.ForceLock(ctx, profileID); err != nil {
		return fmt.Errorf("locking profile: %w", err)
	}
	return nil
}

func (c *Classifier) recordIncident(ctx context.Context, profileID, sessionID string, res Result, excerpt, text string) error {
	_, err := c.auditor.Append(ctx, profileID, audit.Event{
		Type:      audit.EventSafetyIncident,
		SessionID: sessionID,
		Category:  res.Category,
		Severity:  res.Severity,
		Excerpt:   excerpt,
		Hash:      audit.HashInput(text),
	})
	if err != nil {
		return fmt.Errorf("auditing incident: %w", err)
	}
	return nil
}

// CheckOutput screens model output before it reaches the child. A blocked or
// escalate match replaces the whole response with a redirect and gets the
// same strike and audit bookkeeping as an input hit. Allowed output is
// shaped to the tier's word ceiling; shaping is presentation, not a safety
// event, and leaves no trace.
func (c *Classifier) CheckOutput(ctx context.Context, profileID, sessionID string, tier policy.Tier, text string) (Result, error) {
	if c.bundle == nil {
		c.log.Error(ctx, "no policy bundle loaded, failing closed", "profile_id", profileID)
		return failClosed(tier), fmt.Errorf("policy bundle unavailable: %w", common.ErrConfiguration)
	}

	matches := c.bundle.Lookup(tier, text)
	if len(matches) > 0 && matches[0].Rule.Severity >= policy.SeverityBlocked {
		top := matches[0]
		res := Result{
			Category: string(top.Rule.Category),
			Severity: top.Rule.Severity.String(),
			Shape:    shapeFor(tier),
		}
		if top.Rule.Emergency {
			res.Verdict = VerdictEscalate
			res.Response = c.bundle.CrisisMessage()
			if err := c.escalate(ctx, profileID, sessionID, res, top.Excerpt, "emergency category in model output", text); err != nil {
				return Result{}, err
			}
			return res, nil
		}
		res.Verdict = VerdictBlock
		res.Response = c.bundle.Redirect(top.Rule.Category, tier, text)
		return c.applyStrike(ctx, profileID, sessionID, res, 1, top.Rule.Cumulative, top.Rule.Category, top.Excerpt, text)
	}

	sh := shapeFor(tier)
	return Result{Verdict: VerdictAllow, Response: shapeText(text, sh), Shape: sh}, nil
}

// shapeText enforces the tier's response ceiling. Output over the cap is cut
// at a word boundary with a truncation marker; short output passes through
// as-is, the word floor is a prompt-side target only.
func shapeText(text string, sh Shape) string {
	words := strings.Fields(text)
	if sh.MaxWords <= 0 || len(words) <= sh.MaxWords {
		return text
	}
	return strings.Join(words[:sh.MaxWords], " ") + "…"
}

func failClosed(tier policy.Tier) Result {
	return Result{
		Verdict:  VerdictBlock,
		Category: CategoryContext,
		Severity: policy.SeverityBlocked.String(),
		Response: failClosedMessage,
		Shape:    shapeFor(tier),
	}
}

// contextFlag applies the cheap heuristics that catch unsuitable input
// before pattern matching: oversized messages, keyboard mashing, shouting,
// and words or topics beyond the tier's age band.
func contextFlag(tier policy.Tier, text string) string {
	if len([]rune(text)) > suspiciousLen {
		return "oversized input"
	}
	if hasCharRun(text, mashRunLen) {
		return "keyboard mashing"
	}
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters > 10 && upper == letters {
		return "all-caps shouting"
	}

	spec := tier.Spec()
	if spec.MaxAge > 0 && spec.MaxAge < 8 {
		if len(longWordRe.FindAllString(text, 3)) > 2 {
			return "vocabulary beyond age band"
		}
	}
	if spec.MaxAge > 0 && spec.MaxAge < 12 {
		lower := strings.ToLower(text)
		for _, topic := range complexTopics {
			if strings.Contains(lower, topic) {
				return "topic beyond age band: " + topic
			}
		}
	}
	return ""
}

// hasCharRun reports whether text repeats any single rune n or more times in
// a row.
func hasCharRun(text string, n int) bool {
	var (
		prev rune
		run  int
	)
	for _, r := range text {
		if r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			prev, run = r, 1
		}
	}
	return false
}

func matchTopic(text string, topics []string) string {
	lower := strings.ToLower(text)
	for _, topic := range topics {
		t := strings.ToLower(strings.TrimSpace(topic))
		if t != "" && strings.Contains(lower, t) {
			return topic
		}
	}
	return ""
}

func categoryHits(matches []policy.Match, cat policy.Category) int {
	n := 0
	for _, m := range matches {
		if m.Rule.Category == cat {
			n++
		}
	}
	return n
}

func shapeFor(tier policy.Tier) Shape {
	spec := tier.Spec()
	return Shape{MinWords: spec.MinWords, MaxWords: spec.MaxWords, Strictness: spec.Strictness}
}
