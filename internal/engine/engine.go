// Package engine orchestrates a child chat turn: session bookkeeping,
// input classification, model inference, and output screening, in that
// order. The engine holds no lock while the model runs; all safety
// bookkeeping happens before and after the call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightnest/haven/internal/audit"
	"github.com/brightnest/haven/internal/classifier"
	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/inference"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/profile"
	"github.com/brightnest/haven/internal/session"
	"github.com/brightnest/haven/internal/storage"
	"github.com/brightnest/haven/internal/storage/models"
	"github.com/brightnest/haven/internal/strikes"
)

// modelDownMessage is shown when inference fails. Like the fail-closed
// text, it reveals nothing about filtering.
const modelDownMessage = "I'm having trouble thinking right now. Let's try again in a moment!"

// Reply is the outcome of one child message.
type Reply struct {
	Text      string
	Verdict   classifier.Verdict
	Category  string
	IdleWarn  bool
	Remaining time.Duration
	// Screened is set when the model's output was replaced by the
	// output filter.
	Screened bool
}

// Engine ties the safety pipeline together. Safe for concurrent use.
type Engine struct {
	profiles *profile.Store
	sessions *session.Manager
	cls      *classifier.Classifier
	tracker  *strikes.Tracker
	auditor  *audit.Log
	model    inference.Client
	repos    *storage.Repositories
	log      logging.Logger

	now func() time.Time
}

// New wires an engine. repos may be nil in tests; the incident index and
// stats are best-effort and never block a verdict.
func New(
	profiles *profile.Store,
	sessions *session.Manager,
	cls *classifier.Classifier,
	tracker *strikes.Tracker,
	auditor *audit.Log,
	model inference.Client,
	repos *storage.Repositories,
	log logging.Logger,
) *Engine {
	return &Engine{
		profiles: profiles,
		sessions: sessions,
		cls:      cls,
		tracker:  tracker,
		auditor:  auditor,
		model:    model,
		repos:    repos,
		log:      log.With("component", "engine"),
		now:      time.Now,
	}
}

// OpenSession starts a bounded chat session for the profile. A profile
// under an escalation lock cannot open sessions until a parent
// acknowledges the strikes.
func (e *Engine) OpenSession(ctx context.Context, profileID string) (session.Session, error) {
	if err := e.tracker.CheckLocked(ctx, profileID); err != nil {
		return session.Session{}, err
	}

	p, err := e.profiles.LoadProfile(ctx, profileID)
	if err != nil {
		return session.Session{}, err
	}
	tier, err := p.Tier()
	if err != nil {
		return session.Session{}, err
	}

	s, err := e.sessions.Open(ctx, profileID, tier, p.SessionLimit.Duration)
	if err != nil {
		return session.Session{}, err
	}

	if _, err := e.auditor.Append(ctx, profileID, audit.Event{
		Type:      audit.EventSessionOpened,
		SessionID: s.ID,
		Detail:    "tier " + tier.String(),
	}); err != nil {
		e.sessions.Abandon(ctx, profileID)
		return session.Session{}, err
	}
	return s, nil
}

// HandleMessage runs one chat turn. Errors wrapping ErrSessionClosed mean
// the session ended (idle or absolute timeout); ErrProfileLocked means an
// escalation closed it. Any other error is internal, and callers must show
// nothing model-generated for that turn.
func (e *Engine) HandleMessage(ctx context.Context, sessionID, text string) (Reply, error) {
	check, err := e.sessions.Touch(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrSessionClosed) {
			e.finishExpired(ctx, sessionID, check)
		}
		return Reply{}, err
	}

	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return Reply{}, err
	}
	p, err := e.profiles.LoadProfile(ctx, s.ProfileID)
	if err != nil {
		return Reply{}, err
	}

	res, err := e.cls.Classify(ctx, s.ProfileID, s.ID, s.Tier, p.BlockedTopics, text)
	if err != nil {
		if errors.Is(err, common.ErrConfiguration) {
			// policy table unavailable: the result carries the neutral
			// block to show while the error surfaces to the parent
			return Reply{
				Text:      res.Response,
				Verdict:   res.Verdict,
				Category:  res.Category,
				IdleWarn:  check.IdleWarn,
				Remaining: check.Remaining,
			}, err
		}
		// recording failed: fail closed, surface nothing
		return Reply{}, fmt.Errorf("classification bookkeeping: %w", err)
	}

	e.index(ctx, s.ProfileID, s.ID, res)

	reply := Reply{
		Verdict:   res.Verdict,
		Category:  res.Category,
		IdleWarn:  check.IdleWarn,
		Remaining: check.Remaining,
	}

	switch res.Verdict {
	case classifier.VerdictAllow:
		// fall through to inference
	case classifier.VerdictEscalate:
		// an escalation ends the session on the spot
		e.sessions.Abandon(ctx, s.ProfileID)
		reply.Text = res.Response
		return reply, nil
	default:
		reply.Text = res.Response
		return reply, nil
	}

	out, err := e.model.Generate(ctx, inference.Request{
		Prompt: text,
		System: inference.SystemPrompt(s.Tier, res.Shape),
		Params: inference.ParamsForTier(s.Tier),
	})
	if err != nil {
		e.log.Error(ctx, "inference failed", "session_id", s.ID, "error", err.Error())
		reply.Text = modelDownMessage
		return reply, nil
	}

	outRes, err := e.cls.CheckOutput(ctx, s.ProfileID, s.ID, s.Tier, out)
	if err != nil {
		if errors.Is(err, common.ErrConfiguration) {
			reply.Text = outRes.Response
			reply.Screened = true
			return reply, err
		}
		return Reply{}, fmt.Errorf("output screening bookkeeping: %w", err)
	}

	reply.Text = outRes.Response
	if outRes.Verdict != classifier.VerdictAllow {
		reply.Screened = true
		reply.Verdict = outRes.Verdict
		reply.Category = outRes.Category
		e.index(ctx, s.ProfileID, s.ID, outRes)
		e.log.Warn(ctx, "model output screened", "session_id", s.ID, "tier", s.Tier.String())
		if outRes.Verdict == classifier.VerdictEscalate {
			e.sessions.Abandon(ctx, s.ProfileID)
		}
	}
	return reply, nil
}

// CloseSession ends the session normally and resets its strike counter.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if err := e.sessions.Close(ctx, sessionID); err != nil {
		return err
	}
	if err := e.tracker.ResetSession(ctx, s.ProfileID); err != nil {
		return err
	}
	_, err = e.auditor.Append(ctx, s.ProfileID, audit.Event{
		Type:      audit.EventSessionClosed,
		SessionID: sessionID,
	})
	return err
}

// Sweep expires overdue sessions and settles their strike counters. Meant
// to run periodically from the app loop.
func (e *Engine) Sweep(ctx context.Context) {
	for _, s := range e.sessions.Sweep(ctx) {
		e.settleExpired(ctx, s.ProfileID, s.ID)
	}
}

func (e *Engine) finishExpired(ctx context.Context, sessionID string, check session.Check) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return
	}
	if check.State == session.StateExpired {
		e.settleExpired(ctx, s.ProfileID, s.ID)
	}
}

func (e *Engine) settleExpired(ctx context.Context, profileID, sessionID string) {
	if err := e.tracker.ResetSession(ctx, profileID); err != nil {
		e.log.Error(ctx, "resetting strikes after expiry", "profile_id", profileID, "error", err.Error())
	}
	if _, err := e.auditor.Append(ctx, profileID, audit.Event{
		Type:      audit.EventSessionExpired,
		SessionID: sessionID,
	}); err != nil {
		e.log.Error(ctx, "auditing session expiry", "profile_id", profileID, "error", err.Error())
	}
}

// index mirrors the turn outcome into the dashboard database. Best effort:
// the audit chain already holds the authoritative record.
func (e *Engine) index(ctx context.Context, profileID, sessionID string, res classifier.Result) {
	if e.repos == nil {
		return
	}
	day := e.now().UTC().Format("2006-01-02")
	if err := e.repos.Stats.Bump(ctx, day, profileID, string(res.Verdict)); err != nil {
		e.log.Error(ctx, "bumping stats", "profile_id", profileID, "error", err.Error())
	}
	if res.Verdict == classifier.VerdictAllow {
		return
	}
	_, err := e.repos.Incidents.Add(ctx, &models.Incident{
		ProfileID: profileID,
		SessionID: sessionID,
		Category:  res.Category,
		Severity:  res.Severity,
		Verdict:   string(res.Verdict),
		Alerted:   res.Verdict == classifier.VerdictEscalate,
		CreatedAt: e.now().UTC(),
	})
	if err != nil {
		e.log.Error(ctx, "indexing incident", "profile_id", profileID, "error", err.Error())
	}
}
