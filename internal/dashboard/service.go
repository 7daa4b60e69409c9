// Package dashboard is the parent-facing review surface: password login
// issuing short-lived tokens, alert and incident review, usage summaries,
// strike acknowledgment, and audit verification. It runs in-process; the
// token dance exists so a future remote front-end can reuse the service
// unchanged, and so the CLI drops parent privileges the moment its access
// token expires.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightnest/haven/internal/audit"
	"github.com/brightnest/haven/internal/auth"
	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/dbx"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/profile"
	"github.com/brightnest/haven/internal/storage"
	"github.com/brightnest/haven/internal/storage/models"
	"github.com/brightnest/haven/internal/storage/repositories/refreshtokens"
	"github.com/brightnest/haven/internal/strikes"
)

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Summary is the per-profile report shown to parents.
type Summary struct {
	ProfileID    string
	Days         []models.DayStats
	StrikeTotals map[string]int
	AuditEntries int
	AuditOK      bool
}

// Service implements the parent dashboard operations.
type Service struct {
	profiles *profile.Store
	tracker  *strikes.Tracker
	auditor  *audit.Log
	repos    *storage.Repositories
	log      logging.Logger

	secretKey       []byte
	accessValidity  time.Duration
	refreshValidity time.Duration
}

// New wires a dashboard service.
func New(
	profiles *profile.Store,
	tracker *strikes.Tracker,
	auditor *audit.Log,
	repos *storage.Repositories,
	secretKey []byte,
	accessValidity, refreshValidity time.Duration,
	log logging.Logger,
) *Service {
	return &Service{
		profiles:        profiles,
		tracker:         tracker,
		auditor:         auditor,
		repos:           repos,
		log:             log.With("component", "dashboard"),
		secretKey:       secretKey,
		accessValidity:  accessValidity,
		refreshValidity: refreshValidity,
	}
}

// Login verifies the parent password (rate limited by the profile store)
// and issues a token pair.
func (s *Service) Login(ctx context.Context, password []byte) (TokenPair, error) {
	if err := s.profiles.Login(ctx, password); err != nil {
		return TokenPair{}, err
	}
	return s.issueTokens(ctx, s.profiles.FamilyID(), s.repos.RefreshTokens)
}

// Refresh rotates a refresh token: the old token is revoked and a new pair
// issued in one transaction, so a stolen-then-replayed token can be used
// at most once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var pair TokenPair
	err := dbx.WithTx(ctx, s.repos.DB, func(ctx context.Context, tx dbx.DBTX) error {
		repo := refreshtokens.NewSQLiteRepository(tx)

		rt, err := repo.Find(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrInvalidToken
			}
			return err
		}
		if err := repo.Delete(ctx, refreshToken); err != nil {
			return err
		}
		if time.Now().After(rt.Expires) {
			return common.ErrRefreshTokenExpired
		}

		pair, err = s.issueTokens(ctx, rt.UserID, repo)
		return err
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *Service) issueTokens(ctx context.Context, familyID string, repo refreshtokens.Repository) (TokenPair, error) {
	access, err := auth.GenerateToken(familyID, s.secretKey, s.accessValidity)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return TokenPair{}, err
	}
	if err := repo.Create(ctx, familyID, refresh, s.refreshValidity); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) authorize(token string) error {
	id, err := auth.FamilyIDFromToken(token, s.secretKey)
	if err != nil {
		return err
	}
	if id != s.profiles.FamilyID() {
		return common.ErrInvalidToken
	}
	return nil
}

// Alerts returns every incident awaiting parent review, oldest first.
func (s *Service) Alerts(ctx context.Context, token string) ([]models.Incident, error) {
	if err := s.authorize(token); err != nil {
		return nil, err
	}
	return s.repos.Incidents.ListUnacknowledged(ctx)
}

// Incidents returns the most recent incidents for one profile ("" for
// all).
func (s *Service) Incidents(ctx context.Context, token, profileID string, limit int) ([]models.Incident, error) {
	if err := s.authorize(token); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repos.Incidents.ListRecent(ctx, profileID, limit)
}

// Summarize builds the activity report for a profile over the trailing
// days window, including an audit-chain verification result.
func (s *Service) Summarize(ctx context.Context, token, profileID string, days int) (Summary, error) {
	if err := s.authorize(token); err != nil {
		return Summary{}, err
	}
	if days <= 0 {
		days = 7
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -(days - 1))
	rows, err := s.repos.Stats.Range(ctx, profileID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return Summary{}, err
	}

	totals, err := s.tracker.Totals(ctx, profileID)
	if err != nil {
		return Summary{}, err
	}

	entries, verifyErr := s.auditor.Verify(ctx, profileID)

	return Summary{
		ProfileID:    profileID,
		Days:         rows,
		StrikeTotals: totals,
		AuditEntries: entries,
		AuditOK:      verifyErr == nil,
	}, nil
}

// AcknowledgeStrikes is the parent action that clears a profile's
// escalation lock, marks its incidents reviewed, and audits the action.
func (s *Service) AcknowledgeStrikes(ctx context.Context, token, profileID string) error {
	if err := s.authorize(token); err != nil {
		return err
	}
	if err := s.tracker.Acknowledge(ctx, profileID); err != nil {
		return err
	}
	n, err := s.repos.Incidents.AcknowledgeProfile(ctx, profileID)
	if err != nil {
		return err
	}
	if _, err := s.auditor.Append(ctx, profileID, audit.Event{
		Type:   audit.EventParentAction,
		Detail: fmt.Sprintf("strikes acknowledged, %d incidents reviewed", n),
	}); err != nil {
		return err
	}
	s.log.Info(ctx, "strikes acknowledged", "profile_id", profileID, "incidents", n)
	return nil
}

// VerifyAudit walks the profile's audit chain and reports how many entries
// verified; a non-nil error wraps audit.ErrTampered.
func (s *Service) VerifyAudit(ctx context.Context, token, profileID string) (int, error) {
	if err := s.authorize(token); err != nil {
		return 0, err
	}
	return s.auditor.Verify(ctx, profileID)
}
