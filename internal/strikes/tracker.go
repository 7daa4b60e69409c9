// Package strikes tracks safety strikes per child profile. Session strikes
// accumulate while a child chats and trigger escalation at the configured
// limit; cumulative categories additionally keep a per-profile counter that
// survives session resets, so slow probing (one personal-info attempt per
// session) still escalates. Per-category totals persist for the parent
// dashboard. State lives in strikes.json inside the profile directory and
// is written through before any escalation decision is returned, so a crash
// never loses a strike that was acted on.
package strikes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/filex"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/policy"
)

const stateFile = "strikes.json"

// state is the persisted per-profile strike record. Cumulative holds the
// per-category counters that outlive sessions; only a parent acknowledgement
// clears them.
type state struct {
	SessionStrikes int            `json:"session_strikes"`
	Cumulative     map[string]int `json:"cumulative,omitempty"`
	Totals         map[string]int `json:"totals"`
	Locked         bool           `json:"locked"`
	LockedAt       time.Time      `json:"locked_at,omitzero"`
	LastStrikeAt   time.Time      `json:"last_strike_at,omitzero"`
}

// DirFunc resolves a profile ID to its storage directory. The profile
// store's ProfileDir satisfies it, including the isolation check.
type DirFunc func(profileID string) (string, error)

// Tracker counts strikes for all profiles. Safe for concurrent use.
type Tracker struct {
	limit  int
	dirFor DirFunc
	log    logging.Logger

	mu    sync.Mutex
	cache map[string]*state

	now func() time.Time
}

// NewTracker returns a tracker that escalates when a session reaches limit
// strikes.
func NewTracker(limit int, dirFor DirFunc, log logging.Logger) *Tracker {
	return &Tracker{
		limit:  limit,
		dirFor: dirFor,
		log:    log.With("component", "strikes"),
		cache:  map[string]*state{},
		now:    time.Now,
	}
}

// Add records count strikes against the profile for the given category and
// reports the effective strike count plus whether it crossed the escalation
// threshold. For a cumulative category the effective count is the larger of
// the session counter and the category's profile-lifetime counter, so the
// threshold holds across session boundaries. The state is persisted before
// returning.
func (t *Tracker) Add(ctx context.Context, profileID string, category policy.Category, count int, cumulative bool) (strikeCount int, escalate bool, err error) {
	if count < 1 {
		count = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.loadLocked(profileID)
	if err != nil {
		return 0, false, err
	}

	st.SessionStrikes += count
	st.Totals[string(category)] += count
	st.LastStrikeAt = t.now().UTC()

	strikeCount = st.SessionStrikes
	if cumulative {
		if st.Cumulative == nil {
			st.Cumulative = map[string]int{}
		}
		st.Cumulative[string(category)] += count
		if n := st.Cumulative[string(category)]; n > strikeCount {
			strikeCount = n
		}
	}

	escalate = strikeCount >= t.limit
	if escalate && !st.Locked {
		st.Locked = true
		st.LockedAt = st.LastStrikeAt
	}

	if err := t.persistLocked(profileID, st); err != nil {
		return 0, false, err
	}

	t.log.Info(ctx, "strike recorded",
		"profile_id", profileID,
		"category", string(category),
		"strike_count", strikeCount,
		"escalate", escalate)
	return strikeCount, escalate, nil
}

// SessionCount returns the current session strike count.
func (t *Tracker) SessionCount(ctx context.Context, profileID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.loadLocked(profileID)
	if err != nil {
		return 0, err
	}
	return st.SessionStrikes, nil
}

// Totals returns the persistent per-category strike totals.
func (t *Tracker) Totals(ctx context.Context, profileID string) (map[string]int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.loadLocked(profileID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(st.Totals))
	for k, v := range st.Totals {
		out[k] = v
	}
	return out, nil
}

// CheckLocked returns ErrProfileLocked when an escalation lock is in place.
func (t *Tracker) CheckLocked(ctx context.Context, profileID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.loadLocked(profileID)
	if err != nil {
		return err
	}
	if st.Locked {
		return fmt.Errorf("profile %s awaiting parent review: %w", profileID, common.ErrProfileLocked)
	}
	return nil
}

// ForceLock places an escalation lock without counting a strike. Used for
// emergency categories that bypass the strike ladder.
func (t *Tracker) ForceLock(ctx context.Context, profileID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.loadLocked(profileID)
	if err != nil {
		return err
	}
	if st.Locked {
		return nil
	}
	st.Locked = true
	st.LockedAt = t.now().UTC()
	if err := t.persistLocked(profileID, st); err != nil {
		return err
	}
	t.log.Warn(ctx, "profile force-locked", "profile_id", profileID)
	return nil
}

// ResetSession zeroes the session strike count when a session ends.
// Cumulative counters and an escalation lock survive the reset; only
// Acknowledge clears those.
func (t *Tracker) ResetSession(ctx context.Context, profileID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.loadLocked(profileID)
	if err != nil {
		return err
	}
	if st.SessionStrikes == 0 {
		return nil
	}
	st.SessionStrikes = 0
	return t.persistLocked(profileID, st)
}

// Acknowledge is the parent action that clears an escalation lock, the
// session counter, and the cumulative counters. Totals are kept.
func (t *Tracker) Acknowledge(ctx context.Context, profileID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, err := t.loadLocked(profileID)
	if err != nil {
		return err
	}
	st.Locked = false
	st.LockedAt = time.Time{}
	st.SessionStrikes = 0
	st.Cumulative = nil
	if err := t.persistLocked(profileID, st); err != nil {
		return err
	}
	t.log.Info(ctx, "strikes acknowledged", "profile_id", profileID)
	return nil
}

func (t *Tracker) loadLocked(profileID string) (*state, error) {
	if st, ok := t.cache[profileID]; ok {
		return st, nil
	}

	dir, err := t.dirFor(profileID)
	if err != nil {
		return nil, err
	}

	st := &state{Totals: map[string]int{}}
	b, err := os.ReadFile(filepath.Join(dir, stateFile))
	switch {
	case os.IsNotExist(err):
		// first strike file for this profile
	case err != nil:
		return nil, fmt.Errorf("read strikes for %s: %w", profileID, err)
	default:
		if err := json.Unmarshal(b, st); err != nil {
			return nil, fmt.Errorf("parse strikes for %s: %w", profileID, common.ErrConfiguration)
		}
		if st.Totals == nil {
			st.Totals = map[string]int{}
		}
	}

	t.cache[profileID] = st
	return st, nil
}

func (t *Tracker) persistLocked(profileID string, st *state) error {
	dir, err := t.dirFor(profileID)
	if err != nil {
		return err
	}
	if _, err := filex.EnsureDir(dir); err != nil {
		return err
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return filex.AtomicWrite(filepath.Join(dir, stateFile), b, 0o600)
}

// Forget drops the in-memory cache entry, e.g. after a profile delete.
func (t *Tracker) Forget(profileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cache, profileID)
}
