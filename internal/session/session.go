// Package session bounds child chat sessions. A session moves through a
// small state machine: ACTIVE -> IDLE_WARNED after a quiet spell, then
// EXPIRED if the quiet continues or the absolute cap is hit; ACTIVE or
// IDLE_WARNED -> CLOSED on a normal goodbye. At most one live session per
// profile; opening a new one closes the old one first. Timeouts are
// evaluated lazily on Touch and by the periodic Sweep, so no per-session
// timer goroutines are needed.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/policy"
)

// State is the lifecycle state of a session.
type State int

const (
	StateActive State = iota + 1
	StateIdleWarned
	StateExpired
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateIdleWarned:
		return "idle_warned"
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one bounded chat session. Fields are snapshots; the manager
// owns the live state.
type Session struct {
	ID           string
	ProfileID    string
	Tier         policy.Tier
	StartedAt    time.Time
	LastActivity time.Time
	MaxDuration  time.Duration
	State        State
	Messages     int
}

// Check is the result of a Touch: the state after evaluation and, when the
// session just crossed the idle-warning threshold, a warning flag the
// caller should surface to the child.
type Check struct {
	State     State
	IdleWarn  bool
	Remaining time.Duration
}

// Manager tracks live sessions. Safe for concurrent use.
type Manager struct {
	idleWarn    time.Duration
	idleExpire  time.Duration
	maxDuration time.Duration
	log         logging.Logger

	mu     sync.Mutex
	byID   map[string]*Session
	active map[string]string // profileID -> sessionID

	now func() time.Time
}

// NewManager builds a manager with the given idle-warning, idle-expiry and
// absolute-duration bounds.
func NewManager(idleWarn, idleExpire, maxDuration time.Duration, log logging.Logger) *Manager {
	return &Manager{
		idleWarn:    idleWarn,
		idleExpire:  idleExpire,
		maxDuration: maxDuration,
		log:         log.With("component", "session"),
		byID:        map[string]*Session{},
		active:      map[string]string{},
		now:         time.Now,
	}
}

// Open starts a session for the profile. A profile can hold only one live
// session, so any session still live for the profile is closed first.
// limitOverride, when positive and shorter than the global cap, tightens
// the absolute duration for this session.
func (m *Manager) Open(ctx context.Context, profileID string, tier policy.Tier, limitOverride time.Duration) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sid, ok := m.active[profileID]; ok {
		if s := m.byID[sid]; s != nil && m.liveLocked(s) {
			s.State = StateClosed
			m.log.Info(ctx, "session replaced", "session_id", sid, "profile_id", profileID)
		}
		delete(m.active, profileID)
	}

	max := m.maxDuration
	if limitOverride > 0 && limitOverride < max {
		max = limitOverride
	}

	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		ProfileID:    profileID,
		Tier:         tier,
		StartedAt:    now,
		LastActivity: now,
		MaxDuration:  max,
		State:        StateActive,
	}
	m.byID[s.ID] = s
	m.active[profileID] = s.ID

	m.log.Info(ctx, "session opened",
		"session_id", s.ID, "profile_id", profileID,
		"tier", tier.String(), "max_duration", max.String())
	return *s, nil
}

// Touch records activity on the session and evaluates the timeouts. It
// returns ErrSessionClosed once the session is expired or closed.
func (m *Manager) Touch(ctx context.Context, sessionID string) (Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok {
		return Check{}, fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	if !m.liveLocked(s) {
		return Check{State: s.State}, fmt.Errorf("session %s is %s: %w", sessionID, s.State, common.ErrSessionClosed)
	}

	now := m.now()
	if now.Sub(s.StartedAt) >= s.MaxDuration {
		m.expireLocked(ctx, s, "absolute limit reached")
		return Check{State: s.State}, fmt.Errorf("session %s time limit reached: %w", sessionID, common.ErrSessionClosed)
	}
	if idle := now.Sub(s.LastActivity); idle >= m.idleExpire {
		m.expireLocked(ctx, s, "idle timeout")
		return Check{State: s.State}, fmt.Errorf("session %s idle timeout: %w", sessionID, common.ErrSessionClosed)
	}

	check := Check{Remaining: s.MaxDuration - now.Sub(s.StartedAt)}
	if now.Sub(s.LastActivity) >= m.idleWarn && s.State == StateActive {
		s.State = StateIdleWarned
		check.IdleWarn = true
	} else if s.State == StateIdleWarned {
		// activity after a warning returns the session to ACTIVE
		s.State = StateActive
	}
	s.LastActivity = now
	s.Messages++
	check.State = s.State
	return check, nil
}

// Close ends the session normally.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	if !m.liveLocked(s) {
		return fmt.Errorf("session %s is %s: %w", sessionID, s.State, common.ErrSessionClosed)
	}
	s.State = StateClosed
	delete(m.active, s.ProfileID)
	m.log.Info(ctx, "session closed",
		"session_id", s.ID, "profile_id", s.ProfileID,
		"messages", s.Messages, "duration", m.now().Sub(s.StartedAt).Round(time.Second).String())
	return nil
}

// Abandon force-ends whatever session the profile currently holds, e.g.
// on an escalation lock or a profile switch. No error if none is live.
func (m *Manager) Abandon(ctx context.Context, profileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sid, ok := m.active[profileID]
	if !ok {
		return
	}
	if s := m.byID[sid]; s != nil && m.liveLocked(s) {
		s.State = StateClosed
		m.log.Warn(ctx, "session abandoned", "session_id", sid, "profile_id", profileID)
	}
	delete(m.active, profileID)
}

// Get returns a snapshot of the session.
func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	return *s, nil
}

// Sweep expires every live session whose idle or absolute bound has passed
// and returns the expired snapshots. Meant to be called periodically.
func (m *Manager) Sweep(ctx context.Context) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []Session
	for _, s := range m.byID {
		if !m.liveLocked(s) {
			continue
		}
		switch {
		case now.Sub(s.StartedAt) >= s.MaxDuration:
			m.expireLocked(ctx, s, "absolute limit reached")
			expired = append(expired, *s)
		case now.Sub(s.LastActivity) >= m.idleExpire:
			m.expireLocked(ctx, s, "idle timeout")
			expired = append(expired, *s)
		}
	}
	return expired
}

func (m *Manager) liveLocked(s *Session) bool {
	return s.State == StateActive || s.State == StateIdleWarned
}

func (m *Manager) expireLocked(ctx context.Context, s *Session, reason string) {
	s.State = StateExpired
	delete(m.active, s.ProfileID)
	m.log.Info(ctx, "session expired",
		"session_id", s.ID, "profile_id", s.ProfileID, "reason", reason)
}
