package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/policy"
)

// clock is a controllable time source for the manager.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)}
	m := NewManager(10*time.Minute, 15*time.Minute, time.Hour, logging.NewNop())
	m.now = c.now
	return m, c
}

func TestOpen_ReplacesLiveSession(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State)

	// opening again closes the first session; only one stays live
	s2, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, s2.ID)

	old, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, old.State)
	assert.Equal(t, s2.ID, mustActiveID(t, m, "p1"))

	// a different profile is unaffected
	_, err = m.Open(ctx, "p2", policy.TierEarly, 0)
	assert.NoError(t, err)
}

func TestOpen_AfterClose(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, s.ID))

	_, err = m.Open(ctx, "p1", policy.TierMiddle, 0)
	assert.NoError(t, err)
}

func TestOpen_LimitOverrideTightensCap(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Open(context.Background(), "p1", policy.TierEarly, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, s.MaxDuration)

	// an override looser than the global cap is ignored
	s2, err := m.Open(context.Background(), "p2", policy.TierTeen, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, s2.MaxDuration)
}

func TestTouch_ActiveFlow(t *testing.T) {
	m, c := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)

	c.advance(5 * time.Minute)
	check, err := m.Touch(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, check.State)
	assert.False(t, check.IdleWarn)
	assert.Equal(t, 55*time.Minute, check.Remaining)
}

func TestTouch_IdleWarnThenRecover(t *testing.T) {
	m, c := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)

	c.advance(11 * time.Minute)
	check, err := m.Touch(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIdleWarned, check.State)
	assert.True(t, check.IdleWarn)

	// prompt activity after the warning returns to ACTIVE
	c.advance(time.Minute)
	check, err = m.Touch(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, check.State)
	assert.False(t, check.IdleWarn)
}

func TestTouch_IdleExpiry(t *testing.T) {
	m, c := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)

	c.advance(16 * time.Minute)
	_, err = m.Touch(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrSessionClosed)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, got.State)

	// the slot frees up
	_, err = m.Open(ctx, "p1", policy.TierMiddle, 0)
	assert.NoError(t, err)
}

func TestTouch_AbsoluteExpiry(t *testing.T) {
	m, c := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)

	// stay busy so idle never triggers, but run past the absolute cap
	for i := 0; i < 7; i++ {
		c.advance(9 * time.Minute)
		_, err = m.Touch(ctx, s.ID)
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, common.ErrSessionClosed)

	got, getErr := m.Get(s.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StateExpired, got.State)
}

func TestTouch_ClosedSession(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, s.ID))

	_, err = m.Touch(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrSessionClosed)

	err = m.Close(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrSessionClosed)
}

func TestTouch_UnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Touch(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAbandon(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)

	m.Abandon(ctx, "p1")
	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, got.State)

	// abandoning with nothing live is a no-op
	m.Abandon(ctx, "p1")

	_, err = m.Open(ctx, "p1", policy.TierMiddle, 0)
	assert.NoError(t, err)
}

func TestSweep(t *testing.T) {
	m, c := newTestManager(t)
	ctx := context.Background()

	s1, err := m.Open(ctx, "p1", policy.TierMiddle, 0)
	require.NoError(t, err)
	_, err = m.Open(ctx, "p2", policy.TierTeen, 0)
	require.NoError(t, err)

	// keep p2 fresh, let p1 go idle past expiry
	c.advance(10 * time.Minute)
	_, err = m.Touch(ctx, mustActiveID(t, m, "p2"))
	require.NoError(t, err)
	c.advance(6 * time.Minute)

	expired := m.Sweep(ctx)
	require.Len(t, expired, 1)
	assert.Equal(t, s1.ID, expired[0].ID)
	assert.Equal(t, StateExpired, expired[0].State)
}

func mustActiveID(t *testing.T, m *Manager, profileID string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.active[profileID]
	require.True(t, ok)
	return sid
}
