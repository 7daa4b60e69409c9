package strikes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/policy"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	root := t.TempDir()
	dirFor := func(id string) (string, error) {
		if filepath.Base(id) != id || id == "" {
			return "", common.ErrIsolationViolation
		}
		return filepath.Join(root, id), nil
	}
	return NewTracker(3, dirFor, logging.NewNop())
}

func TestAdd_EscalatesAtLimit(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	n, esc, err := tr.Add(ctx, "p1", policy.CategoryViolence, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, esc)

	n, esc, err = tr.Add(ctx, "p1", policy.CategoryScary, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, esc)

	n, esc, err = tr.Add(ctx, "p1", policy.CategoryViolence, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, esc)
}

func TestAdd_CumulativeCount(t *testing.T) {
	tr := newTestTracker(t)

	// a single message with three PII hits crosses the limit at once
	n, esc, err := tr.Add(context.Background(), "p1", policy.CategoryPersonalInfo, 3, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, esc)
}

func TestAdd_CumulativeSurvivesSessionReset(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// one hit per session still climbs toward the limit
	n, esc, err := tr.Add(ctx, "p1", policy.CategoryPersonalInfo, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, esc)

	require.NoError(t, tr.ResetSession(ctx, "p1"))

	n, esc, err = tr.Add(ctx, "p1", policy.CategoryPersonalInfo, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, esc)

	require.NoError(t, tr.ResetSession(ctx, "p1"))

	n, esc, err = tr.Add(ctx, "p1", policy.CategoryPersonalInfo, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, esc)
}

func TestAcknowledge_ClearsCumulative(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, _, err := tr.Add(ctx, "p1", policy.CategoryPersonalInfo, 2, true)
	require.NoError(t, err)
	require.NoError(t, tr.Acknowledge(ctx, "p1"))

	// the ladder starts over after a parent review
	n, esc, err := tr.Add(ctx, "p1", policy.CategoryPersonalInfo, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, esc)
}

func TestCheckLocked(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.CheckLocked(ctx, "p1"))

	_, _, err := tr.Add(ctx, "p1", policy.CategoryViolence, 3, false)
	require.NoError(t, err)

	assert.ErrorIs(t, tr.CheckLocked(ctx, "p1"), common.ErrProfileLocked)
}

func TestResetSession_KeepsLockAndTotals(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, _, err := tr.Add(ctx, "p1", policy.CategoryViolence, 3, false)
	require.NoError(t, err)

	require.NoError(t, tr.ResetSession(ctx, "p1"))

	n, err := tr.SessionCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// lock survives a session reset
	assert.ErrorIs(t, tr.CheckLocked(ctx, "p1"), common.ErrProfileLocked)

	totals, err := tr.Totals(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, totals[string(policy.CategoryViolence)])
}

func TestAcknowledge_ClearsLock(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, _, err := tr.Add(ctx, "p1", policy.CategoryViolence, 3, false)
	require.NoError(t, err)
	require.ErrorIs(t, tr.CheckLocked(ctx, "p1"), common.ErrProfileLocked)

	require.NoError(t, tr.Acknowledge(ctx, "p1"))
	assert.NoError(t, tr.CheckLocked(ctx, "p1"))

	totals, err := tr.Totals(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, totals[string(policy.CategoryViolence)])
}

func TestPersistence_SurvivesRestart(t *testing.T) {
	root := t.TempDir()
	dirFor := func(id string) (string, error) { return filepath.Join(root, id), nil }
	ctx := context.Background()

	tr1 := NewTracker(3, dirFor, logging.NewNop())
	_, _, err := tr1.Add(ctx, "p1", policy.CategoryBullying, 2, false)
	require.NoError(t, err)

	// new tracker over the same directory sees the same state
	tr2 := NewTracker(3, dirFor, logging.NewNop())
	n, err := tr2.SessionCount(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, esc, err := tr2.Add(ctx, "p1", policy.CategoryBullying, 1, false)
	require.NoError(t, err)
	assert.True(t, esc)
}

func TestAdd_WritesBeforeReturning(t *testing.T) {
	root := t.TempDir()
	dirFor := func(id string) (string, error) { return filepath.Join(root, id), nil }
	tr := NewTracker(3, dirFor, logging.NewNop())

	_, _, err := tr.Add(context.Background(), "p1", policy.CategoryViolence, 1, false)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(root, "p1", stateFile))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"session_strikes":1`)
}

func TestIsolation_BadProfileID(t *testing.T) {
	tr := newTestTracker(t)
	_, _, err := tr.Add(context.Background(), "../escape", policy.CategoryViolence, 1, false)
	assert.ErrorIs(t, err, common.ErrIsolationViolation)
}

func TestProfilesAreIndependent(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := tr.Add(ctx, "p1", policy.CategoryViolence, 1, false)
		require.NoError(t, err)
	}

	n, err := tr.SessionCount(ctx, fmt.Sprintf("p%d", 2))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, tr.CheckLocked(ctx, "p2"))
}
