// Package models defines the rows stored in the dashboard database. The
// sqlite index is a convenience view for parents; the per-profile audit
// chain stays the source of truth.
package models

import "time"

// Incident is one indexed safety event.
type Incident struct {
	ID           int64
	ProfileID    string
	SessionID    string
	Category     string
	Severity     string
	Verdict      string
	Excerpt      string
	Alerted      bool
	Acknowledged bool
	CreatedAt    time.Time
}

// DayStats aggregates filtering outcomes for one profile on one day
// (YYYY-MM-DD).
type DayStats struct {
	Day        string
	ProfileID  string
	Messages   int
	Allowed    int
	Redirected int
	Blocked    int
	Escalated  int
}

// RefreshToken is a stored dashboard refresh token.
type RefreshToken struct {
	UserID  string
	Expires time.Time
}
