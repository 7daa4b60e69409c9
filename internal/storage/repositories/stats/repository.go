// Package stats declares the repository contract for daily filtering
// counters.
package stats

import (
	"context"

	"github.com/brightnest/haven/internal/storage/models"
)

// Repository accumulates and reads per-day filtering outcomes.
type Repository interface {
	// Bump increments the counter for one verdict on (day, profileID).
	// day is YYYY-MM-DD; verdict is allow, redirect, block, or escalate.
	Bump(ctx context.Context, day, profileID, verdict string) error

	// Range returns the rows for the profile between fromDay and toDay
	// inclusive, oldest first.
	Range(ctx context.Context, profileID, fromDay, toDay string) ([]models.DayStats, error)
}
