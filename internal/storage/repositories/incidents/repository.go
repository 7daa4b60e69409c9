// Package incidents declares the repository contract for the dashboard's
// safety-incident index.
package incidents

import (
	"context"

	"github.com/brightnest/haven/internal/storage/models"
)

// Repository defines operations over the incident index.
type Repository interface {
	// Add inserts an incident and returns its row ID.
	Add(ctx context.Context, inc *models.Incident) (int64, error)

	// ListRecent returns up to limit incidents for the profile, newest
	// first. An empty profileID lists across all profiles.
	ListRecent(ctx context.Context, profileID string, limit int) ([]models.Incident, error)

	// ListUnacknowledged returns every incident awaiting parent review,
	// oldest first.
	ListUnacknowledged(ctx context.Context) ([]models.Incident, error)

	// AcknowledgeProfile marks every incident for the profile reviewed and
	// reports how many rows changed.
	AcknowledgeProfile(ctx context.Context, profileID string) (int64, error)
}
