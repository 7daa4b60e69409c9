// Package refreshtokens declares the repository contract for dashboard
// refresh tokens.
package refreshtokens

import (
	"context"
	"time"

	"github.com/brightnest/haven/internal/storage/models"
)

// Repository defines operations for issuing, retrieving, and revoking
// refresh tokens.
type Repository interface {
	// Create stores a new refresh token for userID expiring at now+validity.
	Create(ctx context.Context, userID string, token string, validity time.Duration) error

	// Find looks up a refresh token by its opaque string. Returns
	// common.ErrNotFound when absent.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete removes a refresh token. Deleting a token that does not exist
	// is not an error.
	Delete(ctx context.Context, token string) error
}
