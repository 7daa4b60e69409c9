package incidents

import (
	"context"
	"fmt"

	"github.com/brightnest/haven/internal/dbx"
	"github.com/brightnest/haven/internal/storage/models"
)

// SQLiteRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository constructs a repository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Add(ctx context.Context, inc *models.Incident) (int64, error) {
	query := `
		INSERT INTO incidents (profile_id, session_id, category, severity, verdict, excerpt, alerted, acknowledged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		inc.ProfileID, inc.SessionID, inc.Category, inc.Severity,
		inc.Verdict, inc.Excerpt, inc.Alerted, inc.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %v", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) ListRecent(ctx context.Context, profileID string, limit int) ([]models.Incident, error) {
	query := `
		SELECT id, profile_id, session_id, category, severity, verdict, excerpt, alerted, acknowledged, created_at
		FROM incidents
		WHERE (? = '' OR profile_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, profileID, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func (r *SQLiteRepository) ListUnacknowledged(ctx context.Context) ([]models.Incident, error) {
	query := `
		SELECT id, profile_id, session_id, category, severity, verdict, excerpt, alerted, acknowledged, created_at
		FROM incidents
		WHERE acknowledged = 0
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func (r *SQLiteRepository) AcknowledgeProfile(ctx context.Context, profileID string) (int64, error) {
	query := `
		UPDATE incidents
		SET acknowledged = 1
		WHERE profile_id = ? AND acknowledged = 0
	`
	res, err := r.db.ExecContext(ctx, query, profileID)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %v", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanIncidents(rows rowScanner) ([]models.Incident, error) {
	var out []models.Incident
	for rows.Next() {
		var inc models.Incident
		if err := rows.Scan(&inc.ID, &inc.ProfileID, &inc.SessionID, &inc.Category,
			&inc.Severity, &inc.Verdict, &inc.Excerpt, &inc.Alerted,
			&inc.Acknowledged, &inc.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
