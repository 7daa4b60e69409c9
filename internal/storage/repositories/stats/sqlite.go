package stats

import (
	"context"
	"fmt"

	"github.com/brightnest/haven/internal/dbx"
	"github.com/brightnest/haven/internal/storage/models"
)

// SQLiteRepository implements Repository over dbx.DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// verdict -> counter column. Kept explicit so a bad verdict can never
// reach string interpolation in SQL.
var verdictColumns = map[string]string{
	"allow":    "allowed",
	"redirect": "redirected",
	"block":    "blocked",
	"escalate": "escalated",
}

func (r *SQLiteRepository) Bump(ctx context.Context, day, profileID, verdict string) error {
	col, ok := verdictColumns[verdict]
	if !ok {
		return fmt.Errorf("unknown verdict %q", verdict)
	}
	query := fmt.Sprintf(`
		INSERT INTO filter_stats (day, profile_id, messages, %[1]s)
		VALUES (?, ?, 1, 1)
		ON CONFLICT (day, profile_id)
		DO UPDATE SET messages = messages + 1, %[1]s = %[1]s + 1
	`, col)
	if _, err := r.db.ExecContext(ctx, query, day, profileID); err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func (r *SQLiteRepository) Range(ctx context.Context, profileID, fromDay, toDay string) ([]models.DayStats, error) {
	query := `
		SELECT day, profile_id, messages, allowed, redirected, blocked, escalated
		FROM filter_stats
		WHERE profile_id = ? AND day >= ? AND day <= ?
		ORDER BY day ASC
	`
	rows, err := r.db.QueryContext(ctx, query, profileID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()

	var out []models.DayStats
	for rows.Next() {
		var d models.DayStats
		if err := rows.Scan(&d.Day, &d.ProfileID, &d.Messages, &d.Allowed,
			&d.Redirected, &d.Blocked, &d.Escalated); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
