package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"mindgrate/backend/pkg/models"
)

const mindopColumns = "id, user_id, name, description, created_at, updated_at"

func scanMindOp(row pgx.Row) (*models.MindOp, error) {
	var m models.MindOp
	err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.Description, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMindOp retrieves a MindOp by its ID.
func (s *PostgresStore) GetMindOp(ctx context.Context, id string) (*models.MindOp, error) {
	m, err := scanMindOp(s.db.QueryRow(ctx, "SELECT "+mindopColumns+" FROM mindops WHERE id = $1", id))
	return m, translate(err, "mindop")
}

// GetMindOpByUser retrieves the MindOp owned by a user.
func (s *PostgresStore) GetMindOpByUser(ctx context.Context, userID string) (*models.MindOp, error) {
	m, err := scanMindOp(s.db.QueryRow(ctx, "SELECT "+mindopColumns+" FROM mindops WHERE user_id = $1", userID))
	return m, translate(err, "mindop")
}

// UpsertMindOp creates the user's MindOp or updates it in place. The unique
// user_id column keeps it one per user.
func (s *PostgresStore) UpsertMindOp(ctx context.Context, mindop *models.MindOp) (bool, error) {
	var created bool
	err := s.db.QueryRow(ctx, `
		INSERT INTO mindops (user_id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description, updated_at = now()
		RETURNING id, created_at, updated_at, (xmax = 0)`,
		mindop.UserID, mindop.Name, mindop.Description,
	).Scan(&mindop.ID, &mindop.CreatedAt, &mindop.UpdatedAt, &created)
	if err != nil {
		return false, translate(err, "mindop")
	}
	return created, nil
}

// SearchMindOps matches the term against name and description.
func (s *PostgresStore) SearchMindOps(ctx context.Context, term, excludeUserID string, limit int) ([]*models.MindOp, error) {
	pattern := "%" + escapeLike(term) + "%"
	return queryRows(ctx, s.db, "mindop", scanMindOp, `
		SELECT `+mindopColumns+` FROM mindops
		WHERE (name ILIKE $1 OR description ILIKE $1)
		  AND ($2 = '' OR user_id::text <> $2)
		ORDER BY (lower(name) = lower($3)) DESC, name
		LIMIT $4`,
		pattern, excludeUserID, term, clampLimit(limit, 20, 50))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
