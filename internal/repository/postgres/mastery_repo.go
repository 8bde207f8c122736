package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/freeeve/writing-arena/internal/repository"
)

// MasteryRepo reads the denormalized lesson mastery table maintained by the lesson system.
type MasteryRepo struct {
	db *sql.DB
}

// NewMasteryRepo creates a MasteryRepo.
func NewMasteryRepo(db *sql.DB) *MasteryRepo {
	return &MasteryRepo{db: db}
}

// MasteredLessons returns lessonId -> mastered for a user.
func (r *MasteryRepo) MasteredLessons(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT lesson_id, mastered FROM lesson_mastery WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("mastered lessons: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		var mastered bool
		if err := rows.Scan(&id, &mastered); err != nil {
			return nil, fmt.Errorf("scan mastery: %w", err)
		}
		out[id] = mastered
	}
	return out, rows.Err()
}

// SetMastered upserts a lesson's mastery flag. Used by tooling and tests; the lesson
// system owns this table in production.
func (r *MasteryRepo) SetMastered(ctx context.Context, userID, lessonID string, mastered bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lesson_mastery (user_id, lesson_id, mastered) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, lesson_id) DO UPDATE SET mastered = EXCLUDED.mastered, updated_at = now()`,
		userID, lessonID, mastered)
	if err != nil {
		return fmt.Errorf("set mastered: %w", err)
	}
	return nil
}

var _ repository.MasteryReader = (*MasteryRepo)(nil)
