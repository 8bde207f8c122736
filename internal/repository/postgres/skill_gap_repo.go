package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/freeeve/writing-arena/internal/repository"
	"github.com/freeeve/writing-arena/pkg/arena"
)

// SkillGapRepo stores per-criterion weakness history, one row per user and criterion.
type SkillGapRepo struct {
	db *sql.DB
}

// NewSkillGapRepo creates a SkillGapRepo.
func NewSkillGapRepo(db *sql.DB) *SkillGapRepo {
	return &SkillGapRepo{db: db}
}

// ListGaps returns every tracked criterion for a user.
func (r *SkillGapRepo) ListGaps(ctx context.Context, userID string) ([]arena.CriterionHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT criterion, status, resolved_at, history
		 FROM skill_gaps WHERE user_id = $1 ORDER BY criterion`, userID)
	if err != nil {
		return nil, fmt.Errorf("list gaps: %w", err)
	}
	defer rows.Close()

	var out []arena.CriterionHistory
	for rows.Next() {
		h, err := scanGap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGap(s scanner) (*arena.CriterionHistory, error) {
	var h arena.CriterionHistory
	var status string
	var resolvedAt pq.NullTime
	var history []byte
	if err := s.Scan(&h.Criterion, &status, &resolvedAt, &history); err != nil {
		return nil, fmt.Errorf("scan gap: %w", err)
	}
	h.Status = arena.GapStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		h.ResolvedAt = &t
	}
	if err := json.Unmarshal(history, &h.Occurrences); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", h.Criterion, err)
	}
	return &h, nil
}

// UpdateGaps locks the user's rows for the given criteria, hands them to fn, and writes
// back every entry fn leaves in the map. Criteria without a row start empty.
func (r *SkillGapRepo) UpdateGaps(ctx context.Context, userID string, criteria []string, fn func(map[string]*arena.CriterionHistory) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Insert missing rows first so FOR UPDATE can lock every criterion.
	for _, c := range criteria {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO skill_gaps (user_id, criterion) VALUES ($1, $2)
			 ON CONFLICT (user_id, criterion) DO NOTHING`, userID, c)
		if err != nil {
			return fmt.Errorf("ensure gap row: %w", err)
		}
	}

	query := `SELECT criterion, status, resolved_at, history FROM skill_gaps
		 WHERE user_id = $1 ORDER BY criterion FOR UPDATE`
	args := []any{userID}
	if len(criteria) > 0 {
		query = `SELECT criterion, status, resolved_at, history FROM skill_gaps
		 WHERE user_id = $1 AND criterion = ANY($2) ORDER BY criterion FOR UPDATE`
		args = append(args, pq.Array(criteria))
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("lock gaps: %w", err)
	}
	gaps := make(map[string]*arena.CriterionHistory)
	for rows.Next() {
		h, err := scanGap(rows)
		if err != nil {
			rows.Close()
			return err
		}
		gaps[h.Criterion] = h
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock gaps: %w", err)
	}

	if err := fn(gaps); err != nil {
		return err
	}

	for criterion, h := range gaps {
		history, err := json.Marshal(h.Occurrences)
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		status := h.Status
		if status == "" {
			status = arena.GapActive
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE skill_gaps SET status = $3, resolved_at = $4, history = $5, updated_at = now()
			 WHERE user_id = $1 AND criterion = $2`,
			userID, criterion, string(status), h.ResolvedAt, history)
		if err != nil {
			return fmt.Errorf("update gap %s: %w", criterion, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit gaps: %w", err)
	}
	return nil
}

var _ repository.SkillGapRepository = (*SkillGapRepo)(nil)
