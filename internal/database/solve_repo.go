package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/foxxcyber/solvcaptcha/internal/models"
)

var ErrSolveNotFound = errors.New("solve not found")

const solveColumns = `id, user_id, status, best_text, confidence, sources, s3_key, content_type,
	error_message, duration_ms, created_at, expires_at`

func scanSolve(row pgx.Row, s *models.Solve) error {
	err := row.Scan(
		&s.ID, &s.UserID, &s.Status, &s.BestText, &s.Confidence, &s.Sources, &s.S3Key, &s.ContentType,
		&s.ErrorMessage, &s.DurationMS, &s.CreatedAt, &s.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSolveNotFound
	}
	return err
}

// CreateSolve stores a finished solve and its candidates in merge order
func (db *DB) CreateSolve(ctx context.Context, req *models.CreateSolveRequest) (*models.Solve, error) {
	result := req.Result
	if result == nil {
		result = models.EmptyResult()
	}
	var contentType *string
	if req.ContentType != "" {
		contentType = &req.ContentType
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	solve := &models.Solve{}
	err = scanSolve(tx.QueryRow(ctx, `
		INSERT INTO solves (user_id, status, best_text, confidence, sources, s3_key, content_type,
			error_message, duration_ms, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+solveColumns,
		req.UserID, models.StatusFor(result, req.ErrorMessage), result.BestText, result.Confidence,
		result.Sources, req.S3Key, contentType, req.ErrorMessage, req.Duration.Milliseconds(),
		time.Now().Add(req.Retention),
	), solve)
	if err != nil {
		return nil, fmt.Errorf("failed to insert solve: %w", err)
	}

	if len(result.Candidates) > 0 {
		rows := make([][]interface{}, len(result.Candidates))
		for i, c := range result.Candidates {
			rows[i] = []interface{}{solve.ID, i, c.Source, c.Text}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"solve_candidates"},
			[]string{"solve_id", "position", "source", "text"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert candidates: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return solve, nil
}

// GetSolve returns one solve with its candidates. A non-nil userID
// restricts the lookup to that user's solves.
func (db *DB) GetSolve(ctx context.Context, id int, userID *int) (*models.SolveWithCandidates, error) {
	solve := &models.SolveWithCandidates{Candidates: []models.Candidate{}}
	err := scanSolve(db.Pool.QueryRow(ctx, `
		SELECT `+solveColumns+`
		FROM solves
		WHERE id = $1 AND ($2::int IS NULL OR user_id = $2)
	`, id, userID), &solve.Solve)
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT source, text FROM solve_candidates WHERE solve_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.Source, &c.Text); err != nil {
			return nil, err
		}
		solve.Candidates = append(solve.Candidates, c)
	}

	return solve, rows.Err()
}

// ListSolves returns a page of solves, newest first, and the total count
func (db *DB) ListSolves(ctx context.Context, params *models.SolveListParams) ([]*models.Solve, int, error) {
	var status *string
	if params.Status != nil && *params.Status != "" {
		s := string(*params.Status)
		status = &s
	}

	const where = `WHERE ($1::int IS NULL OR user_id = $1) AND ($2::text IS NULL OR status = $2)`

	var total int
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM solves `+where, params.UserID, status).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+solveColumns+`
		FROM solves
		`+where+`
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, params.UserID, status, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	solves := []*models.Solve{}
	for rows.Next() {
		s := &models.Solve{}
		if err := scanSolve(rows, s); err != nil {
			return nil, 0, err
		}
		solves = append(solves, s)
	}

	return solves, total, rows.Err()
}

// GetSolveStats retrieves system-wide solve statistics
func (db *DB) GetSolveStats(ctx context.Context) (*models.SolveStats, error) {
	stats := &models.SolveStats{}

	err := db.Pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT COUNT(*) FROM users), 0),
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'solved'),
			COUNT(*) FILTER (WHERE status = 'unsolved'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(AVG(confidence), 0),
			COALESCE(AVG(duration_ms), 0),
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours')
		FROM solves
	`).Scan(
		&stats.TotalUsers,
		&stats.TotalSolves,
		&stats.SolvedCount,
		&stats.UnsolvedCount,
		&stats.FailedCount,
		&stats.AvgConfidence,
		&stats.AvgDurationMS,
		&stats.SolvesLast24h,
	)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// DeleteExpiredSolves deletes solves past their retention and returns the
// archived image keys to remove from storage
func (db *DB) DeleteExpiredSolves(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		DELETE FROM solves WHERE expires_at < NOW() RETURNING s3_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key *string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if key != nil && *key != "" {
			keys = append(keys, *key)
		}
	}

	return keys, rows.Err()
}
