package portfolio

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/policy"
)

//go:embed schema.sql
var schema string

// Repository handles optimization run persistence
// ⭐ SSOT: 실행 기록 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new run repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema 테이블이 없으면 생성 (idempotent)
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveSnapshot 정책 스냅샷 저장 (같은 해시는 한 번만)
func (r *Repository) SaveSnapshot(ctx context.Context, snap *policy.Snapshot) error {
	query := `
		INSERT INTO risk.policy_snapshots (
			policy_hash, policy_id, policy_yaml, model_fingerprint, created_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (policy_hash) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		snap.PolicyHash, snap.PolicyID, snap.PolicyYAML, snap.ModelFingerprint, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save policy snapshot: %w", err)
	}
	return nil
}

// SaveRun 실행 결과 + 종목별 가중치 저장 (단일 트랜잭션)
func (r *Repository) SaveRun(ctx context.Context, res *optimizer.Result, policyHash, modelFingerprint string) error {
	rec := NewRunRecord(res, policyHash, modelFingerprint)

	violations, err := json.Marshal(rec.Violations)
	if err != nil {
		return fmt.Errorf("failed to encode violations: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	runQuery := `
		INSERT INTO risk.optimization_runs (
			run_id, preset, status, solver_status, attempts, iterations, ridge,
			objective, total_variance, violations, policy_hash, model_fingerprint, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
	`
	_, err = tx.Exec(ctx, runQuery,
		rec.RunID, rec.Preset, rec.Status, rec.SolverStatus, rec.Attempts, rec.Iterations, rec.Ridge,
		rec.Objective, rec.TotalVariance, violations, rec.PolicyHash, rec.ModelFingerprint, rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(rec.Positions) > 0 {
		batch := &pgx.Batch{}
		for id, pos := range rec.Positions {
			batch.Queue(
				`INSERT INTO risk.run_weights (run_id, asset_id, weight, position) VALUES ($1, $2, $3, $4)`,
				rec.RunID, id, rec.Weights[id], pos,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert weights: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun 실행 1건 + 가중치 조회
func (r *Repository) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	query := `
		SELECT run_id::text, preset, status, solver_status, attempts, iterations, ridge,
		       objective, total_variance, violations, COALESCE(policy_hash, ''),
		       model_fingerprint, duration_ms, created_at
		FROM risk.optimization_runs
		WHERE run_id = $1
	`

	rec, err := scanRun(r.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT asset_id, weight, position FROM risk.run_weights WHERE run_id = $1 ORDER BY asset_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query weights: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var w, pos float64
		if err := rows.Scan(&id, &w, &pos); err != nil {
			return nil, fmt.Errorf("failed to scan weight: %w", err)
		}
		if rec.Weights == nil {
			rec.Weights = make(map[string]float64)
			rec.Positions = make(map[string]float64)
		}
		rec.Weights[id] = w
		rec.Positions[id] = pos
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return rec, nil
}

// ListRuns 최근 실행 목록 (가중치 제외)
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT run_id::text, preset, status, solver_status, attempts, iterations, ridge,
		       objective, total_variance, violations, COALESCE(policy_hash, ''),
		       model_fingerprint, duration_ms, created_at
		FROM risk.optimization_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0)
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*RunRecord, error) {
	var rec RunRecord
	var violations []byte
	err := row.Scan(
		&rec.RunID, &rec.Preset, &rec.Status, &rec.SolverStatus, &rec.Attempts, &rec.Iterations, &rec.Ridge,
		&rec.Objective, &rec.TotalVariance, &violations, &rec.PolicyHash,
		&rec.ModelFingerprint, &rec.DurationMs, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &rec.Violations); err != nil {
			return nil, fmt.Errorf("failed to decode violations: %w", err)
		}
	}
	return &rec, nil
}
