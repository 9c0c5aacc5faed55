package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dgarciaq/forms-auditor/internal/common"
)

// QuotaStore is the Postgres quota.Store. The reservation is one conditional
// upsert, so concurrent reservations race at the row level and the database
// decides the winner.
type QuotaStore struct {
	pool *pgxpool.Pool
}

func NewQuotaStore(pool *pgxpool.Pool) *QuotaStore {
	return &QuotaStore{pool: pool}
}

func (s *QuotaStore) GetQuota(ctx context.Context, tenantID string) (int, error) {
	var limit int
	err := s.pool.QueryRow(ctx,
		`SELECT monthly_quota FROM tenant WHERE id = $1`, tenantID).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, common.WrapError(err, "query tenant quota")
	}
	return limit, nil
}

func (s *QuotaStore) IncrementUsage(ctx context.Context, tenantID, period string, n, limit int) (bool, error) {
	if n > limit {
		// A fresh row starts at zero, so this can never fit; rejecting here
		// keeps the insert arm of the upsert unconditional.
		return false, nil
	}
	// The WHERE clause enforces the allowance inside the upsert; a rejected
	// reservation simply updates zero rows.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO quota_usage (tenant_id, period, used)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, period)
		 DO UPDATE SET used = quota_usage.used + EXCLUDED.used
		 WHERE quota_usage.used + EXCLUDED.used <= $4`,
		tenantID, period, n, limit)
	if err != nil {
		return false, common.WrapError(err, "increment quota usage")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *QuotaStore) Usage(ctx context.Context, tenantID, period string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`SELECT used FROM quota_usage WHERE tenant_id = $1 AND period = $2`,
		tenantID, period).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, common.WrapError(err, "query quota usage")
	}
	return used, nil
}

func (s *QuotaStore) Reset(ctx context.Context, tenantID, period string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM quota_usage WHERE tenant_id = $1 AND period = $2`,
		tenantID, period)
	if err != nil {
		return common.WrapError(err, "reset quota usage")
	}
	return nil
}
