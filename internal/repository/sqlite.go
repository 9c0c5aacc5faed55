package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// LocalStore is the embedded SQLite backend for the single-process runner.
// It implements the same job, catalog and quota store contracts as the
// Postgres stores, so the pipeline wiring does not change between modes.
type LocalStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenLocal opens (and bootstraps) a SQLite database at path. Use ":memory:"
// for a throwaway store.
func OpenLocal(path string, log *slog.Logger) (*LocalStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.WrapError(err, "open sqlite")
	}
	// modernc.org/sqlite serializes writes internally; a single connection
	// avoids table-lock errors under the orchestrator's workers.
	db.SetMaxOpenConns(1)
	s := &LocalStore{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("local store ready", "path", path)
	return s, nil
}

func (s *LocalStore) Close() error { return s.db.Close() }

func (s *LocalStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS batch_job (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	priority   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS document_task (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES batch_job(id),
	status        TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	claimed_at    TIMESTAMP,
	result        TEXT,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS reference_record (
	id          TEXT PRIMARY KEY,
	expediente  TEXT NOT NULL,
	accion      TEXT NOT NULL,
	grupo       TEXT NOT NULL,
	attributes  TEXT,
	active      INTEGER NOT NULL DEFAULT 1,
	uploaded_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS tenant (
	id            TEXT PRIMARY KEY,
	monthly_quota INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS quota_usage (
	tenant_id TEXT NOT NULL,
	period    TEXT NOT NULL,
	used      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, period)
);`
	if _, err := s.db.Exec(schema); err != nil {
		return common.WrapError(err, "bootstrap sqlite schema")
	}
	return nil
}

// CreateJob implements batch.Store.
func (s *LocalStore) CreateJob(ctx context.Context, job *entity.BatchJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin create job")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batch_job (id, tenant_id, priority, created_at) VALUES (?, ?, ?, ?)`,
		job.ID.String(), job.TenantID, job.Priority, job.CreatedAt)
	if err != nil {
		return common.WrapError(err, "insert batch_job")
	}
	for _, it := range job.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO document_task (id, job_id, status, retry_count) VALUES (?, ?, ?, ?)`,
			it.ID.String(), job.ID.String(), string(it.Status), it.RetryCount)
		if err != nil {
			return common.WrapError(err, "insert document_task")
		}
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit create job")
	}
	return nil
}

// UpdateTask implements batch.Store.
func (s *LocalStore) UpdateTask(ctx context.Context, jobID uuid.UUID, task entity.DocumentTask) error {
	var result any
	if task.Result != nil {
		b, err := json.Marshal(task.Result)
		if err != nil {
			return common.WrapError(err, "marshal task result")
		}
		result = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE document_task
		    SET status = ?, retry_count = ?, claimed_at = ?, result = ?, error_message = ?
		  WHERE id = ? AND job_id = ?`,
		string(task.Status), task.RetryCount, task.ClaimedAt, result, task.Error,
		task.ID.String(), jobID.String())
	if err != nil {
		return common.WrapError(err, "update document_task")
	}
	return nil
}

// ReplaceBatch swaps the active catalog, mirroring CatalogStore.ReplaceBatch.
func (s *LocalStore) ReplaceBatch(ctx context.Context, records []entity.ReferenceRecord, uploadedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin replace batch")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE reference_record SET active = 0 WHERE active = 1`); err != nil {
		return common.WrapError(err, "deactivate previous batch")
	}
	for _, r := range records {
		var attrs any
		if len(r.Attributes) > 0 {
			b, err := json.Marshal(r.Attributes)
			if err != nil {
				return common.WrapError(err, "marshal attributes")
			}
			attrs = string(b)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO reference_record (id, expediente, accion, grupo, attributes, active, uploaded_at)
			 VALUES (?, ?, ?, ?, ?, 1, ?)`,
			r.ID.String(), r.Keys.Expediente, r.Keys.Accion, r.Keys.Grupo, attrs, uploadedAt)
		if err != nil {
			return common.WrapError(err, "insert reference_record")
		}
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit replace batch")
	}
	return nil
}

// ListActive returns the active upload batch.
func (s *LocalStore) ListActive(ctx context.Context) ([]entity.ReferenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, expediente, accion, grupo, attributes, uploaded_at
		   FROM reference_record WHERE active = 1 ORDER BY expediente, accion, grupo`)
	if err != nil {
		return nil, common.WrapError(err, "query active records")
	}
	defer rows.Close()

	var out []entity.ReferenceRecord
	for rows.Next() {
		var (
			r     entity.ReferenceRecord
			id    string
			attrs sql.NullString
		)
		r.Active = true
		if err := rows.Scan(&id, &r.Keys.Expediente, &r.Keys.Accion, &r.Keys.Grupo, &attrs, &r.UploadedAt); err != nil {
			return nil, common.WrapError(err, "scan reference_record")
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, common.WrapError(err, "parse record id")
		}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &r.Attributes); err != nil {
				return nil, common.WrapError(err, "decode attributes")
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetQuota assigns a tenant's plan allowance.
func (s *LocalStore) SetQuota(ctx context.Context, tenantID string, limit int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant (id, monthly_quota) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET monthly_quota = excluded.monthly_quota`,
		tenantID, limit)
	if err != nil {
		return common.WrapError(err, "set tenant quota")
	}
	return nil
}

// GetQuota implements quota.Store.
func (s *LocalStore) GetQuota(ctx context.Context, tenantID string) (int, error) {
	var limit int
	err := s.db.QueryRowContext(ctx,
		`SELECT monthly_quota FROM tenant WHERE id = ?`, tenantID).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, common.WrapError(err, "query tenant quota")
	}
	return limit, nil
}

// IncrementUsage implements quota.Store with the same conditional-upsert shape
// as the Postgres store.
func (s *LocalStore) IncrementUsage(ctx context.Context, tenantID, period string, n, limit int) (bool, error) {
	if n > limit {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_usage (tenant_id, period, used) VALUES (?, ?, ?)
		 ON CONFLICT (tenant_id, period)
		 DO UPDATE SET used = quota_usage.used + excluded.used
		 WHERE quota_usage.used + excluded.used <= ?`,
		tenantID, period, n, limit)
	if err != nil {
		return false, common.WrapError(err, "increment quota usage")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, common.WrapError(err, "rows affected")
	}
	return affected > 0, nil
}

// Usage implements quota.Store.
func (s *LocalStore) Usage(ctx context.Context, tenantID, period string) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM quota_usage WHERE tenant_id = ? AND period = ?`,
		tenantID, period).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, common.WrapError(err, "query quota usage")
	}
	return used, nil
}

// Reset implements quota.Store.
func (s *LocalStore) Reset(ctx context.Context, tenantID, period string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM quota_usage WHERE tenant_id = ? AND period = ?`,
		tenantID, period)
	if err != nil {
		return common.WrapError(err, "reset quota usage")
	}
	return nil
}
