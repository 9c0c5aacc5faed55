package repository

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// JobStore persists batch jobs and their tasks in Postgres. It implements
// batch.Store: task updates are single-row upserts, atomic per item.
type JobStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewJobStore(pool *pgxpool.Pool, log *slog.Logger) *JobStore {
	if log == nil {
		log = slog.Default()
	}
	return &JobStore{pool: pool, log: log}
}

func (s *JobStore) CreateJob(ctx context.Context, job *entity.BatchJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return common.NewAppError("JOB_STORE", "begin create job", common.ErrDatabase)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO batch_job (id, tenant_id, priority, created_at) VALUES ($1, $2, $3, $4)`,
		job.ID, job.TenantID, job.Priority, job.CreatedAt)
	if err != nil {
		s.log.Error("batch_job insert failed", "job_id", job.ID, "err", err)
		return common.WrapError(err, "insert batch_job")
	}
	for _, it := range job.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO document_task (id, job_id, status, retry_count) VALUES ($1, $2, $3, $4)`,
			it.ID, job.ID, string(it.Status), it.RetryCount)
		if err != nil {
			s.log.Error("document_task insert failed", "job_id", job.ID, "item_id", it.ID, "err", err)
			return common.WrapError(err, "insert document_task")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return common.WrapError(err, "commit create job")
	}
	s.log.Info("batch_job created", "job_id", job.ID, "tenant_id", job.TenantID, "items", len(job.Items))
	return nil
}

func (s *JobStore) UpdateTask(ctx context.Context, jobID uuid.UUID, task entity.DocumentTask) error {
	var result []byte
	if task.Result != nil {
		b, err := json.Marshal(task.Result)
		if err != nil {
			return common.WrapError(err, "marshal task result")
		}
		result = b
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE document_task
		    SET status = $1, retry_count = $2, claimed_at = $3, result = $4, error_message = $5
		  WHERE id = $6 AND job_id = $7`,
		string(task.Status), task.RetryCount, task.ClaimedAt, result, task.Error, task.ID, jobID)
	if err != nil {
		s.log.Error("document_task update failed", "job_id", jobID, "item_id", task.ID, "err", err)
		return common.WrapError(err, "update document_task")
	}
	return nil
}
