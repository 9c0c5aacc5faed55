package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// CatalogStore persists reference records. Activation flips per upload batch:
// a refresh deactivates the previous batch and inserts the new one active in
// one transaction, so readers never see a half-replaced catalog.
type CatalogStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewCatalogStore(pool *pgxpool.Pool, log *slog.Logger) *CatalogStore {
	if log == nil {
		log = slog.Default()
	}
	return &CatalogStore{pool: pool, log: log}
}

// ReplaceBatch deactivates all currently active records and stores the new
// upload batch as the active set.
func (s *CatalogStore) ReplaceBatch(ctx context.Context, records []entity.ReferenceRecord, uploadedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return common.NewAppError("CATALOG_STORE", "begin replace batch", common.ErrDatabase)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE reference_record SET active = FALSE WHERE active`); err != nil {
		return common.WrapError(err, "deactivate previous batch")
	}
	for _, r := range records {
		_, err := tx.Exec(ctx,
			`INSERT INTO reference_record (id, expediente, accion, grupo, attributes, active, uploaded_at)
			 VALUES ($1, $2, $3, $4, $5, TRUE, $6)`,
			r.ID, r.Keys.Expediente, r.Keys.Accion, r.Keys.Grupo, r.Attributes, uploadedAt)
		if err != nil {
			s.log.Error("reference_record insert failed", "record_id", r.ID, "err", err)
			return common.WrapError(err, "insert reference_record")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return common.WrapError(err, "commit replace batch")
	}
	s.log.Info("catalog batch replaced", "records", len(records), "uploaded_at", uploadedAt)
	return nil
}

// ListActive returns the records of the current active upload batch.
func (s *CatalogStore) ListActive(ctx context.Context) ([]entity.ReferenceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, expediente, accion, grupo, attributes, uploaded_at
		   FROM reference_record WHERE active ORDER BY expediente, accion, grupo`)
	if err != nil {
		return nil, common.WrapError(err, "query active records")
	}
	defer rows.Close()

	var out []entity.ReferenceRecord
	for rows.Next() {
		var r entity.ReferenceRecord
		r.Active = true
		if err := rows.Scan(&r.ID, &r.Keys.Expediente, &r.Keys.Accion, &r.Keys.Grupo, &r.Attributes, &r.UploadedAt); err != nil {
			return nil, common.WrapError(err, "scan reference_record")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
