// Package server exposes the audit pipeline as a service facade: argument
// checking, domain-error to gRPC status mapping, and the health endpoint.
package server

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/batch"
	"github.com/dgarciaq/forms-auditor/internal/catalog"
	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/entity"
	"github.com/dgarciaq/forms-auditor/internal/export"
	"github.com/dgarciaq/forms-auditor/internal/pipeline"
	"github.com/dgarciaq/forms-auditor/internal/rules"
)

// ImageSource resolves a document ID to its scanned page image.
type ImageSource interface {
	Fetch(ctx context.Context, docID uuid.UUID) (image.Image, error)
}

// CatalogPersister stores uploaded catalog batches. Optional; the in-memory
// runner swaps the snapshot without persistence.
type CatalogPersister interface {
	ReplaceBatch(ctx context.Context, records []entity.ReferenceRecord, uploadedAt time.Time) error
}

// AuditService ties the pipeline, orchestrator and catalog together behind
// one narrow surface.
type AuditService struct {
	orch     *batch.Orchestrator
	proc     *pipeline.Processor
	tmpl     pipeline.Template
	registry *rules.Registry
	catalogs *catalog.Holder
	persist  CatalogPersister
	images   ImageSource
	exporter *export.Service
	tracker  *pipeline.QualityTracker
	logger   *slog.Logger
}

func NewAuditService(
	orch *batch.Orchestrator,
	proc *pipeline.Processor,
	tmpl pipeline.Template,
	registry *rules.Registry,
	catalogs *catalog.Holder,
	persist CatalogPersister,
	images ImageSource,
	exporter *export.Service,
	logger *slog.Logger,
) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{
		orch:     orch,
		proc:     proc,
		tmpl:     tmpl,
		registry: registry,
		catalogs: catalogs,
		persist:  persist,
		images:   images,
		exporter: exporter,
		tracker:  pipeline.NewQualityTracker(),
		logger:   logger,
	}
}

// SubmitBatch admits a batch job for the tenant and returns its ID.
func (s *AuditService) SubmitBatch(ctx context.Context, tenantID string, docIDs []uuid.UUID, priority int) (uuid.UUID, error) {
	if tenantID == "" {
		return uuid.Nil, common.InvalidArgumentError("tenant_id is required")
	}
	reqID := uuid.NewString()
	ctx = common.WithRequestID(common.WithTenantID(ctx, tenantID), reqID)
	jobID, err := s.orch.CreateBatch(ctx, tenantID, docIDs, priority, s.processOne)
	if err != nil {
		s.logger.Warn("batch admission rejected",
			"request_id", reqID, "tenant_id", tenantID, "items", len(docIDs), "err", err)
		return uuid.Nil, mapError(err)
	}
	return jobID, nil
}

func (s *AuditService) processOne(ctx context.Context, docID uuid.UUID) (*entity.DocumentResult, error) {
	page, err := s.images.Fetch(ctx, docID)
	if err != nil {
		return nil, common.WrapError(err, "fetch document image")
	}
	return s.proc.ProcessDocument(ctx, page, s.tmpl, s.registry, s.catalogs.Current())
}

// Job returns a snapshot of the job and its per-item state.
func (s *AuditService) Job(jobID uuid.UUID) (entity.BatchJob, error) {
	job, err := s.orch.Job(jobID)
	if err != nil {
		return entity.BatchJob{}, mapError(err)
	}
	return job, nil
}

// Status returns the derived job status.
func (s *AuditService) Status(jobID uuid.UUID) (constants.JobStatus, error) {
	st, err := s.orch.Status(jobID)
	if err != nil {
		return "", mapError(err)
	}
	return st, nil
}

// Wait blocks until the job is terminal or the context expires.
func (s *AuditService) Wait(ctx context.Context, jobID uuid.UUID) error {
	if err := s.orch.Wait(ctx, jobID); err != nil {
		return mapError(err)
	}
	return nil
}

// Cancel stops admitting the job's pending items. In-flight items finish.
func (s *AuditService) Cancel(jobID uuid.UUID) error {
	if err := s.orch.Cancel(jobID); err != nil {
		return mapError(err)
	}
	return nil
}

// UploadCatalog ingests an XLSX reference catalog, swaps the active snapshot
// and, when a persister is wired, stores the batch. Returns the record count.
func (s *AuditService) UploadCatalog(ctx context.Context, r io.Reader) (int, error) {
	uploadedAt := time.Now().UTC()
	cat, err := catalog.LoadXLSX(r, uploadedAt, s.logger)
	if err != nil {
		return 0, mapError(err)
	}
	if s.persist != nil {
		if err := s.persist.ReplaceBatch(ctx, cat.Records(), uploadedAt); err != nil {
			return 0, common.InternalError(err.Error())
		}
	}
	s.catalogs.Swap(cat)
	s.logger.Info("catalog swapped", "records", cat.Len(), "uploaded_at", uploadedAt)
	return cat.Len(), nil
}

// Correct applies a human override to one extracted field of a completed
// document and records it for field-level quality statistics. The mutation
// runs under the owning job's lock and is persisted with the task.
func (s *AuditService) Correct(jobID, docID uuid.UUID, field, newValue, author string) (entity.Correction, error) {
	var corr entity.Correction
	err := s.orch.AmendResult(jobID, docID, func(res *entity.DocumentResult) error {
		c, err := pipeline.ApplyCorrection(res, field, newValue, author, s.tracker)
		if err != nil {
			return err
		}
		corr = c
		return nil
	})
	if err != nil {
		return entity.Correction{}, mapError(err)
	}
	s.logger.Info("correction applied",
		"job_id", jobID, "doc_id", docID, "field", field, "author", author)
	return corr, nil
}

// CorrectionStats returns per-field manual correction counts.
func (s *AuditService) CorrectionStats() map[string]int {
	return s.tracker.Corrections()
}

// ExportJob renders the job's audit report as an XLSX workbook.
func (s *AuditService) ExportJob(jobID uuid.UUID) ([]byte, error) {
	job, err := s.orch.Job(jobID)
	if err != nil {
		return nil, mapError(err)
	}
	out, err := s.exporter.ExportJobXLSX(&job)
	if err != nil {
		s.logger.Error("export.xlsx.failed", "job_id", jobID, "err", err)
		return nil, common.InternalError("export failed")
	}
	return out, nil
}

// mapError translates domain sentinels into gRPC status errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrQuotaExceeded):
		return common.ResourceExhaustedError(err.Error())
	case errors.Is(err, common.ErrInvalidInput):
		return common.InvalidArgumentError(err.Error())
	case errors.Is(err, common.ErrNotFound):
		return common.NotFoundError(err.Error())
	case errors.Is(err, common.ErrJobCancelled):
		return common.FailedPreconditionError(err.Error())
	default:
		return common.InternalError(err.Error())
	}
}
