package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/batch"
	"github.com/dgarciaq/forms-auditor/internal/catalog"
	"github.com/dgarciaq/forms-auditor/internal/export"
	"github.com/dgarciaq/forms-auditor/internal/locator"
	"github.com/dgarciaq/forms-auditor/internal/marks"
	"github.com/dgarciaq/forms-auditor/internal/pipeline"
	"github.com/dgarciaq/forms-auditor/internal/quota"
	"github.com/dgarciaq/forms-auditor/internal/rules"
	"github.com/dgarciaq/forms-auditor/internal/vision"
)

// downLocalizer forces the locator onto its fallback coordinate table.
type downLocalizer struct{}

func (downLocalizer) LocateBoxes(context.Context, vision.LocateRequest) ([]vision.RawBox, error) {
	return nil, errors.New("service unreachable")
}

// downRecognizer makes every text field come back unread.
type downRecognizer struct{}

func (downRecognizer) RecognizeText(context.Context, vision.TextRequest) (map[string]*string, error) {
	return nil, errors.New("service unreachable")
}

// whitePages serves a blank page for any document ID.
type whitePages struct{}

func (whitePages) Fetch(context.Context, uuid.UUID) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 800, 1100)), nil
}

func newTestService(t *testing.T) *AuditService {
	t.Helper()

	qstore := quota.NewMemoryStore()
	qstore.SetQuota("tenant-a", 100)
	guard := quota.NewGuard(qstore, 10, nil)

	orch := batch.NewOrchestrator(batch.Config{
		MaxItemsPerJob: 50,
		WorkersPerJob:  2,
		GlobalWorkers:  4,
		MaxRetries:     1,
		ItemTimeout:    5 * time.Second,
	}, guard, nil, nil)
	t.Cleanup(orch.Close)

	loc := locator.New(downLocalizer{}, locator.DefaultTable(), locator.Config{
		MinBoxSide: 0.004,
		MaxBoxSide: 0.12,
	}, nil)
	reader := marks.NewReader(marks.Config{
		LuminanceCutoff: 128,
		LowThreshold:    0.08,
		HighThreshold:   0.25,
	}, nil)
	proc := pipeline.NewProcessor(loc, reader, downRecognizer{}, nil)

	holder := catalog.NewHolder()
	holder.Swap(catalog.NewCatalog(nil, time.Now()))

	return NewAuditService(orch, proc, pipeline.DefaultTemplate(), rules.DefaultRegistry(),
		holder, nil, whitePages{}, export.NewService(nil), nil)
}

func TestSubmitBatchRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	docs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	jobID, err := svc.SubmitBatch(ctx, "tenant-a", docs, 0)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(waitCtx, jobID))

	st, err := svc.Status(jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, st)

	job, err := svc.Job(jobID)
	require.NoError(t, err)
	require.Len(t, job.Items, 3)
	for _, it := range job.Items {
		assert.Equal(t, constants.TaskStatusCompleted, it.Status)
		require.NotNil(t, it.Result)
		// Blank page, no text service, empty catalog: the identity keys
		// cannot match anything, so the document is rejected with a reason.
		assert.Equal(t, constants.VerdictUnprocessable, it.Result.Verdict)
		assert.NotEmpty(t, it.Result.RejectionReason)
	}
}

func TestSubmitBatchValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.SubmitBatch(ctx, "", []uuid.UUID{uuid.New()}, 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.SubmitBatch(ctx, "tenant-a", nil, 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// Unknown tenant falls back to the default quota of 10.
	over := make([]uuid.UUID, 11)
	for i := range over {
		over[i] = uuid.New()
	}
	_, err = svc.SubmitBatch(ctx, "tenant-b", over, 0)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestUnknownJobIsNotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Status(uuid.New())
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = svc.Cancel(uuid.New())
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestUploadCatalogSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Expediente", "Accion", "Grupo", "Denominacion"},
		{"B241889AC", "14", "2", "Curso de ofimática"},
		{"F120034XY", "3", "1", "Prevención de riesgos"},
	}
	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	n, err := svc.UploadCatalog(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, svc.catalogs.Current().Len())
}

func TestCorrectUpdatesResultAndStats(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	docs := []uuid.UUID{uuid.New()}
	jobID, err := svc.SubmitBatch(ctx, "tenant-a", docs, 0)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(waitCtx, jobID))

	corr, err := svc.Correct(jobID, docs[0], constants.FieldExpediente, "B241889AC", "auditor1")
	require.NoError(t, err)
	assert.Equal(t, "B241889AC", corr.NewValue)

	job, err := svc.Job(jobID)
	require.NoError(t, err)
	fv := job.Items[0].Result.Fields[constants.FieldExpediente]
	assert.Equal(t, "B241889AC", fv.NormalizedValue)

	assert.Equal(t, 1, svc.CorrectionStats()[constants.FieldExpediente])

	_, err = svc.Correct(jobID, uuid.New(), constants.FieldExpediente, "x", "auditor1")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

// Corrections run through the orchestrator's lock while exports read cloned
// job state, so an auditor fixing fields during an export never tears a
// result mid-read.
func TestCorrectConcurrentWithExport(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	docs := []uuid.UUID{uuid.New(), uuid.New()}
	jobID, err := svc.SubmitBatch(ctx, "tenant-a", docs, 0)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(waitCtx, jobID))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			_, err := svc.Correct(jobID, docs[0], constants.FieldExpediente, "B241889AC", "auditor1")
			assert.NoError(t, err)
			_, err = svc.Correct(jobID, docs[1], constants.FieldAccion, "14", "auditor1")
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			data, err := svc.ExportJob(jobID)
			assert.NoError(t, err)
			assert.NotEmpty(t, data)
		}
	}()
	wg.Wait()

	assert.Equal(t, 25, svc.CorrectionStats()[constants.FieldExpediente])
	assert.Equal(t, 25, svc.CorrectionStats()[constants.FieldAccion])
}

func TestCancelTwiceIsFailedPrecondition(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	jobID, err := svc.SubmitBatch(ctx, "tenant-a", []uuid.UUID{uuid.New()}, 0)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(waitCtx, jobID))

	require.NoError(t, svc.Cancel(jobID))
	err = svc.Cancel(jobID)
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}
