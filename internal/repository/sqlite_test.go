package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

func openTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := OpenLocal(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLocalStoreJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	job := &entity.BatchJob{
		ID:       uuid.New(),
		TenantID: "tenant-a",
		Items: []entity.DocumentTask{
			{ID: uuid.New(), Status: constants.TaskStatusPending},
			{ID: uuid.New(), Status: constants.TaskStatusPending},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateJob(ctx, job))

	done := job.Items[0]
	done.Status = constants.TaskStatusCompleted
	done.Result = &entity.DocumentResult{Verdict: constants.VerdictValidated}
	require.NoError(t, s.UpdateTask(ctx, job.ID, done))

	var status, result string
	err := s.db.QueryRow(
		`SELECT status, result FROM document_task WHERE id = ?`,
		done.ID.String()).Scan(&status, &result)
	require.NoError(t, err)
	assert.Equal(t, string(constants.TaskStatusCompleted), status)
	assert.Contains(t, result, string(constants.VerdictValidated))

	var pending int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM document_task WHERE job_id = ? AND status = ?`,
		job.ID.String(), string(constants.TaskStatusPending)).Scan(&pending))
	assert.Equal(t, 1, pending)
}

func TestLocalStoreCatalogBatchSwap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := []entity.ReferenceRecord{
		{ID: uuid.New(), Keys: entity.IdentityKeys{Expediente: "B241889AC", Accion: "14", Grupo: "2"}},
	}
	require.NoError(t, s.ReplaceBatch(ctx, first, time.Now()))

	second := []entity.ReferenceRecord{
		{ID: uuid.New(), Keys: entity.IdentityKeys{Expediente: "F120034XY", Accion: "3", Grupo: "1"},
			Attributes: map[string]string{"denominacion": "Ofimática avanzada"}},
		{ID: uuid.New(), Keys: entity.IdentityKeys{Expediente: "F120034XY", Accion: "3", Grupo: "2"}},
	}
	require.NoError(t, s.ReplaceBatch(ctx, second, time.Now()))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "F120034XY", active[0].Keys.Expediente)
	assert.Equal(t, "Ofimática avanzada", active[0].Attributes["denominacion"])
}

func TestLocalStoreQuotaConditionalIncrement(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SetQuota(ctx, "tenant-a", 10))

	limit, err := s.GetQuota(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 10, limit)

	granted, err := s.IncrementUsage(ctx, "tenant-a", "2026-09", 7, limit)
	require.NoError(t, err)
	assert.True(t, granted)

	// 7 + 4 > 10: rejected, usage untouched.
	granted, err = s.IncrementUsage(ctx, "tenant-a", "2026-09", 4, limit)
	require.NoError(t, err)
	assert.False(t, granted)

	used, err := s.Usage(ctx, "tenant-a", "2026-09")
	require.NoError(t, err)
	assert.Equal(t, 7, used)

	// Exactly filling the allowance is allowed.
	granted, err = s.IncrementUsage(ctx, "tenant-a", "2026-09", 3, limit)
	require.NoError(t, err)
	assert.True(t, granted)

	require.NoError(t, s.Reset(ctx, "tenant-a", "2026-09"))
	used, err = s.Usage(ctx, "tenant-a", "2026-09")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}
