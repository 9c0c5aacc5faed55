package export

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

func TestExportJobXLSX(t *testing.T) {
	validated := &entity.DocumentResult{
		Fields: map[string]entity.FieldValue{
			constants.FieldExpediente: {Name: constants.FieldExpediente, NormalizedValue: "B241889AC"},
			constants.FieldAccion:     {Name: constants.FieldAccion, NormalizedValue: "14"},
			constants.FieldGrupo:      {Name: constants.FieldGrupo, NormalizedValue: "2"},
		},
		MatchVerdict: entity.MatchVerdict{Matched: true},
		Verdict:      constants.VerdictValidated,
	}
	rejected := &entity.DocumentResult{
		Fields: map[string]entity.FieldValue{
			constants.FieldExpediente: {Name: constants.FieldExpediente, NormalizedValue: "F000001ZZ"},
		},
		ValidationResults: []entity.ValidationResult{
			{FieldName: constants.FieldTelefono, RuleCode: "PHONE_FORMAT", Outcome: entity.OutcomeInvalid, Message: "not a valid phone"},
		},
		MatchVerdict: entity.MatchVerdict{
			Discrepancies: []entity.Discrepancy{{Key: "accion", Expected: "3", Found: "8"}},
		},
		Verdict:         constants.VerdictUnprocessable,
		RejectionReason: "no matching reference record",
	}

	job := &entity.BatchJob{
		ID:       uuid.New(),
		TenantID: "tenant-a",
		Items: []entity.DocumentTask{
			{ID: uuid.New(), Status: constants.TaskStatusCompleted, Result: validated},
			{ID: uuid.New(), Status: constants.TaskStatusCompleted, Result: rejected},
			{ID: uuid.New(), Status: constants.TaskStatusFailed, Error: "vision service unreachable"},
		},
		CreatedAt: time.Now(),
	}

	svc := NewService(nil)
	out, err := svc.ExportJobXLSX(job)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	wb, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows("Auditoria")
	require.NoError(t, err)
	require.Len(t, rows, 4) // header + 3 documents

	assert.Equal(t, "Document", rows[0][0])
	assert.Equal(t, "Rejection Reason", rows[0][9])

	assert.Equal(t, string(constants.VerdictValidated), rows[1][2])
	assert.Equal(t, "B241889AC", rows[1][3])

	assert.Equal(t, string(constants.VerdictUnprocessable), rows[2][2])
	assert.Contains(t, rows[2][6], "telefono")
	assert.Contains(t, rows[2][8], `found "8"`)
	assert.Equal(t, "no matching reference record", rows[2][9])

	// Failed task has no result: error lands in the rejection column.
	assert.Equal(t, string(constants.TaskStatusFailed), rows[3][1])
	assert.Contains(t, rows[3][9], "unreachable")
}

func TestTruncateNeverSplitsMultibyteRunes(t *testing.T) {
	long := strings.Repeat("validación pedagógica; ", 12)

	got := truncate(long, 140)
	assert.True(t, utf8.ValidString(got), "truncation must cut on rune boundaries")
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 140)
	assert.Equal(t, "…", string([]rune(got)[139]))

	assert.Equal(t, "señal", truncate("señal", 5), "short values pass through untouched")
	assert.Equal(t, "ñ", truncate("ñandú", 1))
	assert.Equal(t, "", truncate("", 140))
}
