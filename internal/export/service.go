package export

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// Service produces XLSX bytes for audit reports.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ExportJobXLSX returns an XLSX workbook (as bytes) summarizing every
// document of a finished batch job: one row per document with its verdict,
// the extracted identity keys, and the defects that drove the verdict.
func (s *Service) ExportJobXLSX(job *entity.BatchJob) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Auditoria"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// Drop the default sheet so the workbook opens on the report.
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"Document",
		"Status",
		"Verdict",
		"Expediente",
		"Accion",
		"Grupo",
		"Invalid Fields",
		"Warnings",
		"Discrepancies",
		"Rejection Reason",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, task := range job.Items {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, task.ID.String())
		write(2, string(task.Status))

		if task.Result == nil {
			write(3, "")
			write(10, truncate(task.Error, 140))
			row++
			continue
		}
		res := task.Result

		write(3, string(res.Verdict))
		write(4, fieldValue(res, constants.FieldExpediente))
		write(5, fieldValue(res, constants.FieldAccion))
		write(6, fieldValue(res, constants.FieldGrupo))

		invalid, warnings := defectSummaries(res.ValidationResults)
		write(7, truncate(strings.Join(invalid, "; "), 140))
		write(8, truncate(strings.Join(warnings, "; "), 140))
		write(9, truncate(discrepancySummary(res.MatchVerdict), 140))
		write(10, truncate(res.RejectionReason, 140))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // document id
	_ = f.SetColWidth(sheet, "B", "C", 16)
	_ = f.SetColWidth(sheet, "D", "D", 14)
	_ = f.SetColWidth(sheet, "E", "F", 8)
	_ = f.SetColWidth(sheet, "G", "J", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"job_id", job.ID.String(),
		"rows", len(job.Items),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func fieldValue(res *entity.DocumentResult, name string) string {
	if fv, ok := res.Fields[name]; ok {
		return fv.NormalizedValue
	}
	return ""
}

// defectSummaries splits validation results into invalid and warning
// one-liners, sorted by field name for stable output.
func defectSummaries(results []entity.ValidationResult) (invalid, warnings []string) {
	sorted := make([]entity.ValidationResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FieldName < sorted[j].FieldName })
	for _, r := range sorted {
		switch r.Outcome {
		case entity.OutcomeInvalid:
			invalid = append(invalid, fmt.Sprintf("%s: %s", r.FieldName, r.Message))
		case entity.OutcomeWarning:
			warnings = append(warnings, fmt.Sprintf("%s: %s", r.FieldName, r.Message))
		}
	}
	return invalid, warnings
}

func discrepancySummary(v entity.MatchVerdict) string {
	if v.Matched {
		return ""
	}
	parts := make([]string, 0, len(v.Discrepancies))
	for _, d := range v.Discrepancies {
		parts = append(parts, fmt.Sprintf("%s: found %q, expected %q", d.Key, d.Found, d.Expected))
	}
	return strings.Join(parts, "; ")
}

// truncate caps a cell value at n runes, never splitting a multibyte
// character.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n == 1 {
		return string(runes[:1])
	}
	return string(runes[:n-1]) + "…"
}
