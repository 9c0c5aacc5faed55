package catalog

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// Expected column headers on the first sheet of a catalog workbook. Columns
// beyond these become payload attributes keyed by their header.
const (
	colExpediente = "expediente"
	colAccion     = "accion"
	colGrupo      = "grupo"
)

// LoadXLSX reads one upload batch from a catalog workbook. Every row becomes
// an active record stamped with the same upload time, so a refresh activates
// and deactivates as a unit.
func LoadXLSX(r io.Reader, uploadedAt time.Time, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("catalog.workbook_close_error", "error", err)
		}
	}()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %q has no data rows", sheet)
	}

	header := rows[0]
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{colExpediente, colAccion, colGrupo} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("sheet %q is missing column %q", sheet, required)
		}
	}

	cell := func(row []string, col string) string {
		i := idx[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	records := make([]entity.ReferenceRecord, 0, len(rows)-1)
	skipped := 0
	for _, row := range rows[1:] {
		keys := entity.IdentityKeys{
			Expediente: cell(row, colExpediente),
			Accion:     cell(row, colAccion),
			Grupo:      cell(row, colGrupo),
		}
		if keys.Expediente == "" || keys.Accion == "" || keys.Grupo == "" {
			skipped++
			continue
		}
		var attrs map[string]string
		for name, i := range idx {
			if name == colExpediente || name == colAccion || name == colGrupo {
				continue
			}
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				if attrs == nil {
					attrs = map[string]string{}
				}
				attrs[name] = strings.TrimSpace(row[i])
			}
		}
		records = append(records, NewRecord(keys, attrs, uploadedAt))
	}

	logger.Info("catalog.loaded",
		"sheet", sheet,
		"records", len(records),
		"skipped", skipped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return NewCatalog(records, uploadedAt), nil
}
