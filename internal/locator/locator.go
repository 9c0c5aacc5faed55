// Package locator resolves one checkbox rectangle per expected field,
// preferring AI-located boxes and falling back to the fixed coordinate table.
package locator

import (
	"context"
	"log/slog"
	"math"

	"github.com/dgarciaq/forms-auditor/internal/entity"
	"github.com/dgarciaq/forms-auditor/internal/vision"
)

const serviceGrid = 1000.0 // localization service answers on a 0..1000 integer grid

// Config bounds the plausible size of a checkbox glyph in normalized units.
type Config struct {
	MinBoxSide float64
	MaxBoxSide float64
}

// Locator produces exactly one CandidateBox per expected field. AI boxes that
// fail the plausibility checks are discarded, not corrected.
type Locator struct {
	localizer vision.Localizer
	fallback  *FallbackTable
	cfg       Config
	logger    *slog.Logger
}

func New(localizer vision.Localizer, fallback *FallbackTable, cfg Config, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == nil {
		fallback = DefaultTable()
	}
	return &Locator{localizer: localizer, fallback: fallback, cfg: cfg, logger: logger}
}

// Locate submits one batched localization call for every expected field and
// fills the gaps from the fallback table. Every expected field yields exactly
// one box, tagged with its source. When the service is unreachable or its
// reply is rejected, the fallback table serves all fields.
func (l *Locator) Locate(ctx context.Context, pagePNG []byte, template string, fields []vision.FieldSpec) map[string]entity.CandidateBox {
	located := map[string]entity.Rect{}

	raw, err := l.localizer.LocateBoxes(ctx, vision.LocateRequest{ImagePNG: pagePNG, Fields: fields})
	if err != nil {
		l.logger.Warn("locator.ai_unavailable, serving fallback table for all fields",
			"template", template, "fields", len(fields), "error", err)
	} else {
		for _, b := range raw {
			rect, ok := l.rescale(b)
			if !ok {
				l.logger.Debug("locator.box_discarded", "field_id", b.FieldID,
					"min_x", b.MinX, "max_x", b.MaxX, "min_y", b.MinY, "max_y", b.MaxY)
				continue
			}
			// First valid box per field wins; duplicates are noise.
			if _, seen := located[b.FieldID]; !seen {
				located[b.FieldID] = rect
			}
		}
	}

	out := make(map[string]entity.CandidateBox, len(fields))
	for _, f := range fields {
		if rect, ok := located[f.ID]; ok {
			out[f.ID] = entity.CandidateBox{FieldID: f.ID, Rect: rect, Source: entity.SourceAILocated}
			continue
		}
		out[f.ID] = entity.CandidateBox{
			FieldID: f.ID,
			Rect:    l.fallback.Rect(template, f.ID),
			Source:  entity.SourceFallbackFixed,
		}
	}
	return out
}

// rescale converts a grid box to normalized space and applies the
// plausibility checks: finite coordinates, min<max on both axes, and each
// side inside the configured size band.
func (l *Locator) rescale(b vision.RawBox) (entity.Rect, bool) {
	for _, v := range []float64{b.MinX, b.MaxX, b.MinY, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > serviceGrid {
			return entity.Rect{}, false
		}
	}
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return entity.Rect{}, false
	}
	rect := entity.Rect{
		MinX: b.MinX / serviceGrid,
		MaxX: b.MaxX / serviceGrid,
		MinY: b.MinY / serviceGrid,
		MaxY: b.MaxY / serviceGrid,
	}
	if rect.Width() < l.cfg.MinBoxSide || rect.Width() > l.cfg.MaxBoxSide {
		return entity.Rect{}, false
	}
	if rect.Height() < l.cfg.MinBoxSide || rect.Height() > l.cfg.MaxBoxSide {
		return entity.Rect{}, false
	}
	return rect, true
}
