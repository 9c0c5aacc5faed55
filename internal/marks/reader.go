// Package marks measures ink density inside resolved checkbox regions and
// classifies each as marked, unmarked, or ambiguous.
package marks

import (
	"image"
	"image/color"
	"log/slog"

	"github.com/dgarciaq/forms-auditor/internal/entity"
	"github.com/dgarciaq/forms-auditor/internal/geometry"
)

// Config holds the tunable thresholds. They live in configuration so a form
// template with heavier print can be retuned without code changes.
type Config struct {
	LuminanceCutoff uint8   // pixels darker than this count as ink
	LowThreshold    float64 // density <= low -> unmarked
	HighThreshold   float64 // density >= high -> marked
}

// Reader computes MarkReadings from page images and candidate boxes.
type Reader struct {
	cfg    Config
	logger *slog.Logger
}

func NewReader(cfg Config, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{cfg: cfg, logger: logger}
}

// Read crops the candidate region and returns its density reading. Densities
// between the two thresholds classify as ambiguous and are surfaced as such,
// never guessed.
func (r *Reader) Read(page image.Image, box entity.CandidateBox) (entity.MarkReading, error) {
	crop, err := geometry.ResolveAndCrop(page, box.Rect)
	if err != nil {
		return entity.MarkReading{}, err
	}

	density := inkDensity(crop, r.cfg.LuminanceCutoff)
	reading := entity.MarkReading{
		FieldID: box.FieldID,
		Density: density,
		Class:   Classify(density, r.cfg.LowThreshold, r.cfg.HighThreshold),
	}
	r.logger.Debug("marks.read",
		"field_id", box.FieldID,
		"density", density,
		"class", string(reading.Class),
		"source", string(box.Source),
	)
	return reading, nil
}

// Classify maps a density to its mark class. Deterministic in the thresholds;
// monotonic in density.
func Classify(density, low, high float64) entity.MarkClass {
	switch {
	case density >= high:
		return entity.MarkMarked
	case density <= low:
		return entity.MarkUnmarked
	default:
		return entity.MarkAmbiguous
	}
}

// inkDensity returns the fraction of pixels darker than the luminance cutoff.
func inkDensity(img *image.RGBA, cutoff uint8) float64 {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	ink := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if g.Y < cutoff {
				ink++
			}
		}
	}
	return float64(ink) / float64(total)
}
