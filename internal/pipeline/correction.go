package pipeline

import (
	"sync"
	"time"

	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// QualityTracker accumulates correction counts per field. Corrections feed
// these counters so chronically misread fields stand out.
type QualityTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewQualityTracker() *QualityTracker {
	return &QualityTracker{counts: map[string]int{}}
}

func (t *QualityTracker) record(field string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[field]++
}

// Corrections returns a copy of the per-field correction counts.
func (t *QualityTracker) Corrections() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// ApplyCorrection supersedes an extracted field value with a human override.
// The original value is never mutated in place: a fresh FieldValue replaces
// it and the correction is returned for the audit log.
func ApplyCorrection(res *entity.DocumentResult, field, newValue, author string, tracker *QualityTracker) (entity.Correction, error) {
	prev, ok := res.Fields[field]
	if !ok {
		return entity.Correction{}, common.NewAppError("CORRECTION", "unknown field "+field, common.ErrNotFound)
	}
	if author == "" {
		return entity.Correction{}, common.NewAppError("CORRECTION", "author is required", common.ErrInvalidInput)
	}

	c := 1.0
	res.Fields[field] = entity.FieldValue{
		Name:            field,
		RawValue:        newValue,
		NormalizedValue: newValue,
		Confidence:      &c,
		Provenance:      entity.ProvenanceManualCorrection,
	}
	if tracker != nil {
		tracker.record(field)
	}
	return entity.Correction{
		FieldName:     field,
		PreviousValue: prev.NormalizedValue,
		NewValue:      newValue,
		Author:        author,
		CorrectedAt:   time.Now(),
	}, nil
}
