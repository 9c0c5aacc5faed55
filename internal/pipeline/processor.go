// Package pipeline runs the full per-document flow: checkbox localization,
// mark density reading, text recognition, rule validation, and catalog
// cross-validation.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/catalog"
	"github.com/dgarciaq/forms-auditor/internal/common"
	"github.com/dgarciaq/forms-auditor/internal/entity"
	"github.com/dgarciaq/forms-auditor/internal/locator"
	"github.com/dgarciaq/forms-auditor/internal/marks"
	"github.com/dgarciaq/forms-auditor/internal/rules"
	"github.com/dgarciaq/forms-auditor/internal/vision"
)

// Processor coordinates checkbox location, density reading, text recognition,
// validation, and cross-validation for one document at a time.
type Processor struct {
	locator *locator.Locator
	reader  *marks.Reader
	text    vision.TextRecognizer
	logger  *slog.Logger
	now     func() time.Time
}

func NewProcessor(loc *locator.Locator, reader *marks.Reader, text vision.TextRecognizer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{locator: loc, reader: reader, text: text, logger: logger, now: time.Now}
}

// WithClock overrides the processing-time source used by date rules.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// ProcessDocument runs the pipeline over one page image. Component-local
// recoverable conditions (localization fallback, ambiguous marks, text
// timeouts) are absorbed into provenance and confidence metadata; only a
// corrupt page image fails the document outright.
func (p *Processor) ProcessDocument(ctx context.Context, page image.Image, tmpl Template, reg *rules.Registry, cat *catalog.Catalog) (*entity.DocumentResult, error) {
	start := p.now()

	if page == nil {
		return nil, common.NewAppError("PIPELINE", "nil page image", common.ErrInvalidInput)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, page); err != nil {
		return nil, common.NewAppError("PIPELINE", "page image cannot be encoded", err)
	}
	pagePNG := buf.Bytes()

	fields := map[string]entity.FieldValue{}

	// Checkbox side: one batched locate call, then a density reading per
	// option box, merged into one value per group.
	boxes := p.locator.Locate(ctx, pagePNG, tmpl.ID, tmpl.CheckboxFields())
	for _, g := range tmpl.Groups {
		value := p.mergeGroup(page, g, boxes)
		fields[g.Name] = value
	}

	// Text side: a recognizer failure or timeout surfaces every text field
	// as not collected, never as a pipeline failure.
	texts, err := p.text.RecognizeText(ctx, vision.TextRequest{ImagePNG: pagePNG, Fields: tmpl.TextFields})
	if err != nil {
		p.logger.Warn("pipeline.text_unavailable, fields surfaced as not collected",
			"template", tmpl.ID, "error", err)
		texts = nil
	}
	for _, f := range tmpl.TextFields {
		fields[f.ID] = textFieldValue(f.ID, texts)
	}

	rctx := &rules.Context{Now: p.now(), Fields: fields}
	results := reg.Validate(fields, rctx)

	verdictKeys := entity.IdentityKeys{
		Expediente: fields[constants.FieldExpediente].NormalizedValue,
		Accion:     fields[constants.FieldAccion].NormalizedValue,
		Grupo:      fields[constants.FieldGrupo].NormalizedValue,
	}
	match := catalog.CrossValidate(verdictKeys, cat)

	verdict, reason := deriveVerdict(fields, results, match)

	p.logger.Info("pipeline.document_processed",
		"template", tmpl.ID,
		"tenant_id", common.TenantIDFromContext(ctx),
		"fields", len(fields),
		"validation_results", len(results),
		"matched", match.Matched,
		"verdict", string(verdict),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return &entity.DocumentResult{
		Fields:            fields,
		ValidationResults: results,
		MatchVerdict:      match,
		Verdict:           verdict,
		RejectionReason:   reason,
	}, nil
}

// mergeGroup reads every option box of a single-answer group and merges the
// readings into one FieldValue. Multiple marks become the multi-response
// sentinel; an ambiguous reading anywhere in the group drops the confidence
// to unknown instead of being guessed away.
func (p *Processor) mergeGroup(page image.Image, g CheckboxGroup, boxes map[string]entity.CandidateBox) entity.FieldValue {
	var marked []string
	ambiguous := false
	for _, o := range g.Options {
		box, ok := boxes[o.FieldID]
		if !ok {
			continue
		}
		reading, err := p.reader.Read(page, box)
		if err != nil {
			p.logger.Warn("pipeline.mark_read_failed", "field_id", o.FieldID, "error", err)
			ambiguous = true
			continue
		}
		switch reading.Class {
		case entity.MarkMarked:
			marked = append(marked, o.Value)
		case entity.MarkAmbiguous:
			ambiguous = true
		}
	}

	value := entity.FieldValue{
		Name:       g.Name,
		Provenance: entity.ProvenanceCheckboxDensity,
	}
	switch {
	case len(marked) > 1:
		value.RawValue = fmt.Sprintf("%d marks", len(marked))
		value.NormalizedValue = constants.MultipleResponses
	case len(marked) == 1:
		value.RawValue = marked[0]
		value.NormalizedValue = marked[0]
	default:
		value.RawValue = ""
		value.NormalizedValue = constants.NotCollected
	}
	if !ambiguous {
		c := 1.0
		value.Confidence = &c
	}
	return value
}

func textFieldValue(id string, texts map[string]*string) entity.FieldValue {
	v := entity.FieldValue{Name: id, Provenance: entity.ProvenanceAIText}
	raw, ok := texts[id]
	if !ok || raw == nil || *raw == "" {
		v.NormalizedValue = constants.NotCollected
		return v
	}
	v.RawValue = *raw
	v.NormalizedValue = normalizeText(id, *raw)
	c := 1.0
	v.Confidence = &c
	return v
}

// normalizeText applies field-aware cleanup: identity keys are key-normalized,
// everything else is trimmed.
func normalizeText(id, raw string) string {
	switch id {
	case constants.FieldExpediente, constants.FieldAccion, constants.FieldGrupo, constants.FieldNIF:
		return catalog.NormalizeKey(raw)
	default:
		return strings.TrimSpace(raw)
	}
}

// deriveVerdict folds the validation results and the match verdict into the
// document-level outcome. Hard invalids and a failed catalog match are
// unprocessable; warnings, not-checked fields, and unknown-confidence values
// need human review; everything else is validated. The rejection reason is
// the first blocking condition found, so operators see why, not just that, a
// document failed.
func deriveVerdict(fields map[string]entity.FieldValue, results []entity.ValidationResult, match entity.MatchVerdict) (constants.DocumentVerdict, string) {
	for _, r := range results {
		if r.Outcome == entity.OutcomeInvalid {
			return constants.VerdictUnprocessable, fmt.Sprintf("%s: %s", r.FieldName, r.Message)
		}
	}
	if !match.Matched {
		if len(match.Discrepancies) > 0 {
			d := match.Discrepancies[0]
			return constants.VerdictUnprocessable,
				fmt.Sprintf("identity key %s disagrees with the catalog (expected %q, found %q)", d.Key, d.Expected, d.Found)
		}
		return constants.VerdictUnprocessable, "identity keys match no active catalog record"
	}

	for _, r := range results {
		if r.Outcome == entity.OutcomeWarning || r.Outcome == entity.OutcomeNotChecked {
			return constants.VerdictNeedsReview, ""
		}
	}
	for _, f := range fields {
		if f.Confidence == nil {
			return constants.VerdictNeedsReview, ""
		}
	}
	return constants.VerdictValidated, ""
}
