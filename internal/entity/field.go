package entity

import "time"

// MarkClass is the classification of a checkbox density reading.
type MarkClass string

const (
	MarkMarked    MarkClass = "marked"
	MarkUnmarked  MarkClass = "unmarked"
	MarkAmbiguous MarkClass = "ambiguous"
)

// MarkReading is the measured ink density inside one checkbox region.
// Ambiguous readings are surfaced downstream, never silently resolved.
type MarkReading struct {
	FieldID string    `json:"field_id"`
	Density float64   `json:"density"`
	Class   MarkClass `json:"class"`
}

// Provenance records which mechanism produced a field value.
type Provenance string

const (
	ProvenanceAIText           Provenance = "ai-text"
	ProvenanceCheckboxDensity  Provenance = "checkbox-density"
	ProvenanceManualCorrection Provenance = "manual-correction"
)

// FieldValue is one extracted answer. Created once per extraction attempt and
// superseded, never mutated, by a human correction.
// Confidence is nil when the reading was ambiguous or the service gave none.
type FieldValue struct {
	Name            string     `json:"name"`
	RawValue        string     `json:"raw_value"`
	NormalizedValue string     `json:"normalized_value"`
	Confidence      *float64   `json:"confidence,omitempty"`
	Provenance      Provenance `json:"provenance"`
}

// Correction is a human override of an extracted FieldValue, kept for audit
// and for field-level error-rate statistics.
type Correction struct {
	FieldName     string    `json:"field_name"`
	PreviousValue string    `json:"previous_value"`
	NewValue      string    `json:"new_value"`
	Author        string    `json:"author"`
	CorrectedAt   time.Time `json:"corrected_at"`
}

// Outcome is the result class of applying one validation rule to one field.
type Outcome string

const (
	OutcomeValid      Outcome = "VALID"
	OutcomeInvalid    Outcome = "INVALID"
	OutcomeWarning    Outcome = "WARNING"
	OutcomeNotChecked Outcome = "NOT_CHECKED"
)

// Severity orders validation outcomes for reporting.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// ValidationResult is one (field, rule) outcome. A field may accumulate
// several results from different rules.
type ValidationResult struct {
	FieldName string   `json:"field_name"`
	RuleCode  string   `json:"rule_code"`
	Outcome   Outcome  `json:"outcome"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}
