// Package rules is a registry of pure field validators. Rules have no side
// effects and no network access; the engine runs every applicable rule per
// field so one field can carry several simultaneous outcomes.
package rules

import (
	"sort"
	"time"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// Context carries the cross-field material a rule may consult. A rule that
// cannot execute because required related context is missing reports WARNING,
// never an error.
type Context struct {
	Now    time.Time
	Fields map[string]entity.FieldValue
}

// CheckFunc inspects one field value and reports an outcome plus message.
type CheckFunc func(v entity.FieldValue, rctx *Context) (entity.Outcome, string)

// Rule is one named validator bound to a field.
type Rule struct {
	Code  string
	Check CheckFunc
}

// Registry maps field names to their validators.
type Registry struct {
	byField  map[string][]Rule
	required map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		byField:  map[string][]Rule{},
		required: map[string]bool{},
	}
}

// Register appends a rule to the field's set. Order of registration is the
// order of execution.
func (r *Registry) Register(field string, rule Rule) {
	r.byField[field] = append(r.byField[field], rule)
}

// Require marks a field as mandatory: no value and no sentinel is INVALID.
func (r *Registry) Require(field string) {
	r.required[field] = true
}

// Validate runs the full registered rule set over the merged field map and
// never short-circuits on the first failure. Results come back ordered by
// field name, then registration order.
func (r *Registry) Validate(fields map[string]entity.FieldValue, rctx *Context) []entity.ValidationResult {
	if rctx == nil {
		rctx = &Context{Now: time.Now()}
	}
	if rctx.Fields == nil {
		rctx.Fields = fields
	}

	names := make([]string, 0, len(r.byField))
	for name := range r.byField {
		names = append(names, name)
	}
	for name := range r.required {
		if _, ok := r.byField[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []entity.ValidationResult
	for _, name := range names {
		out = append(out, r.validateField(name, fields, rctx)...)
	}
	return out
}

func (r *Registry) validateField(name string, fields map[string]entity.FieldValue, rctx *Context) []entity.ValidationResult {
	v, present := fields[name]
	empty := !present || (v.RawValue == "" && v.NormalizedValue == "")

	if empty {
		if r.required[name] {
			return []entity.ValidationResult{{
				FieldName: name,
				RuleCode:  CodeRequired,
				Outcome:   entity.OutcomeInvalid,
				Message:   "required field has no value and no not-collected mark",
				Severity:  entity.SeverityError,
			}}
		}
		return nil
	}

	// The not-collected sentinel is a missing answer, not a wrong one: the
	// field is NOT_CHECKED and no other rule runs against it.
	if v.NormalizedValue == constants.NotCollected {
		return []entity.ValidationResult{{
			FieldName: name,
			RuleCode:  CodeNotCollected,
			Outcome:   entity.OutcomeNotChecked,
			Message:   "field marked as not collected",
			Severity:  entity.SeverityInfo,
		}}
	}

	var out []entity.ValidationResult
	for _, rule := range r.byField[name] {
		outcome, msg := rule.Check(v, rctx)
		out = append(out, entity.ValidationResult{
			FieldName: name,
			RuleCode:  rule.Code,
			Outcome:   outcome,
			Message:   msg,
			Severity:  severityFor(outcome),
		})
	}
	return out
}

func severityFor(o entity.Outcome) entity.Severity {
	switch o {
	case entity.OutcomeInvalid:
		return entity.SeverityError
	case entity.OutcomeWarning:
		return entity.SeverityWarning
	default:
		return entity.SeverityInfo
	}
}

// Rule codes shared across the engine.
const (
	CodeRequired          = "REQUIRED"
	CodeNotCollected      = "NOT_COLLECTED"
	CodeIdentityDocument  = "IDENTITY_DOCUMENT"
	CodeDateFormat        = "DATE_FORMAT"
	CodeDateFuture        = "DATE_NOT_FUTURE"
	CodeAgeRange          = "AGE_RANGE"
	CodePostalCode        = "POSTAL_CODE"
	CodePhone             = "PHONE"
	CodeNumericRange      = "NUMERIC_RANGE"
	CodeSingleChoice      = "SINGLE_CHOICE"
	CodeMultipleResponses = "MULTIPLE_RESPONSES"
)
