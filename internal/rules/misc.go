package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

var (
	rePostal = regexp.MustCompile(`^\d{5}$`)
	rePhone  = regexp.MustCompile(`^[6789]\d{8}$`)
)

// PostalCodeRule checks a 5-digit Spanish postal code whose province prefix
// lies in 01..52.
func PostalCodeRule() Rule {
	return Rule{
		Code: CodePostalCode,
		Check: func(v entity.FieldValue, _ *Context) (entity.Outcome, string) {
			s := valueOf(v)
			if !rePostal.MatchString(s) {
				return entity.OutcomeInvalid, fmt.Sprintf("postal code %q is not five digits", s)
			}
			province, _ := strconv.Atoi(s[:2])
			if province < 1 || province > 52 {
				return entity.OutcomeInvalid, fmt.Sprintf("postal code %q has no valid province prefix", s)
			}
			return entity.OutcomeValid, ""
		},
	}
}

// PhoneRule checks a 9-digit Spanish phone number.
func PhoneRule() Rule {
	return Rule{
		Code: CodePhone,
		Check: func(v entity.FieldValue, _ *Context) (entity.Outcome, string) {
			s := strings.ReplaceAll(valueOf(v), " ", "")
			if !rePhone.MatchString(s) {
				return entity.OutcomeInvalid, fmt.Sprintf("phone %q is not a 9-digit number starting 6-9", valueOf(v))
			}
			return entity.OutcomeValid, ""
		},
	}
}

// NumericRangeRule checks integer membership in [min,max].
func NumericRangeRule(min, max int) Rule {
	return Rule{
		Code: CodeNumericRange,
		Check: func(v entity.FieldValue, _ *Context) (entity.Outcome, string) {
			n, err := strconv.Atoi(strings.TrimSpace(valueOf(v)))
			if err != nil {
				return entity.OutcomeInvalid, fmt.Sprintf("value %q is not numeric", valueOf(v))
			}
			if n < min || n > max {
				return entity.OutcomeInvalid, fmt.Sprintf("value %d outside [%d,%d]", n, min, max)
			}
			return entity.OutcomeValid, ""
		},
	}
}

// SingleChoiceRule validates a field merged from a single-answer checkbox
// group. Evidence of several simultaneous marks carries the multi-response
// sentinel and is INVALID with its own distinguishing code, never collapsed
// to one answer. Otherwise the value must belong to the allowed option set.
func SingleChoiceRule(allowed ...string) Rule {
	set := map[string]struct{}{}
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return Rule{
		Code: CodeSingleChoice,
		Check: func(v entity.FieldValue, _ *Context) (entity.Outcome, string) {
			s := valueOf(v)
			if s == constants.MultipleResponses {
				return entity.OutcomeInvalid, "multiple simultaneous marks for a single-answer question"
			}
			if _, ok := set[s]; !ok {
				return entity.OutcomeInvalid, fmt.Sprintf("answer %q is not an allowed option", s)
			}
			return entity.OutcomeValid, ""
		},
	}
}

// MultipleResponsesRule flags the multi-response sentinel on any field,
// regardless of the option set.
func MultipleResponsesRule() Rule {
	return Rule{
		Code: CodeMultipleResponses,
		Check: func(v entity.FieldValue, _ *Context) (entity.Outcome, string) {
			if valueOf(v) == constants.MultipleResponses {
				return entity.OutcomeInvalid, "multiple simultaneous marks for a single-answer question"
			}
			return entity.OutcomeValid, ""
		},
	}
}

// PatternRule checks a custom regular expression, for catalog-style fields
// like expediente codes.
func PatternRule(code string, re *regexp.Regexp, describe string) Rule {
	return Rule{
		Code: code,
		Check: func(v entity.FieldValue, _ *Context) (entity.Outcome, string) {
			if !re.MatchString(valueOf(v)) {
				return entity.OutcomeInvalid, fmt.Sprintf("value %q does not match %s", valueOf(v), describe)
			}
			return entity.OutcomeValid, ""
		},
	}
}
