package rules

import (
	"fmt"
	"time"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// DateLayout is the dd/mm/yyyy pattern the forms use.
const DateLayout = "02/01/2006"

// ParseFormDate parses a form date strictly against DateLayout.
func ParseFormDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// DateFormatRule checks the fixed dd/mm/yyyy pattern.
func DateFormatRule() Rule {
	return Rule{
		Code: CodeDateFormat,
		Check: func(v entity.FieldValue, _ *Context) (entity.Outcome, string) {
			if _, err := ParseFormDate(valueOf(v)); err != nil {
				return entity.OutcomeInvalid, fmt.Sprintf("date %q does not match dd/mm/yyyy", valueOf(v))
			}
			return entity.OutcomeValid, ""
		},
	}
}

// DateNotFutureRule rejects dates after processing time. An unparsable value
// is a WARNING here, not INVALID: the format rule already reports the defect
// and this rule simply cannot execute.
func DateNotFutureRule() Rule {
	return Rule{
		Code: CodeDateFuture,
		Check: func(v entity.FieldValue, rctx *Context) (entity.Outcome, string) {
			d, err := ParseFormDate(valueOf(v))
			if err != nil {
				return entity.OutcomeWarning, "date unreadable, future check skipped"
			}
			if d.After(rctx.Now) {
				return entity.OutcomeInvalid, fmt.Sprintf("date %s lies in the future", valueOf(v))
			}
			return entity.OutcomeValid, ""
		},
	}
}

// AgeRangeRule derives the participant's age from the birth-date field and a
// reference date field (signature date when readable, processing time
// otherwise) and requires it in [min,max]. Missing or unreadable related
// context downgrades to WARNING.
func AgeRangeRule(referenceField string, minAge, maxAge int) Rule {
	return Rule{
		Code: CodeAgeRange,
		Check: func(v entity.FieldValue, rctx *Context) (entity.Outcome, string) {
			birth, err := ParseFormDate(valueOf(v))
			if err != nil {
				return entity.OutcomeWarning, "birth date unreadable, age check skipped"
			}

			ref := rctx.Now
			if rv, ok := rctx.Fields[referenceField]; ok && valueOf(rv) != constants.NotCollected {
				if parsed, err := ParseFormDate(valueOf(rv)); err == nil {
					ref = parsed
				}
			}

			age := yearsBetween(birth, ref)
			if age < minAge || age > maxAge {
				return entity.OutcomeInvalid, fmt.Sprintf("derived age %d outside [%d,%d]", age, minAge, maxAge)
			}
			return entity.OutcomeValid, ""
		},
	}
}

func yearsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	return years
}
