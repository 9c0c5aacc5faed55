package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// Spanish identity document subtypes.
type DocumentSubtype string

const (
	SubtypeDNI     DocumentSubtype = "DNI" // national ID: 8 digits + control letter
	SubtypeNIE     DocumentSubtype = "NIE" // resident foreigner: X/Y/Z + 7 digits + control letter
	SubtypeCIF     DocumentSubtype = "CIF" // tax ID for legal entities
	SubtypeUnknown DocumentSubtype = "UNKNOWN"
)

var (
	reDNI = regexp.MustCompile(`^(\d{8})([A-Z])$`)
	reNIE = regexp.MustCompile(`^([XYZ])(\d{7})([A-Z])$`)
	reCIF = regexp.MustCompile(`^([ABCDEFGHJNPQRSUVW])(\d{7})([0-9A-J])$`)
)

const dniLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

// ClassifyDocument normalizes and identifies the subtype of an identity
// document string. UNKNOWN subtypes validate as WARNING, not INVALID.
func ClassifyDocument(s string) (DocumentSubtype, string) {
	n := strings.ToUpper(strings.Join(strings.Fields(s), ""))
	n = strings.ReplaceAll(n, "-", "")
	n = strings.ReplaceAll(n, ".", "")
	switch {
	case reDNI.MatchString(n):
		return SubtypeDNI, n
	case reNIE.MatchString(n):
		return SubtypeNIE, n
	case reCIF.MatchString(n):
		return SubtypeCIF, n
	default:
		return SubtypeUnknown, n
	}
}

// ValidDNI checks the mod-23 control letter of a normalized DNI.
func ValidDNI(n string) bool {
	m := reDNI.FindStringSubmatch(n)
	if m == nil {
		return false
	}
	num, _ := strconv.Atoi(m[1])
	return m[2][0] == dniLetters[num%23]
}

// ValidNIE maps the X/Y/Z prefix to 0/1/2 and applies the DNI control check.
func ValidNIE(n string) bool {
	m := reNIE.FindStringSubmatch(n)
	if m == nil {
		return false
	}
	prefix := map[string]string{"X": "0", "Y": "1", "Z": "2"}[m[1]]
	num, _ := strconv.Atoi(prefix + m[2])
	return m[3][0] == dniLetters[num%23]
}

// ValidCIF checks the CIF control character. Organizations K, P, Q, S, N, W
// and R take a letter control; A, B, E and H take a digit; the rest accept
// either.
func ValidCIF(n string) bool {
	m := reCIF.FindStringSubmatch(n)
	if m == nil {
		return false
	}
	org, digits, control := m[1], m[2], m[3]

	sum := 0
	for i, r := range digits {
		d := int(r - '0')
		if i%2 == 0 { // odd positions (1st, 3rd, ...) double and sum digits
			d *= 2
			if d > 9 {
				d = d/10 + d%10
			}
		}
		sum += d
	}
	digit := (10 - sum%10) % 10
	letter := "JABCDEFGHI"[digit]

	switch {
	case strings.ContainsAny(org, "KPQSNWR"):
		return control[0] == letter
	case strings.ContainsAny(org, "ABEH"):
		return control == strconv.Itoa(digit)
	default:
		return control == strconv.Itoa(digit) || control[0] == letter
	}
}

// IdentityDocumentRule validates an identity document field by subtype
// checksum: a recognized subtype with a bad checksum is INVALID, an
// unrecognized structure is a WARNING.
func IdentityDocumentRule() Rule {
	return Rule{
		Code: CodeIdentityDocument,
		Check: func(v entity.FieldValue, _ *Context) (entity.Outcome, string) {
			subtype, n := ClassifyDocument(valueOf(v))
			switch subtype {
			case SubtypeDNI:
				if !ValidDNI(n) {
					return entity.OutcomeInvalid, fmt.Sprintf("DNI %q fails its control-letter check", n)
				}
			case SubtypeNIE:
				if !ValidNIE(n) {
					return entity.OutcomeInvalid, fmt.Sprintf("NIE %q fails its control-letter check", n)
				}
			case SubtypeCIF:
				if !ValidCIF(n) {
					return entity.OutcomeInvalid, fmt.Sprintf("CIF %q fails its control-digit check", n)
				}
			default:
				return entity.OutcomeWarning, fmt.Sprintf("unrecognized identity document structure %q", n)
			}
			return entity.OutcomeValid, ""
		},
	}
}

func valueOf(v entity.FieldValue) string {
	if v.NormalizedValue != "" {
		return v.NormalizedValue
	}
	return v.RawValue
}
