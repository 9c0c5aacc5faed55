package catalog

import (
	"strings"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// NormalizeKey trims whitespace, case-folds, and collapses internal
// separators so "b-241889 ac" and "B241889AC" compare equal.
func NormalizeKey(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '-', '_', '/', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// looseKey strips everything but letters and digits. Second matching tier;
// conservative on purpose: it only widens candidate discovery, a loose hit
// still reports its discrepancies instead of silently accepting.
func looseKey(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// numericSuffix drops leading zeros from an all-digit key so "014" matches
// "14". Non-numeric keys come back unchanged.
func numericSuffix(s string) string {
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" && s != "" {
		return "0"
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return s
		}
	}
	return trimmed
}

// CrossValidate checks a document's identity keys against the catalog.
// Tier 1 is an exact match on normalized keys; tier 2 tolerates stripped
// punctuation and leading zeros to surface "likely typo" discrepancies.
// Matched is true only when every key agrees with one single record; a
// tolerant tie across records is never auto-resolved.
func CrossValidate(keys entity.IdentityKeys, c *Catalog) entity.MatchVerdict {
	want := [3]string{NormalizeKey(keys.Expediente), NormalizeKey(keys.Accion), NormalizeKey(keys.Grupo)}

	// Tier 1: exact on normalized keys.
	for _, rec := range c.Records() {
		have := normalizedKeys(rec)
		if have == want {
			id := rec.ID
			return entity.MatchVerdict{Matched: true, MatchedRecordID: &id}
		}
	}

	// Tier 2: tolerant candidate discovery. Score each record by how many
	// keys agree loosely; only an unambiguous best candidate produces a
	// discrepancy report against a concrete record.
	loose := [3]string{tolerant(keys.Expediente), tolerant(keys.Accion), tolerant(keys.Grupo)}
	best := -1
	bestScore := 0
	tied := false
	for i, rec := range c.Records() {
		score := 0
		recLoose := [3]string{tolerant(rec.Keys.Expediente), tolerant(rec.Keys.Accion), tolerant(rec.Keys.Grupo)}
		for k := 0; k < 3; k++ {
			if loose[k] == recLoose[k] {
				score++
			}
		}
		if score == 0 {
			continue
		}
		switch {
		case score > bestScore:
			best, bestScore, tied = i, score, false
		case score == bestScore:
			tied = true
		}
	}

	if best < 0 || tied {
		// No candidate, or ambiguity between records: not matched, and every
		// key is reported as unresolved.
		return entity.MatchVerdict{
			Matched: false,
			Discrepancies: []entity.Discrepancy{
				{Key: constants.FieldExpediente, Expected: "", Found: keys.Expediente},
				{Key: constants.FieldAccion, Expected: "", Found: keys.Accion},
				{Key: constants.FieldGrupo, Expected: "", Found: keys.Grupo},
			},
		}
	}

	rec := c.Records()[best]
	var discrepancies []entity.Discrepancy
	recNorm := normalizedKeys(rec)
	names := [3]string{constants.FieldExpediente, constants.FieldAccion, constants.FieldGrupo}
	found := [3]string{keys.Expediente, keys.Accion, keys.Grupo}
	expected := [3]string{rec.Keys.Expediente, rec.Keys.Accion, rec.Keys.Grupo}
	for k := 0; k < 3; k++ {
		if want[k] != recNorm[k] {
			discrepancies = append(discrepancies, entity.Discrepancy{
				Key:      names[k],
				Expected: expected[k],
				Found:    found[k],
			})
		}
	}
	return entity.MatchVerdict{Matched: false, Discrepancies: discrepancies}
}

func normalizedKeys(rec entity.ReferenceRecord) [3]string {
	return [3]string{
		NormalizeKey(rec.Keys.Expediente),
		NormalizeKey(rec.Keys.Accion),
		NormalizeKey(rec.Keys.Grupo),
	}
}

func tolerant(s string) string {
	return numericSuffix(looseKey(s))
}
