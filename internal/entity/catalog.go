package entity

import (
	"time"

	"github.com/google/uuid"
)

// IdentityKeys is the tuple that locates a unique reference record.
type IdentityKeys struct {
	Expediente string `json:"expediente"`
	Accion     string `json:"accion"`
	Grupo      string `json:"grupo"`
}

// ReferenceRecord is one row of the authoritative catalog. Records are
// activated and deactivated per upload batch, never edited individually, so a
// catalog refresh stays atomic and auditable.
type ReferenceRecord struct {
	ID         uuid.UUID         `json:"id"`
	Keys       IdentityKeys      `json:"keys"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Active     bool              `json:"active"`
	UploadedAt time.Time         `json:"uploaded_at"`
}

// Discrepancy names one identity key that disagrees with the catalog.
type Discrepancy struct {
	Key      string `json:"key"`
	Expected string `json:"expected"` // catalog value
	Found    string `json:"found"`    // extracted value
}

// MatchVerdict is the outcome of cross-validating one document's identity
// keys. Never cached across catalog reloads.
type MatchVerdict struct {
	Matched         bool          `json:"matched"`
	MatchedRecordID *uuid.UUID    `json:"matched_record_id,omitempty"`
	Discrepancies   []Discrepancy `json:"discrepancies,omitempty"`
}
