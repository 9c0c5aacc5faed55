package entity

// RegionKind distinguishes what a template region holds.
type RegionKind string

const (
	RegionText     RegionKind = "text"
	RegionCheckbox RegionKind = "checkbox"
	RegionField    RegionKind = "field"
)

// Rect is a normalized rectangle with all coordinates in [0,1].
type Rect struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// Width returns the normalized width.
func (r Rect) Width() float64 { return r.MaxX - r.MinX }

// Height returns the normalized height.
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Region is a named template area on a page. Immutable once computed for a
// page/template pairing; pixel coordinates are recomputed per page size.
type Region struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  RegionKind `json:"kind"`
	Rect  Rect       `json:"rect"`
	Page  int        `json:"page"`
}

// BoxSource records where a candidate checkbox rectangle came from.
type BoxSource string

const (
	SourceAILocated     BoxSource = "ai-located"
	SourceFallbackFixed BoxSource = "fallback-fixed"
)

// CandidateBox is a plausibility-checked checkbox rectangle for one field.
type CandidateBox struct {
	FieldID string    `json:"field_id"`
	Rect    Rect      `json:"rect"`
	Source  BoxSource `json:"source"`
}
