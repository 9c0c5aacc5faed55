package vision

import "context"

// RawBox is one bounding box as returned by the localization service, still in
// its native 0..1000 integer grid. Rescaling and plausibility checks happen in
// the locator, not here.
type RawBox struct {
	FieldID string  `json:"field_id"`
	MinX    float64 `json:"min_x"`
	MaxX    float64 `json:"max_x"`
	MinY    float64 `json:"min_y"`
	MaxY    float64 `json:"max_y"`
}

// LocateRequest asks the localization service for every expected field in one
// batched call.
type LocateRequest struct {
	ImagePNG []byte
	Fields   []FieldSpec
}

// FieldSpec names one expected field for the service.
type FieldSpec struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Localizer is the AI localization service boundary.
type Localizer interface {
	LocateBoxes(ctx context.Context, req LocateRequest) ([]RawBox, error)
}

// TextRequest asks the text-recognition service to read the named fields off
// a page image.
type TextRequest struct {
	ImagePNG []byte
	Fields   []FieldSpec
}

// TextRecognizer is the text-recognition service boundary. A nil map value
// for a field means the service could not read it.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, req TextRequest) (map[string]*string, error)
}
