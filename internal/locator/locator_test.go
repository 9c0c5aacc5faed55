package locator

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/entity"
	"github.com/dgarciaq/forms-auditor/internal/vision"
)

type stubLocalizer struct {
	boxes []vision.RawBox
	err   error
}

func (s *stubLocalizer) LocateBoxes(context.Context, vision.LocateRequest) ([]vision.RawBox, error) {
	return s.boxes, s.err
}

var testCfg = Config{MinBoxSide: 0.004, MaxBoxSide: 0.12}

func fields(ids ...string) []vision.FieldSpec {
	out := make([]vision.FieldSpec, 0, len(ids))
	for _, id := range ids {
		out = append(out, vision.FieldSpec{ID: id, Label: id})
	}
	return out
}

func TestLocateUsesAIBoxes(t *testing.T) {
	stub := &stubLocalizer{boxes: []vision.RawBox{
		{FieldID: "sexo_hombre", MinX: 120, MaxX: 140, MinY: 200, MaxY: 218},
	}}
	l := New(stub, DefaultTable(), testCfg, nil)

	got := l.Locate(context.Background(), nil, constants.TemplateCuestionario, fields("sexo_hombre"))
	require.Len(t, got, 1)
	box := got["sexo_hombre"]
	assert.Equal(t, entity.SourceAILocated, box.Source)
	assert.InDelta(t, 0.12, box.Rect.MinX, 1e-9)
	assert.InDelta(t, 0.14, box.Rect.MaxX, 1e-9)
}

func TestLocateTotalCoverageOnServiceError(t *testing.T) {
	stub := &stubLocalizer{err: errors.New("connection refused")}
	l := New(stub, DefaultTable(), testCfg, nil)

	ids := []string{"sexo_hombre", "sexo_mujer", "valoracion_1", "campo_desconocido"}
	got := l.Locate(context.Background(), nil, constants.TemplateCuestionario, fields(ids...))
	require.Len(t, got, len(ids))
	for _, id := range ids {
		box, ok := got[id]
		require.True(t, ok, "missing box for %s", id)
		assert.Equal(t, entity.SourceFallbackFixed, box.Source)
		assert.Less(t, box.Rect.MinX, box.Rect.MaxX)
		assert.Less(t, box.Rect.MinY, box.Rect.MaxY)
	}
}

func TestLocatePartialFallback(t *testing.T) {
	stub := &stubLocalizer{boxes: []vision.RawBox{
		{FieldID: "sexo_hombre", MinX: 120, MaxX: 140, MinY: 200, MaxY: 218},
		// sexo_mujer missing entirely.
	}}
	l := New(stub, DefaultTable(), testCfg, nil)

	got := l.Locate(context.Background(), nil, constants.TemplateCuestionario, fields("sexo_hombre", "sexo_mujer"))
	assert.Equal(t, entity.SourceAILocated, got["sexo_hombre"].Source)
	assert.Equal(t, entity.SourceFallbackFixed, got["sexo_mujer"].Source)
}

func TestLocateDiscardsImplausibleBoxes(t *testing.T) {
	tests := []struct {
		name string
		box  vision.RawBox
	}{
		{"inverted x", vision.RawBox{FieldID: "f", MinX: 140, MaxX: 120, MinY: 200, MaxY: 218}},
		{"inverted y", vision.RawBox{FieldID: "f", MinX: 120, MaxX: 140, MinY: 218, MaxY: 200}},
		{"sliver", vision.RawBox{FieldID: "f", MinX: 120, MaxX: 122, MinY: 200, MaxY: 218}},
		{"near full page", vision.RawBox{FieldID: "f", MinX: 10, MaxX: 990, MinY: 10, MaxY: 990}},
		{"outside grid", vision.RawBox{FieldID: "f", MinX: -5, MaxX: 30, MinY: 200, MaxY: 218}},
		{"nan", vision.RawBox{FieldID: "f", MinX: math.NaN(), MaxX: 140, MinY: 200, MaxY: 218}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubLocalizer{boxes: []vision.RawBox{tt.box}}
			l := New(stub, DefaultTable(), testCfg, nil)
			got := l.Locate(context.Background(), nil, constants.TemplateCuestionario, fields("f"))
			require.Len(t, got, 1)
			assert.Equal(t, entity.SourceFallbackFixed, got["f"].Source,
				"implausible box must be discarded, not corrected")
		})
	}
}

// A box whose height is a sliver even though its width is fine is still
// rejected and replaced by the fallback coordinate.
func TestLocateThinBoxFallsBack(t *testing.T) {
	stub := &stubLocalizer{boxes: []vision.RawBox{
		{FieldID: "valoracion_1", MinX: 600, MaxX: 640, MinY: 440, MaxY: 442},
	}}
	l := New(stub, DefaultTable(), testCfg, nil)
	got := l.Locate(context.Background(), nil, constants.TemplateCuestionario, fields("valoracion_1"))
	require.Len(t, got, 1)
	assert.Equal(t, entity.SourceFallbackFixed, got["valoracion_1"].Source)
}

func TestLocateFirstValidBoxWins(t *testing.T) {
	stub := &stubLocalizer{boxes: []vision.RawBox{
		{FieldID: "f", MinX: 100, MaxX: 120, MinY: 100, MaxY: 118},
		{FieldID: "f", MinX: 500, MaxX: 520, MinY: 500, MaxY: 518},
	}}
	l := New(stub, DefaultTable(), testCfg, nil)
	got := l.Locate(context.Background(), nil, constants.TemplateCuestionario, fields("f"))
	assert.InDelta(t, 0.10, got["f"].Rect.MinX, 1e-9)
}
