package locator

import (
	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/entity"
)

// FallbackTable holds pre-catalogued checkbox coordinates per template and
// field, measured once on the blank form. Served whenever the AI locator
// yields nothing usable for a field.
type FallbackTable struct {
	templates map[string]map[string]entity.Rect
	// Default covers fields a template forgot to catalog so the locator can
	// still honor its one-box-per-field guarantee.
	Default entity.Rect
}

func NewFallbackTable() *FallbackTable {
	return &FallbackTable{
		templates: map[string]map[string]entity.Rect{},
		Default:   entity.Rect{MinX: 0.46, MaxX: 0.50, MinY: 0.48, MaxY: 0.52},
	}
}

// Register replaces the coordinate set for a template.
func (t *FallbackTable) Register(template string, coords map[string]entity.Rect) {
	cp := make(map[string]entity.Rect, len(coords))
	for k, v := range coords {
		cp[k] = v
	}
	t.templates[template] = cp
}

// Rect returns the catalogued rectangle for the field, or the table default
// when the template never measured it.
func (t *FallbackTable) Rect(template, fieldID string) entity.Rect {
	if coords, ok := t.templates[template]; ok {
		if r, ok := coords[fieldID]; ok {
			return r
		}
	}
	return t.Default
}

// DefaultTable returns the fallback coordinates for the shipped participant
// questionnaire template, measured on the blank v1 form at 300dpi.
func DefaultTable() *FallbackTable {
	t := NewFallbackTable()
	t.Register(constants.TemplateCuestionario, map[string]entity.Rect{
		"sexo_hombre":             {MinX: 0.118, MaxX: 0.135, MinY: 0.204, MaxY: 0.216},
		"sexo_mujer":              {MinX: 0.238, MaxX: 0.255, MinY: 0.204, MaxY: 0.216},
		"titulacion_sin":          {MinX: 0.118, MaxX: 0.135, MinY: 0.252, MaxY: 0.264},
		"titulacion_primaria":     {MinX: 0.238, MaxX: 0.255, MinY: 0.252, MaxY: 0.264},
		"titulacion_secundaria":   {MinX: 0.398, MaxX: 0.415, MinY: 0.252, MaxY: 0.264},
		"titulacion_superior":     {MinX: 0.558, MaxX: 0.575, MinY: 0.252, MaxY: 0.264},
		"modalidad_presencial":    {MinX: 0.118, MaxX: 0.135, MinY: 0.318, MaxY: 0.330},
		"modalidad_teleformacion": {MinX: 0.298, MaxX: 0.315, MinY: 0.318, MaxY: 0.330},
		"modalidad_mixta":         {MinX: 0.478, MaxX: 0.495, MinY: 0.318, MaxY: 0.330},
		"valoracion_1":            {MinX: 0.618, MaxX: 0.635, MinY: 0.442, MaxY: 0.454},
		"valoracion_2":            {MinX: 0.678, MaxX: 0.695, MinY: 0.442, MaxY: 0.454},
		"valoracion_3":            {MinX: 0.738, MaxX: 0.755, MinY: 0.442, MaxY: 0.454},
		"valoracion_4":            {MinX: 0.798, MaxX: 0.815, MinY: 0.442, MaxY: 0.454},
	})
	return t
}
