package pipeline

import (
	"github.com/dgarciaq/forms-auditor/constants"
	"github.com/dgarciaq/forms-auditor/internal/vision"
)

// CheckboxGroup is a single-answer question whose options are individual
// checkbox fields on the page. Mark readings for the options merge into one
// FieldValue named after the group.
type CheckboxGroup struct {
	Name    string
	Options []CheckboxOption
}

// CheckboxOption binds one checkbox field id to the answer it encodes.
type CheckboxOption struct {
	FieldID string
	Value   string
}

// Template describes what the pipeline expects to find on a page.
type Template struct {
	ID         string
	TextFields []vision.FieldSpec
	Groups     []CheckboxGroup
}

// CheckboxFields flattens every group option into the expected-field list for
// the locator.
func (t Template) CheckboxFields() []vision.FieldSpec {
	var out []vision.FieldSpec
	for _, g := range t.Groups {
		for _, o := range g.Options {
			out = append(out, vision.FieldSpec{ID: o.FieldID, Label: g.Name + ": " + o.Value})
		}
	}
	return out
}

// DefaultTemplate is the shipped participant questionnaire.
func DefaultTemplate() Template {
	return Template{
		ID: constants.TemplateCuestionario,
		TextFields: []vision.FieldSpec{
			{ID: constants.FieldExpediente, Label: "Nº expediente"},
			{ID: constants.FieldAccion, Label: "Nº acción formativa"},
			{ID: constants.FieldGrupo, Label: "Nº grupo"},
			{ID: constants.FieldNIF, Label: "NIF/NIE"},
			{ID: constants.FieldFechaNacimiento, Label: "Fecha de nacimiento"},
			{ID: constants.FieldFechaFirma, Label: "Fecha de firma"},
			{ID: constants.FieldCodigoPostal, Label: "Código postal"},
			{ID: constants.FieldTelefono, Label: "Teléfono"},
		},
		Groups: []CheckboxGroup{
			{Name: "sexo", Options: []CheckboxOption{
				{FieldID: "sexo_hombre", Value: "hombre"},
				{FieldID: "sexo_mujer", Value: "mujer"},
			}},
			{Name: "titulacion", Options: []CheckboxOption{
				{FieldID: "titulacion_sin", Value: "sin"},
				{FieldID: "titulacion_primaria", Value: "primaria"},
				{FieldID: "titulacion_secundaria", Value: "secundaria"},
				{FieldID: "titulacion_superior", Value: "superior"},
			}},
			{Name: "modalidad", Options: []CheckboxOption{
				{FieldID: "modalidad_presencial", Value: "presencial"},
				{FieldID: "modalidad_teleformacion", Value: "teleformacion"},
				{FieldID: "modalidad_mixta", Value: "mixta"},
			}},
			{Name: "valoracion", Options: []CheckboxOption{
				{FieldID: "valoracion_1", Value: "1"},
				{FieldID: "valoracion_2", Value: "2"},
				{FieldID: "valoracion_3", Value: "3"},
				{FieldID: "valoracion_4", Value: "4"},
			}},
		},
	}
}
