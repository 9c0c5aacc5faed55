package rules

import (
	"regexp"

	"github.com/dgarciaq/forms-auditor/constants"
)

var (
	reExpediente = regexp.MustCompile(`^[A-Z]\d{6}[A-Z]{2}$`)
	reNumeric    = regexp.MustCompile(`^\d{1,4}$`)
)

// DefaultRegistry wires the rule set for the participant questionnaire.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Require(constants.FieldNIF)
	r.Register(constants.FieldNIF, IdentityDocumentRule())

	r.Register(constants.FieldFechaNacimiento, DateFormatRule())
	r.Register(constants.FieldFechaNacimiento, DateNotFutureRule())
	r.Register(constants.FieldFechaNacimiento, AgeRangeRule(constants.FieldFechaFirma, 16, 99))

	r.Register(constants.FieldFechaFirma, DateFormatRule())
	r.Register(constants.FieldFechaFirma, DateNotFutureRule())

	r.Register(constants.FieldCodigoPostal, PostalCodeRule())
	r.Register(constants.FieldTelefono, PhoneRule())

	r.Require(constants.FieldExpediente)
	r.Register(constants.FieldExpediente, PatternRule("EXPEDIENTE_FORMAT", reExpediente, "the expediente pattern"))
	r.Require(constants.FieldAccion)
	r.Register(constants.FieldAccion, PatternRule("ACCION_FORMAT", reNumeric, "a numeric action code"))
	r.Require(constants.FieldGrupo)
	r.Register(constants.FieldGrupo, PatternRule("GRUPO_FORMAT", reNumeric, "a numeric group code"))

	r.Register("sexo", SingleChoiceRule("hombre", "mujer"))
	r.Register("titulacion", SingleChoiceRule("sin", "primaria", "secundaria", "superior"))
	r.Register("modalidad", SingleChoiceRule("presencial", "teleformacion", "mixta"))
	r.Register("valoracion", MultipleResponsesRule())
	r.Register("valoracion", NumericRangeRule(1, 4))

	return r
}
