package constants

// NotCollected is the reserved value meaning "the form has no legible answer here".
// It is a distinct defect class from a wrong answer: validation reports NOT_CHECKED,
// never INVALID, for fields holding it.
const NotCollected = "NS/NC"

// MultipleResponses marks a single-choice checkbox group where more than one
// option read as marked. Surfaced as-is, never collapsed to one answer.
const MultipleResponses = "MULTIRESPUESTA"

// Identity key field names. These three locate a unique reference record.
const (
	FieldExpediente = "expediente"
	FieldAccion     = "accion"
	FieldGrupo      = "grupo"
)

// Well-known text field names on the participant questionnaire.
const (
	FieldNIF             = "nif"
	FieldFechaNacimiento = "fecha_nacimiento"
	FieldFechaFirma      = "fecha_firma"
	FieldCodigoPostal    = "codigo_postal"
	FieldTelefono        = "telefono"
)

// TemplateCuestionario identifies the participant questionnaire template in the
// fallback coordinate table.
const TemplateCuestionario = "cuestionario_v1"
