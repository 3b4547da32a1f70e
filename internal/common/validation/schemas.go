package validation

// Schema names for request and job payloads.
const (
	SchemaApprove           = "approve-application"
	SchemaReject            = "reject-application"
	SchemaUpdateStatus      = "update-application-status"
	SchemaCreateApplication = "create-application"
	SchemaApplyTransition   = "apply-transition-job"
	SchemaCreateRecord      = "create-application-record-job"
)

const approveSchema = `{
  "type": "object",
  "properties": {
    "approved_amount": {"type": ["string", "number", "null"]}
  },
  "additionalProperties": false
}`

// reason is checked for emptiness by the workflow so that a blank reason is
// reported as a validation error with no state change, not a schema error.
const rejectSchema = `{
  "type": "object",
  "properties": {
    "reason": {"type": ["string", "null"], "maxLength": 2000}
  },
  "additionalProperties": false
}`

const updateStatusSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "minLength": 1},
    "notes":  {"type": ["string", "null"], "maxLength": 2000}
  },
  "additionalProperties": false
}`

const createApplicationSchema = `{
  "type": "object",
  "required": ["applied_amount"],
  "properties": {
    "scheme_id":      {"type": "string"},
    "applied_amount": {"type": ["string", "number"]},
    "notes":          {"type": ["string", "null"], "maxLength": 2000}
  },
  "additionalProperties": false
}`

const applyTransitionSchema = `{
  "type": "object",
  "required": ["applicationId", "actorId", "action"],
  "properties": {
    "applicationId":  {"type": "string", "minLength": 1},
    "actorId":        {"type": "string", "minLength": 1},
    "action":         {"type": "string", "enum": ["submit", "approve", "reject", "update_status"]},
    "approvedAmount": {"type": ["string", "number", "null"]},
    "reason":         {"type": ["string", "null"]},
    "status":         {"type": ["string", "null"]},
    "notes":          {"type": ["string", "null"]}
  }
}`

const createRecordSchema = `{
  "type": "object",
  "required": ["bookingId", "actorId", "appliedAmount"],
  "properties": {
    "bookingId":     {"type": "string", "minLength": 1},
    "actorId":       {"type": "string", "minLength": 1},
    "appliedAmount": {"type": ["string", "number"]},
    "schemeId":      {"type": ["string", "null"]},
    "notes":         {"type": ["string", "null"]}
  }
}`

// NewWorkflowValidator returns a validator with every workflow payload schema registered.
func NewWorkflowValidator() *Validator {
	return NewValidator().
		MustRegister(SchemaApprove, approveSchema).
		MustRegister(SchemaReject, rejectSchema).
		MustRegister(SchemaUpdateStatus, updateStatusSchema).
		MustRegister(SchemaCreateApplication, createApplicationSchema).
		MustRegister(SchemaApplyTransition, applyTransitionSchema).
		MustRegister(SchemaCreateRecord, createRecordSchema)
}
