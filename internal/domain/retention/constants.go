package retention

const (
	DataTypeFeedback      = "patient_feedback"
	DataTypePatientData   = "patient_data"
	DataTypeMedicalRecord = "medical_record"
	DataTypeAuditLog      = "audit_log"
	DataTypeUserSession   = "user_session"
	DataTypeSystemLog     = "system_log"
	DataTypeCache         = "cache_data"
)

const (
	ActionArchive = "archive"
	ActionDelete  = "delete"
	ActionExtend  = "extend"
	ActionRestore = "restore"
)

const (
	ActionStatusPending   = "pending"
	ActionStatusCompleted = "completed"
	ActionStatusFailed    = "failed"
	ActionStatusCancelled = "cancelled"
)

const (
	// DefaultExtensionDays is applied by an extend action when the
	// owning policy does not configure its own extension.
	DefaultExtensionDays = 365
	// DefaultArchiveLeadDays is how far before deletion the archive
	// action is scheduled when the policy does not configure a lead.
	DefaultArchiveLeadDays = 30
	// ReportLookaheadDays is the archival lookahead window used by
	// Report.
	ReportLookaheadDays = 30
)
