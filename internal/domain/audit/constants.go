package audit

const (
	ActionCreate       = "create"
	ActionRead         = "read"
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionExport       = "export"
	ActionPrint        = "print"
	ActionLogin        = "login"
	ActionLogout       = "logout"
	ActionAccessDenied = "access_denied"
	ActionBreach       = "breach_attempt"
	ActionBulk         = "bulk_operation"
	ActionSystemAccess = "system_access"
	ActionConfigChange = "configuration_change"
)

const (
	ResourcePatientData    = "patient_data"
	ResourceFeedback       = "feedback"
	ResourceMedicalRecord  = "medical_record"
	ResourceUserAccount    = "user_account"
	ResourceSystemSettings = "system_settings"
	ResourceAuditLog       = "audit_log"
	ResourceBackup         = "backup"
	ResourceReport         = "report"
	ResourceSystem         = "system"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeWarning = "warning"
)

const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Events older than this are eligible for pruning. Seven years, the
// HIPAA retention floor for audit records.
const RetentionDays = 2555
