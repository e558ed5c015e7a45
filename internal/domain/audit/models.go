package audit

import "time"

// Event is one append-only audit trail row. Description, Before and
// After hold base64 ciphertext when Encrypted is set; Hash covers every
// stored field except itself.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"userId,omitempty"`
	UserRole     string    `json:"userRole,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId,omitempty"`
	Outcome      string    `json:"outcome"`
	RiskLevel    string    `json:"riskLevel"`
	Description  string    `json:"description,omitempty"`
	Before       string    `json:"before,omitempty"`
	After        string    `json:"after,omitempty"`
	Encrypted    bool      `json:"encrypted"`
	Hash         string    `json:"hash"`
	IP           string    `json:"ip,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
}

// Entry is the caller-facing input to LogEvent.
type Entry struct {
	UserID       string
	UserRole     string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	Description  string
	Before       any
	After        any
	IP           string
	RequestID    string
}

type Filter struct {
	From         time.Time
	To           time.Time
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	RiskLevel    string
	Limit        int
	Offset       int
}

type ComplianceReport struct {
	From             time.Time      `json:"from"`
	To               time.Time      `json:"to"`
	TotalEvents      int            `json:"totalEvents"`
	ByAction         map[string]int `json:"byAction"`
	ByRiskLevel      map[string]int `json:"byRiskLevel"`
	Failures         int            `json:"failures"`
	HighRiskEvents   []Event        `json:"highRiskEvents"`
	AccessByCategory map[string]int `json:"accessByCategory"`
}

type IntegrityResult struct {
	TotalEvents     int      `json:"totalEvents"`
	ValidEvents     int      `json:"validEvents"`
	CorruptedEvents []string `json:"corruptedEvents"`
	IntegrityScore  float64  `json:"integrityScore"`
}
