package retention

import "time"

type Policy struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	DataType            string    `json:"dataType"`
	RetentionDays       int       `json:"retentionDays"`
	AutoDelete          bool      `json:"autoDelete"`
	ArchiveBeforeDelete bool      `json:"archiveBeforeDelete"`
	RequiresApproval    bool      `json:"requiresApproval"`
	ExtensionDays       int       `json:"extensionDays,omitempty"`
	ArchiveLeadDays     int       `json:"archiveLeadDays,omitempty"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func (p Policy) extensionDays() int {
	if p.ExtensionDays > 0 {
		return p.ExtensionDays
	}
	return DefaultExtensionDays
}

func (p Policy) archiveLeadDays() int {
	if p.ArchiveLeadDays > 0 {
		return p.ArchiveLeadDays
	}
	return DefaultArchiveLeadDays
}

// Record tracks one governed piece of data. Metadata is plaintext JSON
// until the record is archived, at which point it moves into the
// encrypted blob and the plaintext is cleared.
type Record struct {
	ID                string         `json:"id"`
	DataType          string         `json:"dataType"`
	RecordID          string         `json:"recordId"`
	PolicyID          string         `json:"policyId"`
	CreatedAt         time.Time      `json:"createdAt"`
	LastAccessed      time.Time      `json:"lastAccessed"`
	ScheduledDeletion time.Time      `json:"scheduledDeletionDate"`
	Archived          bool           `json:"archived"`
	ArchiveLocation   string         `json:"archiveLocation,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	EncryptedBlob     []byte         `json:"-"`
}

type Action struct {
	ID          string    `json:"id"`
	RecordID    string    `json:"recordId"`
	Action      string    `json:"action"`
	ScheduledAt time.Time `json:"scheduledAt"`
	ExecutedAt  time.Time `json:"executedAt,omitzero"`
	Status      string    `json:"status"`
	ApprovedBy  string    `json:"approvedBy,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

type Report struct {
	GeneratedAt     time.Time      `json:"generatedAt"`
	TotalRecords    int            `json:"totalRecords"`
	ByDataType      map[string]int `json:"byDataType"`
	DueForArchival  int            `json:"dueForArchival"`
	OverdueDeletion int            `json:"overdueDeletion"`
	ArchivedRecords int            `json:"archivedRecords"`
	PendingActions  int            `json:"pendingActions"`
	ComplianceScore float64        `json:"complianceScore"`
}
