package queue

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

const (
	StatusPending = "pending"
	StatusSyncing = "syncing"
	StatusFailed  = "failed"
	StatusSynced  = "synced"
)

const (
	KindFeedback = "feedback"
	KindSync     = "sync"
)

// Payloads at or above this serialized size are stored deflate-compressed.
const CompressionThreshold = 1000
