package queue

import (
	"encoding/json"
	"time"
)

// Item is a queued submission waiting to reach the remote API. Feedback
// items carry a contact identifier for lookup; generic sync items carry
// a type instead.
type Item struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Type        string          `json:"type,omitempty"`
	Contact     string          `json:"contact,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Compressed  bool            `json:"compressed"`
	Priority    string          `json:"priority"`
	Status      string          `json:"status"`
	RetryCount  int             `json:"retryCount"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	LastRetryAt time.Time       `json:"lastRetryAt,omitzero"`
}

type CacheEntry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt,omitzero"`
}

type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Synced    bool            `json:"synced"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type StatusCounts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
	Synced  int `json:"synced"`
}

func (c StatusCounts) Unsynced() int {
	return c.Pending + c.Syncing + c.Failed
}
