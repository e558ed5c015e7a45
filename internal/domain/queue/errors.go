package queue

import "errors"

var (
	ErrNotInitialized  = errors.New("durable store is not initialized")
	ErrNotFound        = errors.New("queue item not found")
	ErrInvalidPriority = errors.New("priority must be high, medium or low")
	ErrInvalidStatus   = errors.New("status must be pending, syncing, failed or synced")
)
