package model

import (
	"time"
)

const CleanupReasonProblemDeleted = "problem_deleted"

// CleanupJob lists storage objects that no row references anymore. Jobs
// travel through the Redis cleanup queue as JSON.
type CleanupJob struct {
	ID         string    `json:"id"`
	Reason     string    `json:"reason"`
	ObjectKeys []string  `json:"object_keys"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is a domain event published to the message broker.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

const (
	EventProblemCreated = "problem.created"
	EventProblemDeleted = "problem.deleted"
	EventClassJoined    = "class.joined"
)
