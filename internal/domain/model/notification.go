package model

import "time"

type NotificationKind string

const (
	NotificationKindSuccess NotificationKind = "success"
	NotificationKindFailure NotificationKind = "failure"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Notification records one terminal job event for the external delivery layer.
// At most one exists per (JobID, Kind).
type Notification struct {
	ID        string
	JobID     string
	JobKind   JobKind
	Kind      NotificationKind
	Status    NotificationStatus
	Message   string
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutcomeFor maps a terminal job status to its notification kind.
func OutcomeFor(s JobStatus) (NotificationKind, bool) {
	switch s {
	case JobStatusCompleted:
		return NotificationKindSuccess, true
	case JobStatusFailed:
		return NotificationKindFailure, true
	}
	return "", false
}
