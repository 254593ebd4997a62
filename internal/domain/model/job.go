package model

import (
	"fmt"
	"strings"
	"time"

	"invoice-ocr-pipeline/internal/domain"
)

type JobKind string

const (
	JobKindOCRExtraction JobKind = "ocr_extraction"
	JobKindAITraining    JobKind = "ai_training"
	JobKindNotification  JobKind = "notification"
)

// JobKinds lists every kind the pipeline routes.
var JobKinds = []JobKind{JobKindOCRExtraction, JobKindAITraining, JobKindNotification}

func (k JobKind) Valid() bool {
	switch k {
	case JobKindOCRExtraction, JobKindAITraining, JobKindNotification:
		return true
	}
	return false
}

// ParseJobKind accepts the kind in any case and with surrounding spaces.
func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownKind, s)
	}
	return k, nil
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CancelledMessage is the error_message written by a successful cancel.
const CancelledMessage = "cancelled"

// Result is the artifact reference produced by a successful attempt.
type Result struct {
	Ref            string
	Confidence     float64
	ProcessingTime time.Duration
}

type Job struct {
	ID           string
	Kind         JobKind
	Status       JobStatus
	Attempts     int
	Progress     int
	ErrorMessage string
	PayloadRef   string
	Result       *Result
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewJob builds a queued job. The caller assigns the ID.
func NewJob(id string, kind JobKind, payloadRef string) (*Job, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrUnknownKind, kind)
	}
	if strings.TrimSpace(payloadRef) == "" {
		return nil, fmt.Errorf("%w: empty payload reference", domain.ErrValidation)
	}
	now := time.Now()
	return &Job{
		ID:         id,
		Kind:       kind,
		Status:     JobStatusQueued,
		PayloadRef: payloadRef,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// RetriesUsed is the number of attempts beyond the first.
func (j *Job) RetriesUsed() int {
	if j.Attempts <= 1 {
		return 0
	}
	return j.Attempts - 1
}
