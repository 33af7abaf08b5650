// Package models defines the on-disk record shapes owned by each gateway
// component, per the data model.
package models

import "time"

// JobStatus enumerates the job state machine's states.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobRunning    JobStatus = "running"
	JobCancelling JobStatus = "cancelling"
	JobCancelled  JobStatus = "cancelled"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether s admits no further transitions except producing
// a retry child.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Progress is a point-in-time progress report attached to a running job.
type Progress struct {
	At      time.Time              `json:"at"`
	Message string                 `json:"message"`
	Step    string                 `json:"step,omitempty"`
	Percent *int                   `json:"percent,omitempty"`
	Phase   string                 `json:"phase,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// JobError is the structured error payload persisted on a failed job.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Job is a durable unit of asynchronous work, owned exclusively by the job
// store (C2). Payload and Result are opaque mappings — see DESIGN.md for why
// map[string]interface{} stands in for the spec's tagged Value variant.
type Job struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Payload        map[string]interface{} `json:"payload"`
	Priority       int                    `json:"priority"`
	Status         JobStatus              `json:"status"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	StartedAt      *time.Time             `json:"startedAt,omitempty"`
	EndedAt        *time.Time             `json:"endedAt,omitempty"`
	WorkerID       string                 `json:"workerId,omitempty"`
	RetryOf        string                 `json:"retryOf,omitempty"`
	RetryRootJobID string                 `json:"retryRootJobId,omitempty"`
	RequestedSkill string                 `json:"requestedSkill,omitempty"`
	Progress       *Progress              `json:"progress,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`
	Error          *JobError              `json:"error,omitempty"`
}

// RetryAttempt reads payload.retryAttempt, defaulting to 0.
func (j *Job) RetryAttempt() int {
	return intProbe(j.Payload, "retryAttempt", 0)
}

// MaxRetries reads payload.maxRetries, defaulting to 5 (the worker pool's
// own ceiling — see §4.3).
func (j *Job) MaxRetries() int {
	return intProbe(j.Payload, "maxRetries", 5)
}

// SessionID reads payload.sessionId, the one field the core probes by name.
func (j *Job) SessionID() string {
	return stringProbe(j.Payload, "sessionId")
}

func intProbe(m map[string]interface{}, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func stringProbe(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ReceiptStatus is the audit-facing status mapped from JobStatus per §4.2.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptPartial  ReceiptStatus = "partial"
	ReceiptFailed   ReceiptStatus = "failed"
	ReceiptCanceled ReceiptStatus = "cancelled"
)

// ReceiptAction is one ordered marker in a Receipt's action trail.
type ReceiptAction struct {
	At   time.Time `json:"at"`
	Name string    `json:"name"`
}

// Receipt is the audit view emitted on every terminal job transition, owned
// by C2.
type Receipt struct {
	ID         string          `json:"id"`
	JobID      string          `json:"jobId"`
	Status     ReceiptStatus   `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	EndedAt    *time.Time      `json:"endedAt,omitempty"`
	DurationMS int64           `json:"durationMs"`
	Actions    []ReceiptAction `json:"actions"`
	Error      *JobError       `json:"error,omitempty"`
}
