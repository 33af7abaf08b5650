// Package interfaces defines the seams between the core asynchronous
// execution fabric and its external collaborators (per §6), plus the
// per-component store contracts each service package implements.
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/gatewayd/internal/models"
)

// ChannelAdapter delivers outbound notifications to a chat channel.
type ChannelAdapter interface {
	SendText(ctx context.Context, sessionID, text string) error
	SendFile(ctx context.Context, sessionID, filePath string, fileName, mimeType, caption string) error
}

// ProgressReporter is handed to a Processor so it can persist progress
// mid-run.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, p models.Progress) error
}

// Processor executes one job and returns a free-form result map, optionally
// carrying "summary" and "responseText" string fields the worker pool probes
// by name.
type Processor func(ctx context.Context, job *models.Job, reporter ProgressReporter) (map[string]interface{}, error)

// LLMService is the optional collaborator that turns chat text into a
// response when no requestJob was asked for.
type LLMService interface {
	GenerateText(ctx context.Context, sessionID, input string, authPreference string) (string, bool, error)
}

// JobStore is the durable job CRUD + state-machine contract owned by C2.
type JobStore interface {
	CreateJob(ctx context.Context, jobType string, payload map[string]interface{}, priority int, requestedSkill string) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	ClaimNextQueuedJob(ctx context.Context, workerID string) (*models.Job, error)
	UpdateProgress(ctx context.Context, jobID string, p models.Progress) error
	CompleteJob(ctx context.Context, jobID string, result map[string]interface{}) error
	FailJob(ctx context.Context, jobID string, code, message string, retryable bool) error
	CancelJob(ctx context.Context, jobID string) (*models.Job, error)
	MarkCancelledAfterRun(ctx context.Context, jobID string, result map[string]interface{}) error
	RetryJob(ctx context.Context, jobID string) (*models.Job, error)
	RecoverStuckJobs(ctx context.Context, runningTimeout, cancellingTimeout time.Duration) ([]*models.Job, error)
	StatusCounts(ctx context.Context) (map[models.JobStatus]int, error)
	ListAll(ctx context.Context) ([]*models.Job, error)
	ReleaseLock(jobID string)
}

// NotificationStore is the durable outbound-queue contract owned by C4.
type NotificationStore interface {
	Enqueue(ctx context.Context, n *models.Notification) error
	ListPending(ctx context.Context) ([]*models.Notification, error)
	MarkDelivered(ctx context.Context, id string) error
}

// ReminderStore is the durable time-based trigger contract owned by C5.
type ReminderStore interface {
	Add(ctx context.Context, sessionID, text string, remindAt time.Time) (*models.Reminder, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Reminder, error)
	ListDue(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	MarkTriggered(ctx context.Context, id string) error
}

// DedupeStore is the short-TTL inbound fingerprint contract owned by C6.
type DedupeStore interface {
	IsDuplicateAndMark(ctx context.Context, key string) (bool, error)
}

// ApprovalStore is the short-lived single-use token contract owned by C7.
type ApprovalStore interface {
	Create(ctx context.Context, sessionID, action string, payload map[string]interface{}, ttl time.Duration) (*models.ApprovalToken, error)
	Consume(ctx context.Context, sessionID, token string) (*models.ApprovalToken, error)
	PeekLatest(ctx context.Context, sessionID string) (*models.ApprovalToken, error)
	ConsumeLatest(ctx context.Context, sessionID string) (*models.ApprovalToken, error)
	DiscardLatest(ctx context.Context, sessionID string) (*models.ApprovalToken, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.ApprovalToken, error)
	ListPending(ctx context.Context, limit int) ([]*models.ApprovalToken, error)
}

// RunSpecStore is the multi-step plan contract owned by C8.
type RunSpecStore interface {
	Put(ctx context.Context, runID, sessionID string, spec models.Spec, status models.RunStatus, approvedStepIDs []string, jobID string) (*models.RunSpecRecord, error)
	Get(ctx context.Context, runID string) (*models.RunSpecRecord, error)
	List(ctx context.Context, sessionID string, limit int) ([]*models.RunSpecRecord, error)
	SetStatus(ctx context.Context, runID string, status models.RunStatus, message string, payload map[string]interface{}) error
	AppendEvent(ctx context.Context, runID string, eventType models.RunEventType, stepID, message string, payload map[string]interface{}) error
	UpdateStep(ctx context.Context, runID, stepID string, status models.StepStatus, message string, output map[string]interface{}) error
	GrantStepApproval(ctx context.Context, runID, stepID string) error
}

// ConversationEventStore is the append-and-query event stream contract owned
// by C9.
type ConversationEventStore interface {
	Add(ctx context.Context, sessionID string, direction models.EventDirection, text string, source, channel, kind string, metadata map[string]interface{}) (*models.ConversationEvent, error)
	Query(ctx context.Context, filter models.EventFilter) ([]*models.ConversationEvent, error)
	Subscribe(handler func(*models.ConversationEvent)) (unsubscribe func())
}
