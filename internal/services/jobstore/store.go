// Package jobstore implements the durable job queue and its state machine
// (C2): atomic claim, progress/terminal transitions, retries, and watchdog
// recovery. Grounded on the atomic-file helpers in the teacher's
// internal/storage/marketfs.Store and the orphan-reset/requeue idiom in
// internal/services/jobmanager.Manager.
package jobstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

const (
	jobsSub      = "jobs"
	receiptsSub  = "receipts"
	locksSub     = "locks"
)

// Store is the file-backed job store described by C2.
type Store struct {
	root      *statefs.Root
	events    *statefs.EventLog
	logger    *common.Logger
	mu        sync.Mutex // serializes claim scans; per-record writes are atomic regardless
}

// New constructs a Store rooted at root, logging through logger.
func New(root *statefs.Root, logger *common.Logger) *Store {
	return &Store{
		root:   root,
		events: statefs.NewEventLog(root),
		logger: logger,
	}
}

func (s *Store) jobsDir() (string, error)     { return s.root.Dir(jobsSub) }
func (s *Store) receiptsDir() (string, error) { return s.root.Dir(receiptsSub) }
func (s *Store) locksDir() (string, error)    { return s.root.Dir(locksSub) }

func (s *Store) emit(eventType string, job *models.Job) {
	rec := map[string]interface{}{
		"type":      eventType,
		"at":        time.Now().UTC(),
		"jobId":     job.ID,
		"jobType":   job.Type,
		"status":    job.Status,
		"sessionId": job.SessionID(),
	}
	if err := s.events.Append(rec); err != nil {
		s.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failed to append job event")
	}
}

func (s *Store) readJob(dir, id string) (*models.Job, error) {
	var job models.Job
	if err := statefs.ReadJSON(dir, id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) writeJob(dir string, job *models.Job) error {
	return statefs.WriteJSON(dir, job.ID, job)
}

// CreateJob persists a new job in status=queued and emits job.queued.
func (s *Store) CreateJob(ctx context.Context, jobType string, payload map[string]interface{}, priority int, requestedSkill string) (*models.Job, error) {
	dir, err := s.jobsDir()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if payload == nil {
		payload = map[string]interface{}{}
	}
	job := &models.Job{
		ID:             uuid.NewString(),
		Type:           jobType,
		Payload:        payload,
		Priority:       priority,
		Status:         models.JobQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
		RequestedSkill: requestedSkill,
	}
	if err := s.writeJob(dir, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.emit("job.queued", job)
	return job, nil
}

// Get reads a job by id. Returns gatewayerr.KindJobNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	dir, err := s.jobsDir()
	if err != nil {
		return nil, err
	}
	job, err := s.readJob(dir, id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gatewayerr.New(gatewayerr.KindJobNotFound, fmt.Sprintf("job %s not found", id))
		}
		return nil, err
	}
	return job, nil
}

// ClaimNextQueuedJob performs the atomic claim protocol of §4.2: scan
// queued jobs sorted by (priority asc, createdAt asc), exclusive-create a
// lock for each candidate in turn, re-read under the lock, and only take
// jobs still queued. Guarantees at-most-one worker observes any job in
// running at a time.
func (s *Store) ClaimNextQueuedJob(ctx context.Context, workerID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.jobsDir()
	if err != nil {
		return nil, err
	}
	locks, err := s.locksDir()
	if err != nil {
		return nil, err
	}

	keys, err := statefs.ListKeys(dir)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Job
	for _, key := range keys {
		job, err := s.readJob(dir, key)
		if err != nil {
			continue
		}
		if job.Status == models.JobQueued {
			candidates = append(candidates, job)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	for _, job := range candidates {
		if err := statefs.AcquireLock(locks, job.ID); err != nil {
			if err == statefs.ErrLocked {
				continue
			}
			return nil, err
		}

		fresh, err := s.readJob(dir, job.ID)
		if err != nil || fresh.Status != models.JobQueued {
			statefs.ReleaseLock(locks, job.ID)
			continue
		}

		now := time.Now().UTC()
		fresh.Status = models.JobRunning
		fresh.StartedAt = &now
		fresh.UpdatedAt = now
		fresh.WorkerID = workerID
		if err := s.writeJob(dir, fresh); err != nil {
			statefs.ReleaseLock(locks, job.ID)
			return nil, err
		}
		s.emit("job.running", fresh)
		return fresh, nil
	}
	return nil, nil
}

// ReleaseLock unlinks the claim lock for jobID. Called unconditionally by
// the worker pool's finally step.
func (s *Store) ReleaseLock(jobID string) {
	locks, err := s.locksDir()
	if err != nil {
		return
	}
	if err := statefs.ReleaseLock(locks, jobID); err != nil {
		s.logger.Warn().Err(err).Str("jobId", jobID).Msg("failed to release job lock")
	}
}

// UpdateProgress persists progress and emits job.progress. percent is
// clamped to [0,100]; an empty phase is dropped.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, p models.Progress) error {
	dir, err := s.jobsDir()
	if err != nil {
		return err
	}
	job, err := s.readJob(dir, jobID)
	if err != nil {
		return err
	}
	if p.Percent != nil {
		clamped := clampPercent(*p.Percent)
		p.Percent = &clamped
	}
	if p.Phase == "" {
		p.Phase = ""
	}
	p.At = time.Now().UTC()
	job.Progress = &p
	job.UpdatedAt = p.At
	if err := s.writeJob(dir, job); err != nil {
		return err
	}
	s.emit("job.progress", job)
	return nil
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// CompleteJob transitions a job to succeeded, writes its receipt, and emits
// job.succeeded.
func (s *Store) CompleteJob(ctx context.Context, jobID string, result map[string]interface{}) error {
	return s.terminate(jobID, models.JobSucceeded, result, nil)
}

// FailJob transitions a job to failed, writes its receipt, and emits
// job.failed.
func (s *Store) FailJob(ctx context.Context, jobID string, code, message string, retryable bool) error {
	return s.terminate(jobID, models.JobFailed, nil, &models.JobError{Code: code, Message: message, Retryable: retryable})
}

func (s *Store) terminate(jobID string, status models.JobStatus, result map[string]interface{}, jobErr *models.JobError) error {
	dir, err := s.jobsDir()
	if err != nil {
		return err
	}
	job, err := s.readJob(dir, jobID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	job.Status = status
	job.EndedAt = &now
	job.UpdatedAt = now
	job.Result = result
	job.Error = jobErr
	if err := s.writeJob(dir, job); err != nil {
		return err
	}
	if err := s.writeReceipt(job); err != nil {
		s.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failed to write receipt")
	}
	s.emit("job."+string(status), job)
	return nil
}

// CancelJob applies cancel semantics: queued jobs cancel immediately with a
// receipt; running jobs move to cancelling (cooperative); anything else is a
// no-op.
func (s *Store) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	dir, err := s.jobsDir()
	if err != nil {
		return nil, err
	}
	job, err := s.readJob(dir, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case models.JobQueued:
		now := time.Now().UTC()
		job.Status = models.JobCancelled
		job.EndedAt = &now
		job.UpdatedAt = now
		if err := s.writeJob(dir, job); err != nil {
			return nil, err
		}
		if err := s.writeReceipt(job); err != nil {
			s.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failed to write receipt")
		}
		s.emit("job.cancelled", job)
		return job, nil
	case models.JobRunning:
		job.Status = models.JobCancelling
		job.UpdatedAt = time.Now().UTC()
		if err := s.writeJob(dir, job); err != nil {
			return nil, err
		}
		s.emit("job.cancelling", job)
		return job, nil
	default:
		return job, nil
	}
}

// MarkCancelledAfterRun finalizes a cancelling job once its worker returns,
// preserving whatever result the processor produced.
func (s *Store) MarkCancelledAfterRun(ctx context.Context, jobID string, result map[string]interface{}) error {
	dir, err := s.jobsDir()
	if err != nil {
		return err
	}
	job, err := s.readJob(dir, jobID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	job.Status = models.JobCancelled
	job.EndedAt = &now
	job.UpdatedAt = now
	job.Result = result
	if err := s.writeJob(dir, job); err != nil {
		return err
	}
	if err := s.writeReceipt(job); err != nil {
		s.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failed to write receipt")
	}
	s.emit("job.cancelled", job)
	return nil
}

// RetryJob creates a new queued job copying type/priority/requestedSkill and
// payload, bumping retryAttempt. Only allowed from {failed, cancelled}.
func (s *Store) RetryJob(ctx context.Context, jobID string) (*models.Job, error) {
	dir, err := s.jobsDir()
	if err != nil {
		return nil, err
	}
	job, err := s.readJob(dir, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobFailed && job.Status != models.JobCancelled {
		return nil, gatewayerr.New(gatewayerr.KindJobRetryUnavailable, fmt.Sprintf("job %s is not eligible for retry (status=%s)", jobID, job.Status))
	}

	payload := map[string]interface{}{}
	for k, v := range job.Payload {
		payload[k] = v
	}
	payload["retryAttempt"] = job.RetryAttempt() + 1

	root := job.RetryRootJobID
	if root == "" {
		root = job.ID
	}

	now := time.Now().UTC()
	child := &models.Job{
		ID:             uuid.NewString(),
		Type:           job.Type,
		Payload:        payload,
		Priority:       job.Priority,
		Status:         models.JobQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
		RequestedSkill: job.RequestedSkill,
		RetryOf:        job.ID,
		RetryRootJobID: root,
	}
	if err := s.writeJob(dir, child); err != nil {
		return nil, err
	}
	s.emit("job.queued", child)
	return child, nil
}

// RecoverStuckJobs fails every running job whose updatedAt is older than
// runningTimeout and every cancelling job older than cancellingTimeout,
// releasing their locks. This is the watchdog backstop of §5.
func (s *Store) RecoverStuckJobs(ctx context.Context, runningTimeout, cancellingTimeout time.Duration) ([]*models.Job, error) {
	dir, err := s.jobsDir()
	if err != nil {
		return nil, err
	}
	keys, err := statefs.ListKeys(dir)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var recovered []*models.Job
	for _, key := range keys {
		job, err := s.readJob(dir, key)
		if err != nil {
			continue
		}
		var timeout time.Duration
		switch job.Status {
		case models.JobRunning:
			timeout = runningTimeout
		case models.JobCancelling:
			timeout = cancellingTimeout
		default:
			continue
		}
		if now.Sub(job.UpdatedAt) <= timeout {
			continue
		}
		if err := s.FailJob(ctx, job.ID, gatewayerr.KindWatchdogTimeout, "job exceeded watchdog timeout", false); err != nil {
			s.logger.Warn().Err(err).Str("jobId", job.ID).Msg("watchdog failJob error")
			continue
		}
		s.ReleaseLock(job.ID)
		recovered = append(recovered, job)
	}
	return recovered, nil
}

// StatusCounts tallies jobs by status for the health endpoint.
func (s *Store) StatusCounts(ctx context.Context) (map[models.JobStatus]int, error) {
	dir, err := s.jobsDir()
	if err != nil {
		return nil, err
	}
	keys, err := statefs.ListKeys(dir)
	if err != nil {
		return nil, err
	}
	counts := map[models.JobStatus]int{
		models.JobQueued: 0, models.JobRunning: 0, models.JobCancelling: 0,
		models.JobSucceeded: 0, models.JobFailed: 0, models.JobCancelled: 0,
	}
	for _, key := range keys {
		job, err := s.readJob(dir, key)
		if err != nil {
			continue
		}
		counts[job.Status]++
	}
	return counts, nil
}

// ListAll returns every job on disk, most recently created first. Backs the
// operator job-queue snapshot endpoint.
func (s *Store) ListAll(ctx context.Context) ([]*models.Job, error) {
	dir, err := s.jobsDir()
	if err != nil {
		return nil, err
	}
	keys, err := statefs.ListKeys(dir)
	if err != nil {
		return nil, err
	}
	jobs := make([]*models.Job, 0, len(keys))
	for _, key := range keys {
		job, err := s.readJob(dir, key)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *Store) writeReceipt(job *models.Job) error {
	dir, err := s.receiptsDir()
	if err != nil {
		return err
	}
	receipt := buildReceipt(job)
	return statefs.WriteJSON(dir, receipt.ID, receipt)
}

func buildReceipt(job *models.Job) *models.Receipt {
	var status models.ReceiptStatus
	switch job.Status {
	case models.JobSucceeded:
		status = models.ReceiptSuccess
	case models.JobFailed:
		status = models.ReceiptFailed
	case models.JobCancelled:
		status = models.ReceiptCanceled
	default:
		status = models.ReceiptPartial
	}

	actions := []models.ReceiptAction{{At: job.CreatedAt, Name: "queued"}}
	if job.StartedAt != nil {
		actions = append(actions, models.ReceiptAction{At: *job.StartedAt, Name: "started"})
	}
	terminalAt := job.UpdatedAt
	if job.EndedAt != nil {
		terminalAt = *job.EndedAt
	}
	actions = append(actions, models.ReceiptAction{At: terminalAt, Name: string(job.Status)})

	var durationMS int64
	if job.StartedAt != nil && job.EndedAt != nil {
		durationMS = job.EndedAt.Sub(*job.StartedAt).Milliseconds()
		if durationMS < 0 {
			durationMS = 0
		}
	}

	return &models.Receipt{
		ID:         job.ID,
		JobID:      job.ID,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
		StartedAt:  job.StartedAt,
		EndedAt:    job.EndedAt,
		DurationMS: durationMS,
		Actions:    actions,
		Error:      job.Error,
	}
}

