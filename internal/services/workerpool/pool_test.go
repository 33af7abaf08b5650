package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/interfaces"
	"github.com/bobmcallan/gatewayd/internal/models"
)

// fakeStore is a minimal in-memory interfaces.JobStore used to exercise the
// worker pool's claim/run/report loop without touching disk.
type fakeStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	claimCalls  int
	failedCodes []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]*models.Job{}}
}

func (f *fakeStore) CreateJob(ctx context.Context, jobType string, payload map[string]interface{}, priority int, requestedSkill string) (*models.Job, error) {
	job := &models.Job{ID: jobType, Type: jobType, Payload: payload, Priority: priority, Status: models.JobQueued, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.mu.Lock()
	f.jobs[job.ID] = job
	f.mu.Unlock()
	return job, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindJobNotFound, "not found")
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) ClaimNextQueuedJob(ctx context.Context, workerID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	for _, j := range f.jobs {
		if j.Status == models.JobQueued {
			j.Status = models.JobRunning
			j.WorkerID = workerID
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateProgress(ctx context.Context, jobID string, p models.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok {
		j.Progress = &p
	}
	return nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, jobID string, result map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok {
		j.Status = models.JobSucceeded
		j.Result = result
	}
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, jobID string, code, message string, retryable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedCodes = append(f.failedCodes, code)
	if j, ok := f.jobs[jobID]; ok {
		j.Status = models.JobFailed
		j.Error = &models.JobError{Code: code, Message: message, Retryable: retryable}
	}
	return nil
}

func (f *fakeStore) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	return f.Get(ctx, jobID)
}

func (f *fakeStore) MarkCancelledAfterRun(ctx context.Context, jobID string, result map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok {
		j.Status = models.JobCancelled
		j.Result = result
	}
	return nil
}

func (f *fakeStore) RetryJob(ctx context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent := f.jobs[jobID]
	payload := map[string]interface{}{}
	for k, v := range parent.Payload {
		payload[k] = v
	}
	attempt := 0
	if a, ok := payload["retryAttempt"].(int); ok {
		attempt = a
	}
	payload["retryAttempt"] = attempt + 1
	child := &models.Job{ID: jobID + "-retry", Status: models.JobQueued, Payload: payload, RetryOf: jobID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.jobs[child.ID] = child
	return child, nil
}

func (f *fakeStore) RecoverStuckJobs(ctx context.Context, runningTimeout, cancellingTimeout time.Duration) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeStore) StatusCounts(ctx context.Context) (map[models.JobStatus]int, error) {
	return nil, nil
}

func (f *fakeStore) ListAll(ctx context.Context) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeStore) ReleaseLock(jobID string) {}

var _ interfaces.JobStore = (*fakeStore)(nil)

func TestPool_RunsProcessorAndCompletesJob(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateJob(context.Background(), "stub_task", map[string]interface{}{"text": "hi"}, 5, "")
	require.NoError(t, err)

	done := make(chan struct{})
	var mu sync.Mutex
	var events []StatusEvent

	pool := New(store, StubProcessor, common.NewSilentLogger(), 1, 5*time.Millisecond, time.Minute, time.Minute, func(e StatusEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		if e.Status == "succeeded" {
			close(done)
		}
	})
	pool.Start()
	defer pool.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	job, err := store.Get(context.Background(), "stub_task")
	require.NoError(t, err)
	require.Equal(t, models.JobSucceeded, job.Status)
	require.Equal(t, "processed:hi", job.Result["summary"])
}

func TestPool_RetryableFailureRetries(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateJob(context.Background(), "flaky", map[string]interface{}{"maxRetries": 2}, 5, "")
	require.NoError(t, err)

	var calls int32
	failingProcessor := func(ctx context.Context, job *models.Job, reporter interfaces.ProgressReporter) (map[string]interface{}, error) {
		calls++
		return nil, gatewayerr.NewRetryable(gatewayerr.KindProcessorRetryableFailure, "fetch failed")
	}

	retried := make(chan struct{})
	pool := New(store, failingProcessor, common.NewSilentLogger(), 1, 5*time.Millisecond, time.Minute, time.Minute, func(e StatusEvent) {
		if e.Status == "progress" && e.Step == "retrying" {
			close(retried)
		}
	})
	pool.Start()
	defer pool.Stop()

	select {
	case <-retried:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retry")
	}

	require.Contains(t, store.failedCodes, gatewayerr.KindProcessorRetryableFailure)
}
