package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root, err := statefs.NewRoot(t.TempDir())
	require.NoError(t, err)
	return New(root, common.NewSilentLogger())
}

func TestCreateJob_StartsQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "stub_task", map[string]interface{}{"sessionId": "s1"}, 5, "")
	require.NoError(t, err)
	require.Equal(t, models.JobQueued, job.Status)
	require.NotEmpty(t, job.ID)

	fetched, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, fetched.ID)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	ce, ok := err.(*gatewayerr.CodedError)
	require.True(t, ok)
	require.Equal(t, gatewayerr.KindJobNotFound, ce.Code)
}

func TestClaimNextQueuedJob_PriorityThenCreatedAtOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low, err := s.CreateJob(ctx, "t", nil, 10, "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	high, err := s.CreateJob(ctx, "t", nil, 1, "")
	require.NoError(t, err)

	claimed, err := s.ClaimNextQueuedJob(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, high.ID, claimed.ID)
	require.Equal(t, models.JobRunning, claimed.Status)
	require.Equal(t, "w1", claimed.WorkerID)

	next, err := s.ClaimNextQueuedJob(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, low.ID, next.ID)

	none, err := s.ClaimNextQueuedJob(ctx, "w3")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestClaimNextQueuedJob_SkipsLockedJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "t", nil, 5, "")
	require.NoError(t, err)

	locks, err := s.locksDir()
	require.NoError(t, err)
	require.NoError(t, statefs.AcquireLock(locks, job.ID))

	none, err := s.ClaimNextQueuedJob(ctx, "w1")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestCancelJob_QueuedBecomesCancelledDirectly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "t", nil, 5, "")
	require.NoError(t, err)

	cancelled, err := s.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobCancelled, cancelled.Status)
	require.NotNil(t, cancelled.EndedAt)
}

func TestCancelJob_RunningBecomesCancelling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "t", nil, 5, "")
	require.NoError(t, err)
	_, err = s.ClaimNextQueuedJob(ctx, "w1")
	require.NoError(t, err)

	cancelling, err := s.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobCancelling, cancelling.Status)

	require.NoError(t, s.MarkCancelledAfterRun(ctx, job.ID, map[string]interface{}{"partial": true}))
	final, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobCancelled, final.Status)
	require.Equal(t, true, final.Result["partial"])
}

func TestRetryJob_IncrementsRetryAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "t", map[string]interface{}{"maxRetries": 3}, 5, "")
	require.NoError(t, err)
	require.NoError(t, s.FailJob(ctx, job.ID, gatewayerr.KindProcessorRetryableFailure, "fetch failed", true))

	child, err := s.RetryJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, child.RetryOf)
	require.Equal(t, models.JobQueued, child.Status)
	require.Equal(t, 1, child.RetryAttempt())

	require.NoError(t, s.FailJob(ctx, child.ID, gatewayerr.KindProcessorRetryableFailure, "fetch failed", true))
	grandchild, err := s.RetryJob(ctx, child.ID)
	require.NoError(t, err)
	require.Equal(t, 2, grandchild.RetryAttempt())
	require.Equal(t, job.ID, grandchild.RetryRootJobID)
}

func TestRetryJob_IneligibleFromQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "t", nil, 5, "")
	require.NoError(t, err)

	_, err = s.RetryJob(ctx, job.ID)
	require.Error(t, err)
	ce, ok := err.(*gatewayerr.CodedError)
	require.True(t, ok)
	require.Equal(t, gatewayerr.KindJobRetryUnavailable, ce.Code)
}

func TestRecoverStuckJobs_FailsAgedRunningJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "t", nil, 5, "")
	require.NoError(t, err)
	claimed, err := s.ClaimNextQueuedJob(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	dir, err := s.jobsDir()
	require.NoError(t, err)
	stale := *claimed
	stale.UpdatedAt = time.Now().UTC().Add(-10 * time.Second)
	require.NoError(t, s.writeJob(dir, &stale))

	recovered, err := s.RecoverStuckJobs(ctx, 1*time.Second, 90*time.Second)
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	final, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, final.Status)
	require.Equal(t, gatewayerr.KindWatchdogTimeout, final.Error.Code)
}

func TestUpdateProgress_ClampsPercent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "t", nil, 5, "")
	require.NoError(t, err)

	over := 150
	require.NoError(t, s.UpdateProgress(ctx, job.ID, models.Progress{Message: "go", Percent: &over}))
	fetched, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 100, *fetched.Progress.Percent)
}

func TestCompleteJob_WritesReceipt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "t", nil, 5, "")
	require.NoError(t, err)
	_, err = s.ClaimNextQueuedJob(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, job.ID, map[string]interface{}{"summary": "done"}))

	receiptsDir, err := s.receiptsDir()
	require.NoError(t, err)
	var receipt models.Receipt
	require.NoError(t, statefs.ReadJSON(receiptsDir, job.ID, &receipt))
	require.Equal(t, models.ReceiptSuccess, receipt.Status)
}

func TestStatusCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateJob(ctx, "t", nil, 5, "")
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, "t", nil, 5, "")
	require.NoError(t, err)

	counts, err := s.StatusCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts[models.JobQueued])
}
