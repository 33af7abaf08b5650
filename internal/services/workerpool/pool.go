// Package workerpool implements the claim-execute-report loop of C3.
// Grounded on the safeGo panic-recovery wrapper and processLoop polling idiom
// in the teacher's internal/services/jobmanager.Manager.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/interfaces"
	"github.com/bobmcallan/gatewayd/internal/models"
)

// StatusEvent is emitted by a worker on every observable job transition; the
// app wiring turns these into C4 notifications and C9 conversation events.
type StatusEvent struct {
	Job          *models.Job
	Status       string // running, progress, succeeded, failed, cancelled
	Summary      string
	ResponseText string
	Step         string
	Percent      *int
	Phase        string
	Details      map[string]interface{}
}

// OnStatusChange is invoked synchronously for every StatusEvent; it must not
// block.
type OnStatusChange func(StatusEvent)

// Pool runs Count workers, each polling the job store, running Processor,
// and reporting progress/terminal transitions.
type Pool struct {
	store             interfaces.JobStore
	processor         interfaces.Processor
	logger            *common.Logger
	onStatusChange    OnStatusChange
	count             int
	pollInterval      time.Duration
	runningTimeout    time.Duration
	cancellingTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Bool
}

// New constructs a Pool. onStatusChange may be nil.
func New(store interfaces.JobStore, processor interfaces.Processor, logger *common.Logger, count int, pollInterval, runningTimeout, cancellingTimeout time.Duration, onStatusChange OnStatusChange) *Pool {
	if count <= 0 {
		count = 1
	}
	if onStatusChange == nil {
		onStatusChange = func(StatusEvent) {}
	}
	return &Pool{
		store:             store,
		processor:         processor,
		logger:            logger,
		onStatusChange:    onStatusChange,
		count:             count,
		pollInterval:      pollInterval,
		runningTimeout:    runningTimeout,
		cancellingTimeout: cancellingTimeout,
	}
}

func (p *Pool) safeGo(name string, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker pool goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the worker loops. Safe to call once; call Stop before
// restarting.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.active.Store(true)

	for i := 0; i < p.count; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.safeGo(workerID, func() { p.loop(ctx, workerID) })
	}
	p.logger.Info().Int("workers", p.count).Dur("pollInterval", p.pollInterval).Msg("worker pool started")
}

// Stop signals all loops to exit after their current iteration and waits
// for them to drain.
func (p *Pool) Stop() {
	p.active.Store(false)
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for p.active.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		recovered, err := p.store.RecoverStuckJobs(ctx, p.runningTimeout, p.cancellingTimeout)
		if err != nil {
			p.logger.Warn().Err(err).Msg("watchdog recovery sweep failed")
		}
		for _, job := range recovered {
			p.onStatusChange(StatusEvent{Job: job, Status: "failed", Summary: "watchdog timeout"})
		}

		job, err := p.store.ClaimNextQueuedJob(ctx, workerID)
		if err != nil {
			p.logger.Warn().Err(err).Str("worker", workerID).Msg("claim failed")
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		p.runJob(ctx, job)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

func (p *Pool) runJob(ctx context.Context, job *models.Job) {
	defer p.store.ReleaseLock(job.ID)

	logger := p.logger.WithJobID(job.ID)
	p.onStatusChange(StatusEvent{Job: job, Status: "running"})

	reporter := &progressReporter{store: p.store, jobID: job.ID, onStatusChange: p.onStatusChange, job: job}
	result, procErr := p.invokeProcessor(ctx, job, reporter)

	fresh, err := p.store.Get(ctx, job.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to re-read job after run")
		fresh = job
	}

	if fresh.Status == models.JobCancelling {
		if err := p.store.MarkCancelledAfterRun(ctx, job.ID, result); err != nil {
			logger.Warn().Err(err).Msg("markCancelledAfterRun failed")
		}
		p.onStatusChange(StatusEvent{Job: fresh, Status: "cancelled"})
		return
	}

	if procErr != nil {
		p.handleFailure(ctx, job, procErr)
		return
	}

	if err := p.store.CompleteJob(ctx, job.ID, result); err != nil {
		logger.Warn().Err(err).Msg("completeJob failed")
		return
	}
	p.onStatusChange(StatusEvent{
		Job:          fresh,
		Status:       "succeeded",
		Summary:      stringField(result, "summary"),
		ResponseText: stringField(result, "responseText"),
	})
}

func (p *Pool) invokeProcessor(ctx context.Context, job *models.Job, reporter interfaces.ProgressReporter) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return p.processor(ctx, job, reporter)
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, procErr error) {
	message := procErr.Error()
	var retryable bool
	if ce, ok := procErr.(*gatewayerr.CodedError); ok {
		retryable = ce.Retryable
		message = ce.Message
	} else {
		retryable = gatewayerr.ClassifyRetryable(message)
	}

	code := gatewayerr.KindProcessorFailure
	if retryable {
		code = gatewayerr.KindProcessorRetryableFailure
	}
	if err := p.store.FailJob(ctx, job.ID, code, message, retryable); err != nil {
		p.logger.Warn().Err(err).Str("jobId", job.ID).Msg("failJob failed")
		return
	}

	attempt := job.RetryAttempt()
	maxRetries := job.MaxRetries()
	if retryable && attempt < minInt(5, maxRetries) {
		child, err := p.store.RetryJob(ctx, job.ID)
		if err != nil {
			p.logger.Warn().Err(err).Str("jobId", job.ID).Msg("retryJob failed")
			p.onStatusChange(StatusEvent{Job: job, Status: "failed", Summary: message})
			return
		}
		p.onStatusChange(StatusEvent{
			Job:     job,
			Status:  "progress",
			Step:    "retrying",
			Summary: fmt.Sprintf("retrying as job %s", child.ID),
		})
		return
	}
	p.onStatusChange(StatusEvent{Job: job, Status: "failed", Summary: message})
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type progressReporter struct {
	store          interfaces.JobStore
	jobID          string
	onStatusChange OnStatusChange
	job            *models.Job
}

func (r *progressReporter) ReportProgress(ctx context.Context, p models.Progress) error {
	if err := r.store.UpdateProgress(ctx, r.jobID, p); err != nil {
		return err
	}
	r.onStatusChange(StatusEvent{
		Job:     r.job,
		Status:  "progress",
		Summary: p.Message,
		Step:    p.Step,
		Percent: p.Percent,
		Phase:   p.Phase,
		Details: p.Details,
	})
	return nil
}
