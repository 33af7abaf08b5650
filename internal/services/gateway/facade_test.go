package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/services/approval"
	"github.com/bobmcallan/gatewayd/internal/services/dedupe"
	"github.com/bobmcallan/gatewayd/internal/services/jobstore"
	"github.com/bobmcallan/gatewayd/internal/services/notification"
	"github.com/bobmcallan/gatewayd/internal/services/runspec"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	root, err := statefs.NewRoot(t.TempDir())
	require.NoError(t, err)
	logger := common.NewSilentLogger()

	return &Facade{
		Jobs:          jobstore.New(root, logger),
		Notifications: notification.New(root),
		Approvals:     approval.New(root),
		RunSpecs:      runspec.New(root),
		Dedupe:        dedupe.New(root, time.Hour),
		Logger:        logger,
	}
}

func approvalGatedSpec() models.Spec {
	return models.Spec{Steps: []models.StepSpec{
		{ID: "step-1", Type: "file.write", Name: "write file", Approval: &models.StepApproval{Required: true, Capability: "file.write"}},
	}}
}

func TestHandle_ChatAckWithNoLLM(t *testing.T) {
	f := newTestFacade(t)
	result, err := f.Handle(context.Background(), Inbound{SessionID: "s1", Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "chat", result.Mode)
	require.Equal(t, "ack:hi", result.Response)
}

func TestHandle_RequestJobCreatesAsyncJob(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	result, err := f.Handle(ctx, Inbound{SessionID: "s1", Text: "work", RequestJob: true})
	require.NoError(t, err)
	require.Equal(t, "async-job", result.Mode)
	require.NotEmpty(t, result.JobID)

	job, err := f.Jobs.Get(ctx, result.JobID)
	require.NoError(t, err)
	require.Equal(t, "stub_task", job.Type)

	pending, err := f.Notifications.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, job.ID, pending[0].JobID)
}

func TestHandle_ApprovalAcceptRunsAction(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	token, err := f.Approvals.Create(ctx, "s1", "file.write", map[string]interface{}{"path": "/tmp/x"}, time.Minute)
	require.NoError(t, err)

	var ranAction string
	f.OnAction = func(ctx context.Context, action string, payload map[string]interface{}) error {
		ranAction = action
		return nil
	}

	result, err := f.Handle(ctx, Inbound{SessionID: "s1", Text: "approve " + token.Token})
	require.NoError(t, err)
	require.Equal(t, "chat", result.Mode)
	require.Equal(t, "file.write", ranAction)
}

func TestHandle_BareYesConsumesLatestApproval(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	_, err := f.Approvals.Create(ctx, "s1", "send.email", nil, time.Minute)
	require.NoError(t, err)

	var ranAction string
	f.OnAction = func(ctx context.Context, action string, payload map[string]interface{}) error {
		ranAction = action
		return nil
	}

	result, err := f.Handle(ctx, Inbound{SessionID: "s1", Text: "yes"})
	require.NoError(t, err)
	require.Equal(t, "send.email", ranAction)
	require.Contains(t, result.Response, "approved")
}

func TestHandle_BareNoDiscardsLatestApproval(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	_, err := f.Approvals.Create(ctx, "s1", "send.email", nil, time.Minute)
	require.NoError(t, err)

	ranAction := false
	f.OnAction = func(ctx context.Context, action string, payload map[string]interface{}) error {
		ranAction = true
		return nil
	}

	result, err := f.Handle(ctx, Inbound{SessionID: "s1", Text: "no"})
	require.NoError(t, err)
	require.False(t, ranAction)
	require.Contains(t, result.Response, "rejected")
}

func TestHandle_StepApprovalCommand(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	_, err := f.RunSpecs.Put(ctx, "run-1", "s1", approvalGatedSpec(), models.RunQueued, nil, "")
	require.NoError(t, err)

	result, err := f.Handle(ctx, Inbound{SessionID: "s1", Text: "approve step step-1 of run run-1"})
	require.NoError(t, err)
	require.Equal(t, "chat", result.Mode)

	rec, err := f.RunSpecs.Get(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, rec.ApprovedStepIDs["step-1"])
}

func TestHandleBaileysInbound_DedupesWithinWindow(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	first, err := f.HandleBaileysInbound(ctx, "whatsapp", "u@x", "m-1", Inbound{SessionID: "s1", Text: "/job run", RequestJob: true})
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.NotEmpty(t, first.JobID)

	second, err := f.HandleBaileysInbound(ctx, "whatsapp", "u@x", "m-1", Inbound{SessionID: "s1", Text: "/job run", RequestJob: true})
	require.NoError(t, err)
	require.True(t, second.Duplicate)
}
