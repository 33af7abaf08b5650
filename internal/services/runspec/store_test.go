package runspec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root, err := statefs.NewRoot(t.TempDir())
	require.NoError(t, err)
	return New(root)
}

func approvalGatedSpec() models.Spec {
	return models.Spec{Steps: []models.StepSpec{
		{ID: "step-1", Type: "file.write", Name: "write file", Approval: &models.StepApproval{Required: true, Capability: "file.write"}},
		{ID: "step-2", Type: "noop", Name: "noop"},
	}}
}

func TestPut_InitialStepStatesAndStartedEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Put(ctx, "run-1", "s1", approvalGatedSpec(), models.RunQueued, nil, "")
	require.NoError(t, err)
	require.Equal(t, models.StepApprovalRequired, rec.StepStates["step-1"].Status)
	require.Equal(t, models.StepPending, rec.StepStates["step-2"].Status)
	require.Len(t, rec.Events, 1)
	require.Equal(t, 1, rec.Events[0].Seq)
	require.Equal(t, models.RunEventStarted, rec.Events[0].Type)
}

func TestPut_PreApprovedStepStartsApproved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Put(ctx, "run-2", "s1", approvalGatedSpec(), models.RunQueued, []string{"step-1"}, "")
	require.NoError(t, err)
	require.Equal(t, models.StepApproved, rec.StepStates["step-1"].Status)
}

func TestUpdateStep_RunningWithoutApprovalFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "run-3", "s1", approvalGatedSpec(), models.RunQueued, nil, "")
	require.NoError(t, err)

	err = s.UpdateStep(ctx, "run-3", "step-1", models.StepRunning, "", nil)
	require.Error(t, err)
	ce, ok := err.(*gatewayerr.CodedError)
	require.True(t, ok)
	require.Equal(t, gatewayerr.KindRunSpecApprovalMissing, ce.Code)

	rec, err := s.Get(ctx, "run-3")
	require.NoError(t, err)
	require.Equal(t, models.StepApprovalRequired, rec.StepStates["step-1"].Status)
	require.Zero(t, rec.StepStates["step-1"].Attempts, "rejected transition must not mutate attempts")
}

func TestGet_UnknownRunIDReturnsRunNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "does-not-exist")
	require.Error(t, err)
	ce, ok := err.(*gatewayerr.CodedError)
	require.True(t, ok)
	require.Equal(t, gatewayerr.KindRunNotFound, ce.Code)
}

func TestGrantStepApproval_ThenRunningSucceeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "run-4", "s1", approvalGatedSpec(), models.RunQueued, nil, "")
	require.NoError(t, err)

	require.NoError(t, s.GrantStepApproval(ctx, "run-4", "step-1"))
	rec, err := s.Get(ctx, "run-4")
	require.NoError(t, err)
	require.Equal(t, models.StepApproved, rec.StepStates["step-1"].Status)
	require.True(t, rec.ApprovedStepIDs["step-1"])

	require.NoError(t, s.UpdateStep(ctx, "run-4", "step-1", models.StepRunning, "", nil))
	require.NoError(t, s.UpdateStep(ctx, "run-4", "step-1", models.StepCompleted, "done", nil))

	rec, err = s.Get(ctx, "run-4")
	require.NoError(t, err)
	require.NotNil(t, rec.StepStates["step-1"].StartedAt)
	require.NotNil(t, rec.StepStates["step-1"].EndedAt)
	require.False(t, rec.StepStates["step-1"].EndedAt.Before(*rec.StepStates["step-1"].StartedAt))
}

func TestEventSeq_MonotonicAndGapFree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "run-5", "s1", approvalGatedSpec(), models.RunQueued, nil, "")
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(ctx, "run-5", models.RunEventNote, "", "note one", nil))
	require.NoError(t, s.GrantStepApproval(ctx, "run-5", "step-1"))
	require.NoError(t, s.SetStatus(ctx, "run-5", models.RunCompleted, "done", nil))

	rec, err := s.Get(ctx, "run-5")
	require.NoError(t, err)
	for i, ev := range rec.Events {
		require.Equal(t, i+1, ev.Seq)
	}
}
