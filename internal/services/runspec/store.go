// Package runspec implements the multi-step plan store with per-step
// approvals and an append-only timeline (C8).
package runspec

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

// Store is the file-backed RunSpec store described by C8.
type Store struct {
	root *statefs.Root
}

// New constructs a Store rooted at root.
func New(root *statefs.Root) *Store {
	return &Store{root: root}
}

func (s *Store) dir() (string, error) { return s.root.Dir("builtins", "run_specs") }

func (s *Store) read(runID string) (*models.RunSpecRecord, error) {
	dir, err := s.dir()
	if err != nil {
		return nil, err
	}
	var rec models.RunSpecRecord
	if err := statefs.ReadJSON(dir, runID, &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, gatewayerr.New(gatewayerr.KindRunNotFound, fmt.Sprintf("run %s not found", runID))
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) write(rec *models.RunSpecRecord) error {
	dir, err := s.dir()
	if err != nil {
		return err
	}
	return statefs.WriteJSON(dir, rec.RunID, rec)
}

// Put creates a RunSpecRecord. The spec is immutable from this point on — a
// later Put for the same runID replaces nothing: it returns the stored record
// together with an error. On first put, initial stepStates are computed per §4.8 and a
// started event is appended with seq=1.
func (s *Store) Put(ctx context.Context, runID, sessionID string, spec models.Spec, status models.RunStatus, approvedStepIDs []string, jobID string) (*models.RunSpecRecord, error) {
	if existing, err := s.read(runID); err == nil && existing != nil {
		return existing, fmt.Errorf("run %s already exists; spec is immutable", runID)
	}

	approved := map[string]bool{}
	for _, id := range approvedStepIDs {
		approved[id] = true
	}

	now := time.Now().UTC()
	states := map[string]*models.StepState{}
	for _, step := range spec.Steps {
		st := models.StepPending
		if step.Approval != nil && step.Approval.Required {
			if approved[step.ID] {
				st = models.StepApproved
			} else {
				st = models.StepApprovalRequired
			}
		}
		states[step.ID] = &models.StepState{Status: st}
	}

	rec := &models.RunSpecRecord{
		RunID:           runID,
		SessionID:       sessionID,
		JobID:           jobID,
		Status:          status,
		Spec:            spec,
		ApprovedStepIDs: approved,
		StepStates:      states,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	rec.Events = append(rec.Events, models.RunEvent{Seq: 1, At: now, Type: models.RunEventStarted})

	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get reads a RunSpecRecord by id.
func (s *Store) Get(ctx context.Context, runID string) (*models.RunSpecRecord, error) {
	return s.read(runID)
}

// List returns sessionID's run specs, newest-first, bounded to limit.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]*models.RunSpecRecord, error) {
	dir, err := s.dir()
	if err != nil {
		return nil, err
	}
	keys, err := statefs.ListKeys(dir)
	if err != nil {
		return nil, err
	}
	var out []*models.RunSpecRecord
	for _, key := range keys {
		rec, err := s.read(key)
		if err != nil {
			continue
		}
		if sessionID == "" || rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetStatus appends one event — completed/failed/cancelled when status
// matches, otherwise note — and updates the record's status and updatedAt.
func (s *Store) SetStatus(ctx context.Context, runID string, status models.RunStatus, message string, payload map[string]interface{}) error {
	rec, err := s.read(runID)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()

	eventType := models.RunEventNote
	switch status {
	case models.RunCompleted:
		eventType = models.RunEventCompleted
	case models.RunFailed:
		eventType = models.RunEventFailed
	case models.RunCancelled:
		eventType = models.RunEventCancelled
	}
	s.appendEventLocked(rec, eventType, "", message, payload)
	return s.write(rec)
}

// AppendEvent appends an event with the next gap-free seq.
func (s *Store) AppendEvent(ctx context.Context, runID string, eventType models.RunEventType, stepID, message string, payload map[string]interface{}) error {
	rec, err := s.read(runID)
	if err != nil {
		return err
	}
	s.appendEventLocked(rec, eventType, stepID, message, payload)
	return s.write(rec)
}

func (s *Store) appendEventLocked(rec *models.RunSpecRecord, eventType models.RunEventType, stepID, message string, payload map[string]interface{}) {
	rec.Events = append(rec.Events, models.RunEvent{
		Seq:     rec.NextSeq(),
		At:      time.Now().UTC(),
		Type:    eventType,
		StepID:  stepID,
		Message: message,
		Payload: payload,
	})
	rec.UpdatedAt = time.Now().UTC()
}

// UpdateStep transitions a step's mutable state and appends a step_status
// event. Execution guard: a step in approval_required state may not be
// advanced to running — callers must call GrantStepApproval first; violating
// this fails the run with run_spec_approval_missing and leaves step states
// untouched.
func (s *Store) UpdateStep(ctx context.Context, runID, stepID string, status models.StepStatus, message string, output map[string]interface{}) error {
	rec, err := s.read(runID)
	if err != nil {
		return err
	}
	state, ok := rec.StepStates[stepID]
	if !ok {
		return fmt.Errorf("run %s has no step %s", runID, stepID)
	}
	if status == models.StepRunning && state.Status == models.StepApprovalRequired {
		msg := fmt.Sprintf("step %s of run %s requires approval before running", stepID, runID)
		rec.Status = models.RunFailed
		s.appendEventLocked(rec, models.RunEventFailed, stepID, msg, map[string]interface{}{"code": gatewayerr.KindRunSpecApprovalMissing})
		if err := s.write(rec); err != nil {
			return err
		}
		return gatewayerr.New(gatewayerr.KindRunSpecApprovalMissing, msg)
	}

	now := time.Now().UTC()
	if status == models.StepRunning && state.StartedAt == nil {
		state.StartedAt = &now
	}
	if status.Terminal() {
		state.EndedAt = &now
		if state.StartedAt == nil {
			state.StartedAt = &now
		}
	}
	state.Status = status
	state.Attempts++
	if message != "" {
		state.Message = message
	}
	if output != nil {
		state.Output = output
	}

	s.appendEventLocked(rec, models.RunEventStepStatus, stepID, message, map[string]interface{}{"status": status})
	return s.write(rec)
}

// GrantStepApproval adds stepID to approvedStepIds and, if the step is
// currently pending or approval_required, transitions it to approved.
func (s *Store) GrantStepApproval(ctx context.Context, runID, stepID string) error {
	rec, err := s.read(runID)
	if err != nil {
		return err
	}
	if rec.ApprovedStepIDs == nil {
		rec.ApprovedStepIDs = map[string]bool{}
	}
	rec.ApprovedStepIDs[stepID] = true

	if state, ok := rec.StepStates[stepID]; ok {
		if state.Status == models.StepApprovalRequired || state.Status == models.StepPending {
			state.Status = models.StepApproved
			state.Message = "Approved by user"
		}
	}

	s.appendEventLocked(rec, models.RunEventApprovalGranted, stepID, "Approved by user", nil)
	return s.write(rec)
}
