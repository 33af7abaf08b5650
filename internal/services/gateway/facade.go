// Package gateway implements the service facade (C10) that turns an inbound
// message into a chat reply, a job, an approval decision, or a RunSpec
// step-approval advance.
package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/interfaces"
	"github.com/bobmcallan/gatewayd/internal/models"
)

// Inbound is an inbound message as described in §6.
type Inbound struct {
	SessionID  string
	Text       string
	RequestJob bool
	Metadata   map[string]interface{}
}

// Result is returned by Handle for both HTTP response shapes named in §6.
type Result struct {
	Mode       string // "chat", "async-job"
	Response   string
	JobID      string
	Duplicate  bool
}

// ActionHandler runs the payload bound to a granted approval token.
type ActionHandler func(ctx context.Context, action string, payload map[string]interface{}) error

// Facade wires together the stores and collaborators that back C10.
type Facade struct {
	Jobs          interfaces.JobStore
	Notifications interfaces.NotificationStore
	Approvals     interfaces.ApprovalStore
	RunSpecs      interfaces.RunSpecStore
	Events        interfaces.ConversationEventStore
	Dedupe        interfaces.DedupeStore
	LLM           interfaces.LLMService
	Logger        *common.Logger
	OnAction      ActionHandler
}

var stepApprovalPattern = regexp.MustCompile(`(?i)^approve step (\S+) of run (\S+)$`)

// Handle routes one inbound message through the rules in §4.10.
func (f *Facade) Handle(ctx context.Context, in Inbound) (*Result, error) {
	text := strings.TrimSpace(in.Text)

	if m := stepApprovalPattern.FindStringSubmatch(text); m != nil {
		stepID, runID := m[1], m[2]
		if err := f.RunSpecs.GrantStepApproval(ctx, runID, stepID); err != nil {
			return nil, err
		}
		return &Result{Mode: "chat", Response: fmt.Sprintf("approved step %s of run %s", stepID, runID)}, nil
	}

	if verb, token, ok := parseApprovalVerb(text); ok {
		return f.handleApproval(ctx, in.SessionID, verb, token)
	}

	if in.RequestJob {
		return f.createAsyncJob(ctx, in)
	}

	response := f.chatReply(ctx, in.SessionID, text)
	return &Result{Mode: "chat", Response: response}, nil
}

// HandleBaileysInbound additionally runs dedupe on a (channel, jid,
// messageId) key before delegating to Handle. Duplicates are not processed.
func (f *Facade) HandleBaileysInbound(ctx context.Context, channel, jid, messageID string, in Inbound) (*Result, error) {
	key := fmt.Sprintf("%s:%s:%s", channel, jid, messageID)
	dup, err := f.Dedupe.IsDuplicateAndMark(ctx, key)
	if err != nil {
		return nil, err
	}
	if dup {
		return &Result{Duplicate: true}, nil
	}
	result, err := f.Handle(ctx, in)
	if err != nil {
		return nil, err
	}
	result.Duplicate = false
	return result, nil
}

func (f *Facade) createAsyncJob(ctx context.Context, in Inbound) (*Result, error) {
	payload := map[string]interface{}{"text": in.Text, "sessionId": in.SessionID}
	for k, v := range in.Metadata {
		payload[k] = v
	}
	job, err := f.Jobs.CreateJob(ctx, "stub_task", payload, 5, "")
	if err != nil {
		return nil, err
	}
	if f.Notifications != nil {
		f.Notifications.Enqueue(ctx, &models.Notification{
			SessionID: in.SessionID,
			Kind:      models.NotificationText,
			Text:      fmt.Sprintf("queued: %s", in.Text),
			JobID:     job.ID,
		})
	}
	return &Result{Mode: "async-job", JobID: job.ID}, nil
}

func (f *Facade) chatReply(ctx context.Context, sessionID, text string) string {
	if f.LLM != nil {
		if reply, ok, err := f.LLM.GenerateText(ctx, sessionID, text, ""); err == nil && ok {
			return reply
		}
	}
	return "ack:" + text
}

func (f *Facade) handleApproval(ctx context.Context, sessionID, verb, token string) (*Result, error) {
	accept := verb == "approve" || verb == "yes"

	var approval *models.ApprovalToken
	var err error
	switch {
	case token != "":
		approval, err = f.Approvals.Consume(ctx, sessionID, token)
	case accept:
		approval, err = f.Approvals.ConsumeLatest(ctx, sessionID)
	default:
		approval, err = f.Approvals.DiscardLatest(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return &Result{Mode: "chat", Response: "no pending approval"}, nil
	}

	if !accept {
		return &Result{Mode: "chat", Response: fmt.Sprintf("rejected %s", approval.Action)}, nil
	}

	if f.OnAction != nil {
		if err := f.OnAction(ctx, approval.Action, approval.Payload); err != nil {
			return nil, err
		}
	}
	return &Result{Mode: "chat", Response: fmt.Sprintf("approved %s", approval.Action)}, nil
}

// parseApprovalVerb recognizes "approve [token]", "reject", "yes", "no".
func parseApprovalVerb(text string) (verb, token string, ok bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", "", false
	}
	switch fields[0] {
	case "approve", "yes":
		verb = "approve"
	case "reject", "no":
		verb = "reject"
	default:
		return "", "", false
	}
	if len(fields) > 1 {
		token = fields[1]
	}
	return verb, token, true
}
