package models

import "time"

// NotificationKind discriminates a text notification from a file attachment.
type NotificationKind string

const (
	NotificationText NotificationKind = "text"
	NotificationFile NotificationKind = "file"
)

// Notification is an outbound message queued for delivery through a
// ChannelAdapter, owned by C4.
type Notification struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"sessionId"`
	Kind        NotificationKind `json:"kind"`
	Text        string           `json:"text,omitempty"`
	FilePath    string           `json:"filePath,omitempty"`
	FileName    string           `json:"fileName,omitempty"`
	MimeType    string           `json:"mimeType,omitempty"`
	Caption     string           `json:"caption,omitempty"`
	JobID       string           `json:"jobId,omitempty"`
	Status      string           `json:"status,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	DeliveredAt *time.Time       `json:"deliveredAt,omitempty"`
}

// ReminderStatus enumerates a reminder's lifecycle.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderTriggered ReminderStatus = "triggered"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Reminder is a durable time-based trigger, owned by C5.
type Reminder struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	Text        string         `json:"text"`
	RemindAt    time.Time      `json:"remindAt"`
	Status      ReminderStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	TriggeredAt *time.Time     `json:"triggeredAt,omitempty"`
}

// DedupeFingerprint is a short-TTL inbound-message dedupe marker, owned by C6.
type DedupeFingerprint struct {
	Key         string    `json:"key"`
	InsertedAt  time.Time `json:"insertedAt"`
}

// ApprovalToken is a short-lived, single-use secret authorizing one
// privileged action, owned by C7. PayloadHash/TokenHash are not modeled here
// — at-rest hashing is applied by the approval store, not the record shape
// (see internal/services/approval and DESIGN.md).
type ApprovalToken struct {
	Token     string                 `json:"token"`
	SessionID string                 `json:"sessionId"`
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
}
