package domain

import "time"

// MessageType enumerates the kinds of message a principal can compose.
type MessageType string

const (
	MessageDirect       MessageType = "direct"
	MessageBroadcast    MessageType = "broadcast"
	MessageAnnouncement MessageType = "announcement"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageDirect, MessageBroadcast, MessageAnnouncement:
		return true
	}
	return false
}

// Priority orders messages in a recipient's inbox.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// LifecycleState is the deletion state of a message. HardDeleted is never
// stored: a hard-deleted message has no row left.
type LifecycleState string

const (
	StateActive      LifecycleState = "active"
	StateSoftDeleted LifecycleState = "soft_deleted"
	StateHardDeleted LifecycleState = "hard_deleted"
)

// Message is a composed message. Attachment and link counters are derived
// from the attachment/link rows and are only ever written by a recompute.
type Message struct {
	ID              int64       `json:"id"`
	SenderEmail     string      `json:"sender_email"`
	TenantID        string      `json:"tenant_id"`
	Subject         string      `json:"subject"`
	Body            string      `json:"body"`
	MessageType     MessageType `json:"message_type"`
	Priority        Priority    `json:"priority"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
	IsDeleted       bool        `json:"is_deleted"`
	DeletedAt       *time.Time  `json:"deleted_at,omitempty"`
	IsRecalled      bool        `json:"is_recalled"`
	RecalledAt      *time.Time  `json:"recalled_at,omitempty"`
	RecallReason    string      `json:"recall_reason,omitempty"`
	HasAttachments  bool        `json:"has_attachments"`
	AttachmentCount int         `json:"attachment_count"`
	HasLinks        bool        `json:"has_links"`
	LinkCount       int         `json:"link_count"`
}

// State returns the message's position in the deletion state machine.
func (m *Message) State() LifecycleState {
	if m.IsDeleted {
		return StateSoftDeleted
	}
	return StateActive
}

// Recipient is the per-recipient delivery record of a message. Folder flags
// are independent of the message lifecycle; the tombstone follows it.
type Recipient struct {
	ID             int64      `json:"id"`
	MessageID      int64      `json:"message_id"`
	RecipientEmail string     `json:"recipient_email"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	IsArchived     bool       `json:"is_archived"`
	IsSaved        bool       `json:"is_saved"`
	IsForwarded    bool       `json:"is_forwarded"`
	IsReplied      bool       `json:"is_replied"`
}

// FolderFlags is a partial update of a recipient's folder state.
// Nil fields are left unchanged.
type FolderFlags struct {
	Archived  *bool `json:"archived,omitempty"`
	Saved     *bool `json:"saved,omitempty"`
	Forwarded *bool `json:"forwarded,omitempty"`
	Replied   *bool `json:"replied,omitempty"`
}

// Empty reports whether the update changes nothing.
func (f FolderFlags) Empty() bool {
	return f.Archived == nil && f.Saved == nil && f.Forwarded == nil && f.Replied == nil
}

// ThreadEdge links a reply to its parent. A child has exactly one parent.
type ThreadEdge struct {
	ParentMessageID int64     `json:"parent_message_id"`
	ChildMessageID  int64     `json:"child_message_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// InboxEntry is a message as seen from one recipient's mailbox.
type InboxEntry struct {
	Message   Message   `json:"message"`
	Recipient Recipient `json:"recipient"`
}
