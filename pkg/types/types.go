// Package types defines the consumer-visible model types of the chatwire
// sync engine: connection state, chat messages and their delivery status,
// conversations, and edit locks.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConnectionState describes the lifecycle state of the single shared
// connection. Exactly one connection exists per running client.
type ConnectionState int

const (
	// Disconnected means no connection exists and none is being attempted.
	Disconnected ConnectionState = iota
	// Connecting means a connection attempt (or automatic reconnect) is in
	// flight.
	Connecting
	// Connected means the connection is open and authenticated.
	Connected
)

// String returns the lower-case state name.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// MessageStatus is the delivery status of a chat message.
//
// Statuses advance monotonically (pending → sent → delivered → read) except
// for the explicit user-triggered resend path after failed, which starts a
// brand-new message with a new client id.
type MessageStatus string

const (
	// StatusPending means the message has been handed to the engine but no
	// acknowledgment has been observed yet.
	StatusPending MessageStatus = "pending"
	// StatusSent means the server echoed the message back, confirming receipt.
	StatusSent MessageStatus = "sent"
	// StatusDelivered means the server acknowledged delivery to recipients.
	StatusDelivered MessageStatus = "delivered"
	// StatusRead means at least one recipient read the message. Terminal.
	StatusRead MessageStatus = "read"
	// StatusFailed means all send attempts were exhausted without an
	// acknowledgment. Terminal for this client id.
	StatusFailed MessageStatus = "failed"
)

// rank orders statuses for monotonic advancement checks.
func (s MessageStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// Before reports whether s precedes other in the delivery state machine.
// Failed never advances and nothing advances past it.
func (s MessageStatus) Before(other MessageStatus) bool {
	if s == StatusFailed || other == StatusFailed {
		return false
	}
	return s.rank() < other.rank()
}

// Attachment describes a file carried by a chat message.
type Attachment struct {
	// FileName is the original file name.
	FileName string `json:"fileName"`
	// FileType is a MIME-ish type hint.
	FileType string `json:"fileType,omitempty"`
	// FileURL is the server-assigned download URL, set once the upload
	// completes.
	FileURL string `json:"fileUrl,omitempty"`
	// FileSize is the size in bytes.
	FileSize int64 `json:"fileSize,omitempty"`
	// UploadStatus reflects server-side upload progress ("pending",
	// "complete", ...).
	UploadStatus string `json:"uploadStatus,omitempty"`
	// EditedBy names the last user who edited the file content, if any.
	EditedBy string `json:"editedBy,omitempty"`
	// EditedAt is the last content edit time in milliseconds since epoch.
	EditedAt int64 `json:"editedAt,omitempty"`
}

// QuotedMessage is an inline reference to an earlier message.
type QuotedMessage struct {
	// ID is the server id of the quoted message.
	ID string `json:"id,omitempty"`
	// Sender is the quoted author.
	Sender string `json:"sender,omitempty"`
	// Text is the quoted text (possibly truncated by the server).
	Text string `json:"text,omitempty"`
}

// ChatMessage is the delivery unit held by the message pipeline.
//
// The local list preserves server order for historical pages and append
// order for live messages; no client-side timestamp re-sorting is performed.
type ChatMessage struct {
	// ServerID is the authoritative id, empty until the server assigned one.
	ServerID string `json:"id,omitempty"`
	// ClientMessageID is the client-generated id, the only reliable key
	// before the server assigns authoritative state.
	ClientMessageID string `json:"clientMessageId,omitempty"`
	// Text is the message body.
	Text string `json:"text"`
	// Sender is the author's username.
	Sender string `json:"sender"`
	// CreatedAt is the creation time in milliseconds since epoch.
	CreatedAt int64 `json:"createdAt"`
	// Status is the local delivery status.
	Status MessageStatus `json:"status"`
	// Attachment is the optional file payload.
	Attachment *Attachment `json:"attachment,omitempty"`
	// Quoted is the optional quoted message.
	Quoted *QuotedMessage `json:"quotedMessage,omitempty"`
}

// Conversation identifies the active channel or direct conversation.
//
// The zero value means "no conversation selected".
type Conversation struct {
	// Team is the team name for channel conversations.
	Team string `json:"team,omitempty"`
	// Channel is the channel name for channel conversations.
	Channel string `json:"channel,omitempty"`
	// DirectUser is the peer username for direct conversations.
	DirectUser string `json:"directUser,omitempty"`
}

// IsDirect reports whether the conversation is a direct conversation.
func (c Conversation) IsDirect() bool { return c.DirectUser != "" }

// IsZero reports whether no conversation is selected.
func (c Conversation) IsZero() bool {
	return c.Team == "" && c.Channel == "" && c.DirectUser == ""
}

// Key returns a stable identity string for equality checks.
func (c Conversation) Key() string {
	if c.IsDirect() {
		return "dm:" + c.DirectUser
	}
	return "ch:" + c.Team + "/" + c.Channel
}

// EditLock is a server-arbitrated mutual-exclusion token over one editable
// resource. At most one EditLock per resource id is valid at any instant.
type EditLock struct {
	// ResourceID identifies the locked resource (the attachment message id).
	ResourceID string `json:"resourceId"`
	// Holder is the username currently holding the lock.
	Holder string `json:"holder"`
	// AcquiredAt is the lock acquisition time in milliseconds since epoch.
	AcquiredAt int64 `json:"acquiredAt,omitempty"`
}

// NewClientMessageID generates a locally-unique message id of the form
// "client_<timestamp>_<random>". It is assigned before any server round-trip
// and correlates optimistic local state with eventual acknowledgment.
func NewClientMessageID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("client_%d_%s", time.Now().UnixMilli(), random)
}
