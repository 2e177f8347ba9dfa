package wire

import (
	"encoding/json"

	"github.com/chatwire/chatwire/pkg/types"
)

// MessagePayload is the chat/file message envelope, used in both directions
// for both "message" (channel) and "directMessage" envelopes.
//
// Outbound, ID and Sender are left empty; the server assigns the id and
// stamps the sender. Inbound, ClientMessageID is present only when the
// message originated from this client (the echo doubles as the positive
// acknowledgment).
type MessagePayload struct {
	// Type is "message" or "directMessage".
	Type string `json:"type"`
	// ID is the server-assigned message id.
	ID string `json:"id,omitempty"`
	// ClientMessageID is the client-generated correlation id.
	ClientMessageID string `json:"clientMessageId,omitempty"`
	// Text is the message body.
	Text string `json:"text"`
	// Sender is the author's username.
	Sender string `json:"sender,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt Millis `json:"createdAt,omitempty"`
	// Channel is set for channel conversations.
	Channel string `json:"channel,omitempty"`
	// TeamName is set for channel conversations.
	TeamName string `json:"teamName,omitempty"`
	// Receiver is set for direct conversations.
	Receiver string `json:"receiver,omitempty"`
	// FileName is set when the message carries a file attachment.
	FileName string `json:"fileName,omitempty"`
	// FileType is the attachment type hint.
	FileType string `json:"fileType,omitempty"`
	// FileURL is the attachment download URL, when already uploaded.
	FileURL string `json:"fileUrl,omitempty"`
	// FileSize is the attachment size in bytes.
	FileSize int64 `json:"fileSize,omitempty"`
	// Quoted is the optional quoted message.
	Quoted *types.QuotedMessage `json:"quotedMessage,omitempty"`
}

// UnmarshalJSON accepts legacy field names seen across clients.
//
// Observed variants:
// - id vs _id
// - text vs content
func (p *MessagePayload) UnmarshalJSON(data []byte) error {
	type alias MessagePayload
	type compat struct {
		alias
		MongoID string `json:"_id"`
		Content string `json:"content"`
	}
	var tmp compat
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*p = MessagePayload(tmp.alias)
	if p.ID == "" {
		p.ID = tmp.MongoID
	}
	if p.Text == "" {
		p.Text = tmp.Content
	}
	return nil
}

// ChatMessage converts the wire payload into the local model type with the
// given initial status.
func (p MessagePayload) ChatMessage(status types.MessageStatus) types.ChatMessage {
	msg := types.ChatMessage{
		ServerID:        p.ID,
		ClientMessageID: p.ClientMessageID,
		Text:            p.Text,
		Sender:          p.Sender,
		CreatedAt:       int64(p.CreatedAt),
		Status:          status,
		Quoted:          p.Quoted,
	}
	if p.FileName != "" {
		msg.Attachment = &types.Attachment{
			FileName: p.FileName,
			FileType: p.FileType,
			FileURL:  p.FileURL,
			FileSize: p.FileSize,
		}
	}
	return msg
}

// MessageAckPayload is the server -> client acknowledgment envelope that
// advances a message's delivery status past "sent".
type MessageAckPayload struct {
	// Type must be "messageAck".
	Type string `json:"type"`
	// MessageID is the server-assigned id of the acknowledged message.
	MessageID string `json:"messageId"`
	// ClientMessageID is the client correlation id, when the server knows it.
	ClientMessageID string `json:"clientMessageId,omitempty"`
	// Status is the acknowledged status ("delivered" or "read").
	Status string `json:"status"`
}

// HistoryResponsePayload is the server -> client response to "fetchHistory".
type HistoryResponsePayload struct {
	// Type must be "historyResponse".
	Type string `json:"type"`
	// Messages is the page of historical messages, oldest first.
	Messages []MessagePayload `json:"messages"`
	// HasMore reports whether older messages exist beyond this page.
	HasMore bool `json:"hasMore"`
	// Before echoes the cursor of the request; empty for an initial load.
	Before string `json:"before,omitempty"`
}
