package wire

// JoinPayload is the client -> server payload for the "join" envelope.
type JoinPayload struct {
	// Type must be "join".
	Type string `json:"type"`
	// TeamName is the team to join.
	TeamName string `json:"teamName"`
	// ChannelName is the channel within the team.
	ChannelName string `json:"channelName"`
}

// NewJoinPayload builds a "join" envelope payload.
func NewJoinPayload(team, channel string) JoinPayload {
	return JoinPayload{Type: TypeJoin, TeamName: team, ChannelName: channel}
}

// JoinDirectPayload is the client -> server payload for the
// "joinDirectMessage" envelope.
type JoinDirectPayload struct {
	// Type must be "joinDirectMessage".
	Type string `json:"type"`
	// Username is the peer to open a direct conversation with.
	Username string `json:"username"`
}

// NewJoinDirectPayload builds a "joinDirectMessage" envelope payload.
func NewJoinDirectPayload(username string) JoinDirectPayload {
	return JoinDirectPayload{Type: TypeJoinDirect, Username: username}
}

// TypingPayload is the payload for the "typing" envelope, sent in both
// directions.
type TypingPayload struct {
	// Type must be "typing".
	Type string `json:"type"`
	// IsTyping is true while the user is typing.
	IsTyping bool `json:"isTyping"`
	// Username is the typing user.
	Username string `json:"username"`
	// Channel is set for channel conversations.
	Channel string `json:"channel,omitempty"`
	// Receiver is set for direct conversations.
	Receiver string `json:"receiver,omitempty"`
}

// FetchHistoryPayload is the client -> server payload for the
// "fetchHistory" envelope.
type FetchHistoryPayload struct {
	// Type must be "fetchHistory".
	Type string `json:"type"`
	// Before is the oldest already-loaded server id; empty on initial load.
	Before string `json:"before,omitempty"`
	// Limit is the page size.
	Limit int `json:"limit"`
	// Channel is set for channel conversations.
	Channel string `json:"channel,omitempty"`
	// TeamName is set for channel conversations.
	TeamName string `json:"teamName,omitempty"`
	// Receiver is set for direct conversations.
	Receiver string `json:"receiver,omitempty"`
}

// PingPayload is the advisory keep-alive envelope. It has no reply contract.
type PingPayload struct {
	// Type must be "ping".
	Type string `json:"type"`
	// Time is the client wall clock in milliseconds since epoch.
	Time Millis `json:"time,omitempty"`
}

// NewPingPayload builds a "ping" envelope payload.
func NewPingPayload() PingPayload {
	return PingPayload{Type: TypePing, Time: Now()}
}

// RequestEditLockPayload is the client -> server payload for the
// "requestEditLock" envelope.
type RequestEditLockPayload struct {
	// Type must be "requestEditLock".
	Type string `json:"type"`
	// MessageID identifies the attachment message being edited.
	MessageID string `json:"messageId"`
	// FileName is the attachment file name.
	FileName string `json:"fileName,omitempty"`
	// Channel is set for channel conversations.
	Channel string `json:"channel,omitempty"`
	// TeamName is set for channel conversations.
	TeamName string `json:"teamName,omitempty"`
	// Receiver is set for direct conversations.
	Receiver string `json:"receiver,omitempty"`
}

// ReleaseEditLockPayload is the client -> server payload for the
// "releaseEditLock" envelope.
type ReleaseEditLockPayload struct {
	// Type must be "releaseEditLock".
	Type string `json:"type"`
	// MessageID identifies the attachment message being edited.
	MessageID string `json:"messageId"`
	// FileName is the attachment file name.
	FileName string `json:"fileName,omitempty"`
	// Channel is set for channel conversations.
	Channel string `json:"channel,omitempty"`
	// TeamName is set for channel conversations.
	TeamName string `json:"teamName,omitempty"`
	// Receiver is set for direct conversations.
	Receiver string `json:"receiver,omitempty"`
}

// UpdateFileContentPayload is the client -> server payload for the
// "updateFileContent" envelope.
type UpdateFileContentPayload struct {
	// Type must be "updateFileContent".
	Type string `json:"type"`
	// MessageID identifies the attachment message being edited.
	MessageID string `json:"messageId"`
	// FileName is the attachment file name.
	FileName string `json:"fileName,omitempty"`
	// Content is the full replacement file content.
	Content string `json:"content"`
}

// GetFileEditHistoryPayload is the client -> server payload for the
// "getFileEditHistory" envelope.
type GetFileEditHistoryPayload struct {
	// Type must be "getFileEditHistory".
	Type string `json:"type"`
	// MessageID identifies the attachment message.
	MessageID string `json:"messageId"`
}
