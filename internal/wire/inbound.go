package wire

// FileUploadCompletePayload is the server -> client notification that an
// attachment upload finished and the file is downloadable.
type FileUploadCompletePayload struct {
	// Type must be "fileUploadComplete".
	Type string `json:"type"`
	// ClientMessageID correlates with the optimistic local message, if known.
	ClientMessageID string `json:"clientMessageId,omitempty"`
	// MessageID is the server-assigned message id.
	MessageID string `json:"messageId,omitempty"`
	// FileURL is the final download URL.
	FileURL string `json:"fileUrl"`
	// Status is the upload status ("complete" on success).
	Status string `json:"status,omitempty"`
}

// FileUpdatedPayload is the server -> client broadcast after an attachment's
// content was edited by some client.
type FileUpdatedPayload struct {
	// Type must be "fileUpdated".
	Type string `json:"type"`
	// MessageID identifies the attachment message.
	MessageID string `json:"messageId"`
	// EditedBy is the editing user.
	EditedBy string `json:"editedBy"`
	// EditedAt is the edit timestamp.
	EditedAt Millis `json:"editedAt,omitempty"`
}

// EditLockResponsePayload is the server -> client direct response to
// "requestEditLock".
type EditLockResponsePayload struct {
	// Type must be "editLockResponse".
	Type string `json:"type"`
	// MessageID identifies the attachment message.
	MessageID string `json:"messageId"`
	// Granted reports whether the requester now holds the lock.
	Granted bool `json:"granted"`
	// LockedBy names the current holder when Granted is false.
	LockedBy string `json:"lockedBy,omitempty"`
	// LockedAt is the holder's acquisition timestamp.
	LockedAt Millis `json:"lockedAt,omitempty"`
}

// EditLockUpdatePayload is the server -> client broadcast announcing the
// authoritative lock state to all subscribers of the resource.
type EditLockUpdatePayload struct {
	// Type must be "editLockUpdate".
	Type string `json:"type"`
	// MessageID identifies the attachment message.
	MessageID string `json:"messageId"`
	// Locked reports whether the resource is locked.
	Locked bool `json:"locked"`
	// Username is the holder when Locked is true.
	Username string `json:"username,omitempty"`
	// AcquiredAt is the acquisition timestamp when Locked is true.
	AcquiredAt Millis `json:"acquiredAt,omitempty"`
}

// FileEditRecord is one entry of an attachment's edit history.
type FileEditRecord struct {
	// EditedBy is the editing user.
	EditedBy string `json:"editedBy"`
	// EditedAt is the edit timestamp.
	EditedAt Millis `json:"editedAt"`
	// Content is the file content after the edit, when the server includes it.
	Content string `json:"content,omitempty"`
}

// FileEditHistoryPayload is the server -> client response to
// "getFileEditHistory".
type FileEditHistoryPayload struct {
	// Type must be "fileEditHistory".
	Type string `json:"type"`
	// MessageID identifies the attachment message.
	MessageID string `json:"messageId"`
	// History lists edits, most recent first.
	History []FileEditRecord `json:"history"`
}
