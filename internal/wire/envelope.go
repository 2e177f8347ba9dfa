// Package wire defines the JSON envelopes exchanged over the persistent
// chat connection. Every frame is one JSON object discriminated by a "type"
// field; inbound frames are parsed into an Envelope first and decoded into a
// typed payload by the subscriber that handles them.
package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope type names. Direction noted where it is not obvious.
const (
	TypeJoin               = "join"
	TypeJoinDirect         = "joinDirectMessage"
	TypeMessage            = "message"
	TypeDirectMessage      = "directMessage"
	TypeMessageAck         = "messageAck"
	TypeTyping             = "typing"
	TypeFetchHistory       = "fetchHistory"
	TypeHistoryResponse    = "historyResponse"
	TypeFileUploadComplete = "fileUploadComplete"
	TypeFileUpdated        = "fileUpdated"
	TypeRequestEditLock    = "requestEditLock"
	TypeReleaseEditLock    = "releaseEditLock"
	TypeEditLockResponse   = "editLockResponse"
	TypeEditLockUpdate     = "editLockUpdate"
	TypeUpdateFileContent  = "updateFileContent"
	TypeGetFileEditHistory = "getFileEditHistory"
	TypeFileEditHistory    = "fileEditHistory"
	TypePing               = "ping"
)

// Envelope is one inbound frame: the type discriminator plus the raw JSON,
// retained so subscribers can decode the payload shape they expect.
type Envelope struct {
	// Type is the envelope discriminator.
	Type string

	raw json.RawMessage
}

// Parse parses a raw frame into an Envelope. Frames without a non-empty
// string "type" field are rejected.
func Parse(data []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if head.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Envelope{Type: head.Type, raw: raw}, nil
}

// Decode unmarshals the envelope's raw JSON into the given payload struct.
func (e Envelope) Decode(into any) error {
	if err := json.Unmarshal(e.raw, into); err != nil {
		return fmt.Errorf("decode %s envelope: %w", e.Type, err)
	}
	return nil
}

// Raw returns the raw JSON of the envelope.
func (e Envelope) Raw() json.RawMessage { return e.raw }
