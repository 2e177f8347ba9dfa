// Package presence implements the thin transport consumers around user
// presence: the typing indicator relay.
package presence

import (
	"sync"
	"time"

	"github.com/chatwire/chatwire/internal/logger"
	"github.com/chatwire/chatwire/internal/wire"
	"github.com/chatwire/chatwire/pkg/types"
)

// DefaultAutoStop is how long after the last Start call a stop envelope is
// sent automatically when the caller never sends one.
const DefaultAutoStop = 3 * time.Second

// Conn is the slice of the connection manager the typing relay depends on.
type Conn interface {
	Send(payload any) error
	Subscribe(typeFilter string, fn func(wire.Envelope)) string
	Unsubscribe(id string)
}

// Typing relays typing indicators in both directions. Outbound indicators
// carry an auto-stop timer so a stuck client never looks permanently busy to
// its peers.
type Typing struct {
	conn     Conn
	username string
	autoStop time.Duration

	mu     sync.Mutex
	conv   types.Conversation
	active bool
	timer  *time.Timer
	subID  string

	onTyping func(username string, typing bool)
}

// NewTyping creates a typing relay wired to the given connection.
func NewTyping(conn Conn, username string) *Typing {
	t := &Typing{conn: conn, username: username, autoStop: DefaultAutoStop}
	t.subID = conn.Subscribe(wire.TypeTyping, t.handleTyping)
	return t
}

// SetListener registers the callback for peer typing updates. Local echoes
// are filtered out before it is invoked.
func (t *Typing) SetListener(fn func(username string, typing bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTyping = fn
}

// SetConversation switches the active conversation. A pending auto-stop for
// the previous conversation fires immediately against that conversation.
func (t *Typing) SetConversation(conv types.Conversation) {
	t.mu.Lock()
	if t.conv.Key() == conv.Key() {
		t.mu.Unlock()
		return
	}
	prev := t.conv
	wasActive := t.active
	t.conv = conv
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if wasActive {
		t.send(prev, false)
	}
}

// Start signals that the local user is typing. Repeated calls extend the
// auto-stop window without re-sending the envelope.
func (t *Typing) Start() {
	t.mu.Lock()
	conv := t.conv
	if conv.IsZero() {
		t.mu.Unlock()
		return
	}
	wasActive := t.active
	t.active = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.autoStop, t.autoStopFired)
	t.mu.Unlock()

	if !wasActive {
		t.send(conv, true)
	}
}

// Stop signals that the local user stopped typing. No-op when not typing.
func (t *Typing) Stop() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	conv := t.conv
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.send(conv, false)
}

// Close cancels the auto-stop timer and detaches from the connection.
func (t *Typing) Close() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.active = false
	subID := t.subID
	t.subID = ""
	t.mu.Unlock()

	if subID != "" {
		t.conn.Unsubscribe(subID)
	}
}

func (t *Typing) autoStopFired() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	conv := t.conv
	t.timer = nil
	t.mu.Unlock()

	t.send(conv, false)
}

func (t *Typing) send(conv types.Conversation, typing bool) {
	if conv.IsZero() {
		return
	}
	payload := wire.TypingPayload{
		Type:     wire.TypeTyping,
		IsTyping: typing,
		Username: t.username,
	}
	if conv.IsDirect() {
		payload.Receiver = conv.DirectUser
	} else {
		payload.Channel = conv.Channel
	}
	if err := t.conn.Send(payload); err != nil {
		logger.Debugf("typing send failed: %v", err)
	}
}

func (t *Typing) handleTyping(env wire.Envelope) {
	var p wire.TypingPayload
	if err := env.Decode(&p); err != nil {
		logger.Warnf("%v", err)
		return
	}
	if p.Username == t.username {
		return
	}

	t.mu.Lock()
	fn := t.onTyping
	t.mu.Unlock()
	if fn != nil {
		fn(p.Username, p.IsTyping)
	}
}
