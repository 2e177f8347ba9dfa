// Package sdk is the embedding surface of the chatwire sync engine. It owns
// the connection manager, the message pipeline, the edit-lock coordinator,
// and the typing relay, and serializes all public entry points onto a single
// dispatcher goroutine.
package sdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatwire/chatwire/internal/editlock"
	"github.com/chatwire/chatwire/internal/logger"
	"github.com/chatwire/chatwire/internal/messages"
	"github.com/chatwire/chatwire/internal/presence"
	"github.com/chatwire/chatwire/internal/websocket"
	"github.com/chatwire/chatwire/internal/wire"
	"github.com/chatwire/chatwire/pkg/types"
)

// Listener receives engine events. Methods must be safe to call from any
// goroutine; they are invoked from a dedicated callback goroutine, never from
// the caller's own stack.
type Listener interface {
	OnConnected()
	OnDisconnected(reason string)
	OnError(message string)
	OnMessagesChanged()
}

// Options configures a Client.
type Options struct {
	// ServerURL is the websocket endpoint.
	ServerURL string
	// Token is the bearer credential presented during the handshake.
	Token string
	// Username is the local user.
	Username string
	// HeartbeatInterval overrides the keep-alive cadence when positive.
	HeartbeatInterval time.Duration
	// Dial overrides the transport constructor. Defaults to the production
	// websocket dialer.
	Dial websocket.Dialer
}

// Client is the engine facade. One Client owns exactly one connection.
type Client struct {
	opts Options

	mu       sync.Mutex
	listener Listener

	conn     *websocket.Client
	pipeline *messages.Pipeline
	locks    *editlock.Coordinator
	typing   *presence.Typing

	dispatch  *dispatcher
	callbacks *dispatcher
}

// NewClient assembles the engine. It does not connect.
func NewClient(opts Options) *Client {
	c := &Client{
		opts:      opts,
		dispatch:  newDispatcher(256),
		callbacks: newDispatcher(256),
	}
	c.conn = websocket.NewClient(websocket.Options{
		ServerURL:         opts.ServerURL,
		Token:             opts.Token,
		HeartbeatInterval: opts.HeartbeatInterval,
		Dial:              opts.Dial,
	})
	c.pipeline = messages.NewPipeline(c.conn, messages.Options{Username: opts.Username})
	c.locks = editlock.NewCoordinator(c.conn, opts.Username)
	c.typing = presence.NewTyping(c.conn, opts.Username)

	c.conn.AddConnectionListener(func() {
		c.emit(func(l Listener) { l.OnConnected() })
	})
	c.conn.AddDisconnectionListener(func(reason string) {
		c.emit(func(l Listener) { l.OnDisconnected(reason) })
	})
	c.conn.AddErrorListener(func(err error) {
		c.emit(func(l Listener) { l.OnError(err.Error()) })
	})
	c.pipeline.SetChangeListener(func() {
		c.emit(func(l Listener) { l.OnMessagesChanged() })
	})
	return c
}

// SetListener registers the listener for engine events.
func (c *Client) SetListener(listener Listener) {
	_, _ = c.dispatch.call(func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listener = listener
		return nil, nil
	})
}

// SetTypingListener registers the callback for peer typing updates.
func (c *Client) SetTypingListener(fn func(username string, typing bool)) {
	c.typing.SetListener(func(username string, typing bool) {
		_ = c.callbacks.do(func() { fn(username, typing) })
	})
}

// SetLockListener registers the callback for edit-lock state changes.
func (c *Client) SetLockListener(fn func(phase string, lock *types.EditLock)) {
	c.locks.SetStateListener(func(phase editlock.Phase, lock *types.EditLock) {
		_ = c.callbacks.do(func() { fn(phase.String(), lock) })
	})
}

// SetEditHistoryListener registers the callback for file edit history
// responses.
func (c *Client) SetEditHistoryListener(fn func(resourceID string, history []wire.FileEditRecord)) {
	c.locks.SetHistoryListener(func(resourceID string, history []wire.FileEditRecord) {
		_ = c.callbacks.do(func() { fn(resourceID, history) })
	})
}

// SetSendResultListener registers the callback invoked when one of this
// client's sends changes delivery status.
func (c *Client) SetSendResultListener(fn func(clientMessageID string, status types.MessageStatus)) {
	c.pipeline.SetResultListener(func(id string, status types.MessageStatus) {
		_ = c.callbacks.do(func() { fn(id, status) })
	})
}

// Connect establishes the connection. An expired credential fails fast
// without a network round-trip.
func (c *Client) Connect(ctx context.Context) error {
	expired, err := isTokenExpiringSoon(c.opts.Token, 0)
	if err != nil {
		return fmt.Errorf("credential check: %w", err)
	}
	if expired {
		return fmt.Errorf("credential expired, re-authenticate before connecting")
	}

	_, err = c.dispatch.call(func() (any, error) {
		return nil, c.conn.Connect(ctx)
	})
	return err
}

// Disconnect closes the connection deliberately, suppressing automatic
// reconnection. A held edit lock is released first.
func (c *Client) Disconnect(reason string) {
	_, _ = c.dispatch.call(func() (any, error) {
		if c.locks.Editing() {
			if lock := c.locks.Lock(); lock != nil {
				if err := c.locks.ReleaseLock(lock.ResourceID); err != nil {
					logger.Debugf("release on disconnect failed: %v", err)
				}
			}
		}
		c.typing.Stop()
		c.conn.Close(reason)
		return nil, nil
	})
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() types.ConnectionState {
	return c.conn.State()
}

// SetConversation switches the active conversation and requests its newest
// history page.
func (c *Client) SetConversation(conv types.Conversation) error {
	_, err := c.dispatch.call(func() (any, error) {
		c.typing.SetConversation(conv)
		if err := c.pipeline.SetConversation(conv); err != nil {
			return nil, err
		}
		if conv.IsZero() {
			return nil, nil
		}
		return nil, c.pipeline.FetchHistory()
	})
	return err
}

// JoinChannel switches to a team channel conversation.
func (c *Client) JoinChannel(team, channel string) error {
	return c.SetConversation(types.Conversation{Team: team, Channel: channel})
}

// JoinDirect switches to a direct conversation with the given user.
func (c *Client) JoinDirect(username string) error {
	return c.SetConversation(types.Conversation{DirectUser: username})
}

// SendMessage sends a text message to the active conversation and returns
// its client message id.
func (c *Client) SendMessage(text string) (string, error) {
	return c.sendMessage(text, nil, nil)
}

// SendFileMessage sends a message carrying a file attachment.
func (c *Client) SendFileMessage(text string, attachment types.Attachment) (string, error) {
	return c.sendMessage(text, &attachment, nil)
}

// SendReply sends a text message quoting an earlier one.
func (c *Client) SendReply(text string, quoted types.QuotedMessage) (string, error) {
	return c.sendMessage(text, nil, &quoted)
}

func (c *Client) sendMessage(text string, attachment *types.Attachment, quoted *types.QuotedMessage) (string, error) {
	value, err := c.dispatch.call(func() (any, error) {
		return c.pipeline.SendMessage(text, attachment, quoted)
	})
	if err != nil {
		return "", err
	}
	id, _ := value.(string)
	return id, nil
}

// ResendMessage re-submits a failed message under a fresh client message id.
func (c *Client) ResendMessage(clientMessageID string) (string, error) {
	value, err := c.dispatch.call(func() (any, error) {
		return c.pipeline.Resend(clientMessageID)
	})
	if err != nil {
		return "", err
	}
	id, _ := value.(string)
	return id, nil
}

// FetchOlderHistory requests the next older page of the active conversation.
func (c *Client) FetchOlderHistory() error {
	_, err := c.dispatch.call(func() (any, error) {
		return nil, c.pipeline.FetchHistory()
	})
	return err
}

// Messages returns a snapshot of the active conversation's message list.
func (c *Client) Messages() []types.ChatMessage {
	return c.pipeline.Messages()
}

// HasMoreHistory reports whether older history remains beyond the loaded
// pages.
func (c *Client) HasMoreHistory() bool {
	return c.pipeline.HasMore()
}

// StartTyping signals that the local user is typing in the active
// conversation.
func (c *Client) StartTyping() {
	_ = c.dispatch.do(c.typing.Start)
}

// StopTyping signals that the local user stopped typing.
func (c *Client) StopTyping() {
	_ = c.dispatch.do(c.typing.Stop)
}

// RequestEditLock asks for the exclusive editing lock on an attachment
// message in the active conversation.
func (c *Client) RequestEditLock(messageID, fileName string) error {
	_, err := c.dispatch.call(func() (any, error) {
		return nil, c.locks.RequestLock(messageID, fileName, c.pipeline.Conversation())
	})
	return err
}

// ReleaseEditLock releases the editing lock.
func (c *Client) ReleaseEditLock(messageID string) error {
	_, err := c.dispatch.call(func() (any, error) {
		return nil, c.locks.ReleaseLock(messageID)
	})
	return err
}

// SaveFileContent sends replacement file content and releases the lock.
func (c *Client) SaveFileContent(messageID, content string) error {
	_, err := c.dispatch.call(func() (any, error) {
		return nil, c.locks.SaveContent(messageID, content)
	})
	return err
}

// FetchEditHistory requests the edit history of an attachment message.
func (c *Client) FetchEditHistory(messageID string) error {
	_, err := c.dispatch.call(func() (any, error) {
		return nil, c.locks.FetchEditHistory(messageID)
	})
	return err
}

// EditLockPhase returns the coordinator's current phase name.
func (c *Client) EditLockPhase() string {
	return c.locks.Phase().String()
}

// Close tears the engine down: lock release, component detach, connection
// close.
func (c *Client) Close() {
	_, _ = c.dispatch.call(func() (any, error) {
		c.locks.Close()
		c.typing.Close()
		c.pipeline.Close()
		c.conn.Close("client closed")
		return nil, nil
	})
}

// emit delivers a listener callback on the callback goroutine.
func (c *Client) emit(fn func(l Listener)) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l == nil {
		return
	}
	_ = c.callbacks.do(func() { fn(l) })
}
