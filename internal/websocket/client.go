// Package websocket implements the connection manager that owns the single
// persistent chat connection: connect/close lifecycle, automatic
// reconnection with exponential backoff, an outbound FIFO queue for frames
// produced while disconnected, an advisory heartbeat, and the subscription
// router through which every consumer receives inbound envelopes.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatwire/chatwire/internal/logger"
	"github.com/chatwire/chatwire/internal/wire"
	"github.com/chatwire/chatwire/pkg/types"
)

const (
	// DefaultHeartbeatInterval is the keep-alive ping cadence.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultBackoffBase is the first reconnect delay; it doubles per attempt.
	DefaultBackoffBase = time.Second
	// DefaultMaxReconnectAttempts caps automatic reconnection attempts.
	DefaultMaxReconnectAttempts = 5
)

// ErrReconnectExhausted is surfaced to error listeners when the automatic
// reconnection cap is reached. No further attempts happen until Connect is
// called explicitly.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// SubscriptionWildcard matches every inbound envelope type.
const SubscriptionWildcard = "*"

// Options configures a Client.
type Options struct {
	// ServerURL is the websocket endpoint.
	ServerURL string
	// Token is the opaque bearer credential, passed as a query parameter.
	Token string
	// HeartbeatInterval overrides DefaultHeartbeatInterval when positive.
	HeartbeatInterval time.Duration
	// BackoffBase overrides DefaultBackoffBase when positive.
	BackoffBase time.Duration
	// MaxReconnectAttempts overrides DefaultMaxReconnectAttempts when positive.
	MaxReconnectAttempts int
	// Dial overrides the transport constructor. Defaults to DefaultDialer.
	Dial Dialer
}

type subscription struct {
	id     string
	filter string
	fn     func(wire.Envelope)
}

type queuedFrame struct {
	data     []byte
	queuedAt time.Time
}

// Client is the single owner of the transport. All other components send
// through it and receive through its subscription router; nothing else is
// permitted to write to the connection.
//
// One Client exists per running process. It is constructed explicitly and
// injected into the message pipeline and edit-lock coordinator.
type Client struct {
	opts Options

	mu        sync.Mutex
	conn      Conn
	state     types.ConnectionState
	closing   bool
	epoch     int
	retries   int
	waiters   []chan error
	queue     []queuedFrame
	reconnect *time.Timer

	subs             []subscription
	connListeners    []func()
	disconnListeners []func(reason string)
	errListeners     []func(err error)

	// writeMu serializes frame writes; gorilla connections permit a single
	// concurrent writer.
	writeMu sync.Mutex
}

// NewClient creates a connection manager. It does not connect.
func NewClient(opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.Dial == nil {
		opts.Dial = DefaultDialer
	}
	return &Client{opts: opts, state: types.Disconnected}
}

// State returns the current connection state.
func (c *Client) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.State() == types.Connected
}

// Connect establishes the connection, embedding the credential in the
// connection request.
//
// Connect is idempotent: when already connected it returns immediately, and
// when an attempt is in flight the caller is parked until that attempt
// settles rather than starting a second one.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case types.Connected:
		c.mu.Unlock()
		return nil
	case types.Connecting:
		waiter := make(chan error, 1)
		c.waiters = append(c.waiters, waiter)
		c.mu.Unlock()
		select {
		case err := <-waiter:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.state = types.Connecting
	c.closing = false
	c.mu.Unlock()

	err := c.attempt(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = types.Disconnected
		c.settleWaiters(err)
		c.mu.Unlock()
		return err
	}
	return nil
}

// attempt dials once and, on success, installs the connection.
func (c *Client) attempt(ctx context.Context) error {
	endpoint, err := endpointWithToken(c.opts.ServerURL, c.opts.Token)
	if err != nil {
		return err
	}

	conn, err := c.opts.Dial(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("connect: client closed during attempt")
	}
	c.conn = conn
	c.state = types.Connected
	c.retries = 0
	c.epoch++
	epoch := c.epoch
	pending := c.queue
	c.queue = nil
	c.settleWaiters(nil)
	c.mu.Unlock()

	logger.Infof("connected to %s", c.opts.ServerURL)

	// Replay frames queued while disconnected, in FIFO order, before any
	// new sends observe the connection.
	for i, frame := range pending {
		logger.Debugf("flushing queued frame (queued %s ago)", time.Since(frame.queuedAt).Round(time.Millisecond))
		if err := c.writeFrame(conn, frame.data); err != nil {
			logger.Warnf("flush failed, re-queueing remaining frames: %v", err)
			c.requeueUnflushed(pending[i:])
			break
		}
	}

	go c.readLoop(conn, epoch)
	go c.heartbeatLoop(conn, epoch)

	c.notifyConnected()
	return nil
}

// requeueUnflushed puts back the frames that did not make it out, preserving
// their order ahead of anything queued since.
func (c *Client) requeueUnflushed(unflushed []queuedFrame) {
	c.mu.Lock()
	c.queue = append(append([]queuedFrame{}, unflushed...), c.queue...)
	c.mu.Unlock()
}

// settleWaiters resolves every parked Connect caller. Callers must hold mu.
func (c *Client) settleWaiters(err error) {
	for _, w := range c.waiters {
		w <- err
	}
	c.waiters = nil
}

// Send serializes the payload and transmits it when connected, or appends it
// to the outbound queue for replay on the next successful connect. It never
// blocks on the network beyond a single frame write.
func (c *Client) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbound envelope: %w", err)
	}

	c.mu.Lock()
	if c.state != types.Connected {
		c.queue = append(c.queue, queuedFrame{data: data, queuedAt: time.Now()})
		n := len(c.queue)
		c.mu.Unlock()
		logger.Debugf("not connected, queued frame (%d pending)", n)
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	if err := c.writeFrame(conn, data); err != nil {
		c.notifyError(err)
		return err
	}
	return nil
}

func (c *Client) writeFrame(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if logger.Enabled(logger.LevelTrace) {
		logger.Tracef("-> %s", data)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close transitions to Disconnected and suppresses automatic reconnection.
func (c *Client) Close(reason string) {
	c.mu.Lock()
	c.closing = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	wasConnected := c.state == types.Connected
	c.state = types.Disconnected
	c.settleWaiters(fmt.Errorf("closed: %s", reason))
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if wasConnected {
		c.notifyDisconnected(reason)
	}
}

// readLoop reads frames until the connection dies, dispatching each inbound
// envelope through the subscription router.
func (c *Client) readLoop(conn Conn, epoch int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, epoch, err)
			return
		}
		if logger.Enabled(logger.LevelTrace) {
			logger.Tracef("<- %s", data)
		}

		env, perr := wire.Parse(data)
		if perr != nil {
			// Malformed inbound data is logged and dropped; it never
			// crashes the pipeline.
			logger.Warnf("dropping malformed frame: %v", perr)
			continue
		}
		c.dispatch(env)
	}
}

// handleReadError classifies the failure and either settles into
// Disconnected (normal closure or local Close) or schedules reconnection.
func (c *Client) handleReadError(conn Conn, epoch int, err error) {
	c.mu.Lock()
	if c.epoch != epoch || c.conn != conn {
		// A newer connection took over; this loop is stale.
		c.mu.Unlock()
		return
	}
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = types.Disconnected
	c.mu.Unlock()
	_ = conn.Close()

	reason := err.Error()
	if isNormalClose(err) {
		logger.Infof("connection closed: %s", reason)
		c.notifyDisconnected(reason)
		return
	}

	logger.Warnf("connection lost: %s", reason)
	c.notifyDisconnected(reason)
	c.scheduleReconnect()
}

// scheduleReconnect arms the next backoff timer, or surfaces a terminal
// error once the attempt cap is reached.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	if c.retries >= c.opts.MaxReconnectAttempts {
		err := fmt.Errorf("%w (after %d attempts)", ErrReconnectExhausted, c.opts.MaxReconnectAttempts)
		c.settleWaiters(err)
		c.mu.Unlock()
		logger.Errorf("giving up after %d reconnect attempts", c.opts.MaxReconnectAttempts)
		c.notifyError(err)
		return
	}
	delay := c.opts.BackoffBase << c.retries
	c.retries++
	attempt := c.retries
	c.state = types.Connecting
	c.reconnect = time.AfterFunc(delay, func() { c.reconnectNow(attempt) })
	c.mu.Unlock()
	logger.Infof("reconnecting in %s (attempt %d/%d)", delay, attempt, c.opts.MaxReconnectAttempts)
}

func (c *Client) reconnectNow(attempt int) {
	c.mu.Lock()
	if c.closing || c.state != types.Connecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	err := c.attempt(context.Background())
	if err == nil {
		return
	}
	logger.Warnf("reconnect attempt %d failed: %v", attempt, err)

	c.mu.Lock()
	c.state = types.Disconnected
	c.mu.Unlock()
	c.scheduleReconnect()
}

// heartbeatLoop sends an advisory keep-alive envelope while connected. There
// is no acknowledgment contract.
func (c *Client) heartbeatLoop(conn Conn, epoch int) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		stale := c.epoch != epoch || c.conn != conn || c.state != types.Connected
		c.mu.Unlock()
		if stale {
			return
		}
		data, err := json.Marshal(wire.NewPingPayload())
		if err != nil {
			return
		}
		if err := c.writeFrame(conn, data); err != nil {
			logger.Debugf("heartbeat write failed: %v", err)
			return
		}
	}
}

// Subscribe registers a callback for inbound envelopes whose type equals
// typeFilter, or for all envelopes when typeFilter is SubscriptionWildcard.
// It returns the subscription id for Unsubscribe.
func (c *Client) Subscribe(typeFilter string, fn func(wire.Envelope)) string {
	id := uuid.NewString()
	c.mu.Lock()
	c.subs = append(c.subs, subscription{id: id, filter: typeFilter, fn: fn})
	c.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription by id.
func (c *Client) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subs {
		if sub.id == id {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// dispatch delivers an envelope to every matching subscription. Dispatch
// order across distinct callbacks is unspecified.
func (c *Client) dispatch(env wire.Envelope) {
	c.mu.Lock()
	matched := make([]func(wire.Envelope), 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.filter == SubscriptionWildcard || sub.filter == env.Type {
			matched = append(matched, sub.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range matched {
		fn(env)
	}
}

// AddConnectionListener registers a callback invoked exactly once per
// successful (re)connection.
func (c *Client) AddConnectionListener(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connListeners = append(c.connListeners, fn)
}

// AddDisconnectionListener registers a callback invoked when the connection
// transitions to Disconnected.
func (c *Client) AddDisconnectionListener(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnListeners = append(c.disconnListeners, fn)
}

// AddErrorListener registers a callback for transport errors. Errors do not
// by themselves change connection state.
func (c *Client) AddErrorListener(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errListeners = append(c.errListeners, fn)
}

func (c *Client) notifyConnected() {
	c.mu.Lock()
	listeners := append([]func(){}, c.connListeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (c *Client) notifyDisconnected(reason string) {
	c.mu.Lock()
	listeners := append([]func(reason string){}, c.disconnListeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(reason)
	}
}

func (c *Client) notifyError(err error) {
	c.mu.Lock()
	listeners := append([]func(err error){}, c.errListeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(err)
	}
}

// QueuedFrames returns the number of frames waiting for the next connect.
func (c *Client) QueuedFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
