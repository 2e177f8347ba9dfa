// Package editlock implements the client side of distributed mutual
// exclusion over one editable attachment. The server is the arbiter; this
// coordinator tracks the authoritative lock state, requests and releases
// the lock, and guarantees release on completion, cancellation, or
// disconnect.
package editlock

import (
	"fmt"
	"sync"

	"github.com/chatwire/chatwire/internal/logger"
	"github.com/chatwire/chatwire/internal/wire"
	"github.com/chatwire/chatwire/pkg/types"
)

// Conn is the slice of the connection manager the coordinator depends on.
type Conn interface {
	Send(payload any) error
	Subscribe(typeFilter string, fn func(wire.Envelope)) string
	Unsubscribe(id string)
	AddDisconnectionListener(fn func(reason string))
}

// Coordinator arbitrates exclusive editing of one resource at a time. All
// transitions run through the step function in fsm.go so that "the last
// authoritative broadcast wins" is enforced structurally rather than by
// update ordering.
type Coordinator struct {
	conn     Conn
	username string

	mu         sync.Mutex
	resourceID string
	fileName   string
	conv       types.Conversation
	state      lockState
	releasing  bool
	subIDs     []string

	onState   func(phase Phase, lock *types.EditLock)
	onHistory func(resourceID string, history []wire.FileEditRecord)
}

// NewCoordinator creates a coordinator wired to the given connection. A
// disconnect clears any held lock locally; the server reclaims the lock on
// its own timeout, and the next broadcast re-synchronizes the view.
func NewCoordinator(conn Conn, username string) *Coordinator {
	c := &Coordinator{conn: conn, username: username}
	c.subIDs = []string{
		conn.Subscribe(wire.TypeEditLockResponse, c.handleResponse),
		conn.Subscribe(wire.TypeEditLockUpdate, c.handleUpdate),
		conn.Subscribe(wire.TypeFileEditHistory, c.handleHistory),
	}
	conn.AddDisconnectionListener(c.handleDisconnect)
	return c
}

// SetStateListener registers the callback invoked after every phase or lock
// view change.
func (c *Coordinator) SetStateListener(fn func(phase Phase, lock *types.EditLock)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// SetHistoryListener registers the callback for fileEditHistory responses.
func (c *Coordinator) SetHistoryListener(fn func(resourceID string, history []wire.FileEditRecord)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHistory = fn
}

// Phase returns the current participation phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.phase
}

// Loading reports whether a lock request is awaiting its response.
func (c *Coordinator) Loading() bool { return c.Phase() == Requesting }

// Editing reports whether the local editing surface may be open.
func (c *Coordinator) Editing() bool { return c.Phase() == Held }

// Lock returns the authoritative lock view, or nil when unlocked.
func (c *Coordinator) Lock() *types.EditLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.view == nil {
		return nil
	}
	view := *c.state.view
	return &view
}

// RequestLock asks the server for the exclusive editing lock on the given
// attachment message. Local lock state is not mutated until the response
// arrives; correctness matters more than latency hiding here.
func (c *Coordinator) RequestLock(resourceID, fileName string, conv types.Conversation) error {
	c.mu.Lock()
	if c.state.phase == Requesting {
		c.mu.Unlock()
		return fmt.Errorf("lock request already in flight for %s", c.resourceID)
	}
	if c.state.phase == Held {
		c.mu.Unlock()
		return fmt.Errorf("already holding lock for %s", c.resourceID)
	}
	c.resourceID = resourceID
	c.fileName = fileName
	c.conv = conv
	c.releasing = false
	notify := c.applyLocked(lockEvent{kind: evRequest, resourceID: resourceID})
	c.mu.Unlock()
	if notify != nil {
		notify()
	}

	payload := wire.RequestEditLockPayload{
		Type:      wire.TypeRequestEditLock,
		MessageID: resourceID,
		FileName:  fileName,
	}
	c.fillConversation(&payload.Channel, &payload.TeamName, &payload.Receiver, conv)
	return c.conn.Send(payload)
}

// ReleaseLock releases the lock and clears local state immediately rather
// than waiting for the broadcast; the broadcast, when it arrives, confirms
// what is already true locally. Safe to call twice.
func (c *Coordinator) ReleaseLock(resourceID string) error {
	c.mu.Lock()
	if c.releasing || (c.state.phase == Idle && c.state.view == nil) {
		c.mu.Unlock()
		return nil
	}
	if resourceID != c.resourceID {
		c.mu.Unlock()
		return fmt.Errorf("no lock state for resource %s", resourceID)
	}
	c.releasing = true
	fileName := c.fileName
	conv := c.conv
	notify := c.applyLocked(lockEvent{kind: evRelease, resourceID: resourceID})
	c.mu.Unlock()
	if notify != nil {
		notify()
	}

	payload := wire.ReleaseEditLockPayload{
		Type:      wire.TypeReleaseEditLock,
		MessageID: resourceID,
		FileName:  fileName,
	}
	c.fillConversation(&payload.Channel, &payload.TeamName, &payload.Receiver, conv)
	return c.conn.Send(payload)
}

// SaveContent sends the replacement file content and then unconditionally
// releases the lock. A failed send does not roll back the optimistic
// release; the server's own timeout is the backstop.
func (c *Coordinator) SaveContent(resourceID, content string) error {
	c.mu.Lock()
	fileName := c.fileName
	c.mu.Unlock()

	sendErr := c.conn.Send(wire.UpdateFileContentPayload{
		Type:      wire.TypeUpdateFileContent,
		MessageID: resourceID,
		FileName:  fileName,
		Content:   content,
	})
	if err := c.ReleaseLock(resourceID); err != nil {
		return err
	}
	return sendErr
}

// FetchEditHistory requests the attachment's edit history; the response is
// delivered through the history listener.
func (c *Coordinator) FetchEditHistory(resourceID string) error {
	return c.conn.Send(wire.GetFileEditHistoryPayload{
		Type:      wire.TypeGetFileEditHistory,
		MessageID: resourceID,
	})
}

// Close makes a best-effort release of a held lock and detaches from the
// connection.
func (c *Coordinator) Close() {
	c.mu.Lock()
	held := c.state.phase == Held
	resourceID := c.resourceID
	subIDs := c.subIDs
	c.subIDs = nil
	c.mu.Unlock()

	if held {
		if err := c.ReleaseLock(resourceID); err != nil {
			logger.Debugf("release on close failed: %v", err)
		}
	}
	for _, id := range subIDs {
		c.conn.Unsubscribe(id)
	}
}

// handleResponse processes the direct response to our own lock request.
func (c *Coordinator) handleResponse(env wire.Envelope) {
	var resp wire.EditLockResponsePayload
	if err := env.Decode(&resp); err != nil {
		logger.Warnf("%v", err)
		return
	}

	c.mu.Lock()
	if resp.MessageID != c.resourceID {
		c.mu.Unlock()
		logger.Debugf("ignoring editLockResponse for inactive resource %s", resp.MessageID)
		return
	}
	if !resp.Granted {
		logger.Infof("edit lock for %s denied, held by %s", resp.MessageID, resp.LockedBy)
	}
	notify := c.applyLocked(lockEvent{
		kind:       evResponse,
		resourceID: resp.MessageID,
		granted:    resp.Granted,
		holder:     resp.LockedBy,
		acquiredAt: int64(resp.LockedAt),
	})
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// handleUpdate processes the authoritative lock broadcast. A holder change
// while we hold the lock closes the local editing surface.
func (c *Coordinator) handleUpdate(env wire.Envelope) {
	var upd wire.EditLockUpdatePayload
	if err := env.Decode(&upd); err != nil {
		logger.Warnf("%v", err)
		return
	}

	c.mu.Lock()
	if upd.MessageID != c.resourceID {
		c.mu.Unlock()
		return
	}
	wasHeld := c.state.phase == Held
	notify := c.applyLocked(lockEvent{
		kind:       evUpdate,
		resourceID: upd.MessageID,
		locked:     upd.Locked,
		holder:     upd.Username,
		acquiredAt: int64(upd.AcquiredAt),
	})
	yielded := wasHeld && c.state.phase != Held
	if !upd.Locked {
		c.releasing = false
	}
	c.mu.Unlock()
	if notify != nil {
		notify()
	}

	if yielded {
		logger.Warnf("yielding edit lock for %s to %s", upd.MessageID, upd.Username)
	}
}

// handleHistory delivers a fileEditHistory response.
func (c *Coordinator) handleHistory(env wire.Envelope) {
	var hist wire.FileEditHistoryPayload
	if err := env.Decode(&hist); err != nil {
		logger.Warnf("%v", err)
		return
	}

	c.mu.Lock()
	fn := c.onHistory
	c.mu.Unlock()
	if fn != nil {
		fn(hist.MessageID, hist.History)
	}
}

// handleDisconnect clears a held lock locally. The server enforces
// timeout-based reclamation; the next broadcast re-synchronizes the view.
func (c *Coordinator) handleDisconnect(reason string) {
	c.mu.Lock()
	if c.state.phase != Held {
		c.mu.Unlock()
		return
	}
	resourceID := c.resourceID
	fileName := c.fileName
	conv := c.conv
	notify := c.applyLocked(lockEvent{kind: evDisconnect})
	c.releasing = false
	c.mu.Unlock()
	if notify != nil {
		notify()
	}

	// Best effort: the release envelope is queued for replay on reconnect.
	payload := wire.ReleaseEditLockPayload{
		Type:      wire.TypeReleaseEditLock,
		MessageID: resourceID,
		FileName:  fileName,
	}
	c.fillConversation(&payload.Channel, &payload.TeamName, &payload.Receiver, conv)
	if err := c.conn.Send(payload); err != nil {
		logger.Debugf("release on disconnect failed: %v", err)
	}
}

// applyLocked runs one event through the transition function. Callers must
// hold mu and invoke the returned notifier, if any, after releasing it.
func (c *Coordinator) applyLocked(ev lockEvent) (notify func()) {
	prev := c.state
	c.state = step(c.state, ev, c.username)
	if prev == c.state || c.onState == nil {
		return nil
	}
	fn := c.onState
	phase := c.state.phase
	var view *types.EditLock
	if c.state.view != nil {
		copied := *c.state.view
		view = &copied
	}
	return func() { fn(phase, view) }
}

func (c *Coordinator) fillConversation(channel, team, receiver *string, conv types.Conversation) {
	if conv.IsDirect() {
		*receiver = conv.DirectUser
		return
	}
	*channel = conv.Channel
	*team = conv.Team
}
