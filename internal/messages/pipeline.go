// Package messages implements the message delivery pipeline: client-side
// message identity, send/acknowledge/retry with a bounded attempt count,
// deduplication, and chronological page merging for conversation history.
package messages

import (
	"fmt"
	"sync"
	"time"

	"github.com/chatwire/chatwire/internal/logger"
	"github.com/chatwire/chatwire/internal/wire"
	"github.com/chatwire/chatwire/pkg/types"
)

const (
	// DefaultAckTimeout is how long a send waits for acknowledgment before
	// being retried.
	DefaultAckTimeout = 3 * time.Second
	// DefaultMaxAttempts bounds total transmissions per client message id
	// (1 initial send + 2 retries).
	DefaultMaxAttempts = 3
	// DefaultHistoryLimit is the page size for history fetches.
	DefaultHistoryLimit = 50
)

// Conn is the slice of the connection manager the pipeline depends on.
type Conn interface {
	Send(payload any) error
	Subscribe(typeFilter string, fn func(wire.Envelope)) string
	Unsubscribe(id string)
	AddConnectionListener(fn func())
	IsConnected() bool
}

// Options configures a Pipeline.
type Options struct {
	// Username is the local user, stamped on optimistic entries.
	Username string
	// AckTimeout overrides DefaultAckTimeout when positive.
	AckTimeout time.Duration
	// MaxAttempts overrides DefaultMaxAttempts when positive.
	MaxAttempts int
	// HistoryLimit overrides DefaultHistoryLimit when positive.
	HistoryLimit int
}

// pendingSend is the tracking record for one unacknowledged send, keyed by
// client message id. At most one retry timer is live per id at any time.
type pendingSend struct {
	payload  wire.MessagePayload
	attempts int
	timer    *time.Timer
	convKey  string
}

// Pipeline maintains the canonical ordered message list for the active
// conversation and tracks every outgoing message until it is acknowledged or
// exhausted.
//
// Ordering: historical pages keep server-delivered order, live messages keep
// append order. Out-of-order arrival of live messages is possible and is an
// accepted limitation; entries are never re-sorted by timestamp.
type Pipeline struct {
	conn Conn
	opts Options

	mu        sync.Mutex
	conv      types.Conversation
	list      []types.ChatMessage
	processed map[string]struct{}
	pending   map[string]*pendingSend
	oldestID  string
	hasMore   bool
	subIDs    []string
	closed    bool

	onChange func()
	onResult func(clientMessageID string, status types.MessageStatus)
}

// NewPipeline creates a pipeline wired to the given connection.
func NewPipeline(conn Conn, opts Options) *Pipeline {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	p := &Pipeline{
		conn:      conn,
		opts:      opts,
		processed: make(map[string]struct{}),
		pending:   make(map[string]*pendingSend),
	}
	p.subIDs = []string{
		conn.Subscribe(wire.TypeMessage, p.handleMessage),
		conn.Subscribe(wire.TypeDirectMessage, p.handleMessage),
		conn.Subscribe(wire.TypeMessageAck, p.handleAck),
		conn.Subscribe(wire.TypeHistoryResponse, p.handleHistory),
		conn.Subscribe(wire.TypeFileUploadComplete, p.handleFileUploadComplete),
		conn.Subscribe(wire.TypeFileUpdated, p.handleFileUpdated),
	}
	conn.AddConnectionListener(p.armDeferredTimers)
	return p
}

// SetChangeListener registers the callback invoked after every mutation of
// the local message list.
func (p *Pipeline) SetChangeListener(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// SetResultListener registers the callback invoked when one of this client's
// sends changes delivery status.
func (p *Pipeline) SetResultListener(fn func(clientMessageID string, status types.MessageStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResult = fn
}

// SetConversation switches the active conversation: it clears the local
// list, the processed-id set, and the pagination cursor, cancels retry
// timers tied to the previous conversation's sends, and emits the matching
// join envelope. Their tracking records remain so a late acknowledgment can
// still settle them.
func (p *Pipeline) SetConversation(conv types.Conversation) error {
	p.mu.Lock()
	if p.conv.Key() == conv.Key() && !conv.IsZero() {
		p.mu.Unlock()
		return nil
	}
	p.conv = conv
	p.list = nil
	p.processed = make(map[string]struct{})
	p.oldestID = ""
	p.hasMore = false
	for _, rec := range p.pending {
		if rec.convKey != conv.Key() && rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
	}
	p.mu.Unlock()
	p.notifyChange()

	if conv.IsZero() {
		return nil
	}
	if conv.IsDirect() {
		return p.conn.Send(wire.NewJoinDirectPayload(conv.DirectUser))
	}
	return p.conn.Send(wire.NewJoinPayload(conv.Team, conv.Channel))
}

// Conversation returns the active conversation.
func (p *Pipeline) Conversation() types.Conversation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conv
}

// Messages returns a snapshot of the local ordered message list.
func (p *Pipeline) Messages() []types.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ChatMessage, len(p.list))
	copy(out, p.list)
	return out
}

// HasMore reports whether older history remains beyond the loaded pages.
func (p *Pipeline) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// SendMessage builds the outbound envelope, appends an optimistic pending
// entry so the UI reflects the send before any round-trip, transmits it, and
// registers the retry tracking record. It returns the client message id.
func (p *Pipeline) SendMessage(text string, attachment *types.Attachment, quoted *types.QuotedMessage) (string, error) {
	p.mu.Lock()
	conv := p.conv
	if conv.IsZero() {
		p.mu.Unlock()
		return "", fmt.Errorf("no active conversation")
	}

	id := types.NewClientMessageID()
	payload := wire.MessagePayload{
		Type:            wire.TypeMessage,
		ClientMessageID: id,
		Text:            text,
		Sender:          p.opts.Username,
		CreatedAt:       wire.Now(),
		Quoted:          quoted,
	}
	if conv.IsDirect() {
		payload.Type = wire.TypeDirectMessage
		payload.Receiver = conv.DirectUser
	} else {
		payload.TeamName = conv.Team
		payload.Channel = conv.Channel
	}
	if attachment != nil {
		payload.FileName = attachment.FileName
		payload.FileType = attachment.FileType
		payload.FileURL = attachment.FileURL
		payload.FileSize = attachment.FileSize
	}

	p.list = append(p.list, payload.ChatMessage(types.StatusPending))
	if attachment != nil {
		entry := &p.list[len(p.list)-1]
		entry.Attachment.UploadStatus = attachment.UploadStatus
	}

	rec := &pendingSend{payload: payload, attempts: 1, convKey: conv.Key()}
	p.pending[id] = rec
	// The retry clock only runs while a transmission is actually possible;
	// a queued frame is replayed by the connection manager on reconnect and
	// must not be duplicated by a timer-driven resend.
	if p.conn.IsConnected() {
		rec.timer = p.armTimerLocked(id)
	}
	p.mu.Unlock()

	p.notifyChange()
	if err := p.conn.Send(payload); err != nil {
		logger.Warnf("send %s failed, awaiting retry: %v", id, err)
	}
	return id, nil
}

// Resend re-submits a failed message: the old entry is removed and a fresh
// send is performed with a new client message id and a fresh attempt
// counter.
func (p *Pipeline) Resend(clientMessageID string) (string, error) {
	p.mu.Lock()
	var failed *types.ChatMessage
	for i := range p.list {
		if p.list[i].ClientMessageID == clientMessageID {
			failed = &p.list[i]
			break
		}
	}
	if failed == nil || failed.Status != types.StatusFailed {
		p.mu.Unlock()
		return "", fmt.Errorf("no failed message with id %s", clientMessageID)
	}
	text := failed.Text
	attachment := failed.Attachment
	quoted := failed.Quoted
	p.removeLocked(clientMessageID)
	p.mu.Unlock()

	p.notifyChange()
	return p.SendMessage(text, attachment, quoted)
}

// FetchHistory requests one page of conversation history. The first call
// after a conversation switch loads the newest page; subsequent calls page
// backwards using the oldest-id cursor.
func (p *Pipeline) FetchHistory() error {
	p.mu.Lock()
	conv := p.conv
	before := p.oldestID
	p.mu.Unlock()
	if conv.IsZero() {
		return fmt.Errorf("no active conversation")
	}

	payload := wire.FetchHistoryPayload{
		Type:   wire.TypeFetchHistory,
		Before: before,
		Limit:  p.opts.HistoryLimit,
	}
	if conv.IsDirect() {
		payload.Receiver = conv.DirectUser
	} else {
		payload.TeamName = conv.Team
		payload.Channel = conv.Channel
	}
	return p.conn.Send(payload)
}

// armTimerLocked starts the ack timer for the given id. Callers must hold mu.
func (p *Pipeline) armTimerLocked(id string) *time.Timer {
	return time.AfterFunc(p.opts.AckTimeout, func() { p.onAckTimeout(id) })
}

// armDeferredTimers starts retry timers for sends that were queued while
// disconnected, now that they have been flushed.
func (p *Pipeline) armDeferredTimers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for id, rec := range p.pending {
		if rec.timer == nil && rec.convKey == p.conv.Key() {
			rec.timer = p.armTimerLocked(id)
		}
	}
}

// onAckTimeout re-transmits an unacknowledged send or, once the attempt
// budget is exhausted, marks it failed (terminal) and stops tracking it.
func (p *Pipeline) onAckTimeout(id string) {
	p.mu.Lock()
	rec, ok := p.pending[id]
	if !ok || p.closed {
		p.mu.Unlock()
		return
	}
	if rec.attempts >= p.opts.MaxAttempts {
		delete(p.pending, id)
		p.setStatusLocked(id, "", types.StatusFailed)
		p.mu.Unlock()
		logger.Warnf("message %s failed after %d attempts", id, rec.attempts)
		p.notifyChange()
		p.notifyResult(id, types.StatusFailed)
		return
	}
	rec.attempts++
	attempt := rec.attempts
	rec.timer = p.armTimerLocked(id)
	payload := rec.payload
	p.mu.Unlock()

	logger.Debugf("retrying message %s (attempt %d/%d)", id, attempt, p.opts.MaxAttempts)
	if err := p.conn.Send(payload); err != nil {
		logger.Warnf("retry of %s failed: %v", id, err)
	}
}

// handleMessage processes an inbound chat/file message envelope. An echo
// carrying one of our client message ids doubles as the positive
// acknowledgment; everything else is deduplicated and appended.
func (p *Pipeline) handleMessage(env wire.Envelope) {
	var msg wire.MessagePayload
	if err := env.Decode(&msg); err != nil {
		logger.Warnf("%v", err)
		return
	}

	p.mu.Lock()
	if rec, ok := p.pending[msg.ClientMessageID]; ok && msg.ClientMessageID != "" {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		delete(p.pending, msg.ClientMessageID)
		if msg.ID != "" {
			p.processed[msg.ID] = struct{}{}
		}
		for i := range p.list {
			if p.list[i].ClientMessageID == msg.ClientMessageID {
				p.list[i].ServerID = msg.ID
				if p.list[i].Status.Before(types.StatusSent) {
					p.list[i].Status = types.StatusSent
				}
				if msg.CreatedAt != 0 {
					p.list[i].CreatedAt = int64(msg.CreatedAt)
				}
				break
			}
		}
		p.mu.Unlock()
		p.notifyChange()
		p.notifyResult(msg.ClientMessageID, types.StatusSent)
		return
	}

	if p.isDuplicateLocked(msg) {
		p.mu.Unlock()
		logger.Debugf("dropping duplicate message id=%s clientId=%s", msg.ID, msg.ClientMessageID)
		return
	}
	if msg.ID != "" {
		p.processed[msg.ID] = struct{}{}
	}
	p.list = append(p.list, msg.ChatMessage(types.StatusDelivered))
	p.mu.Unlock()
	p.notifyChange()
}

// isDuplicateLocked applies the two-level dedup check: the processed server
// id set and a scan for an existing entry with the same client message id.
func (p *Pipeline) isDuplicateLocked(msg wire.MessagePayload) bool {
	if msg.ID != "" {
		if _, seen := p.processed[msg.ID]; seen {
			return true
		}
	}
	if msg.ClientMessageID != "" {
		for i := range p.list {
			if p.list[i].ClientMessageID == msg.ClientMessageID {
				return true
			}
		}
	}
	return false
}

// handleAck advances a message's status from an explicit acknowledgment
// envelope, keying off the client message id when present and falling back
// to the server id.
func (p *Pipeline) handleAck(env wire.Envelope) {
	var ack wire.MessageAckPayload
	if err := env.Decode(&ack); err != nil {
		logger.Warnf("%v", err)
		return
	}

	var status types.MessageStatus
	switch ack.Status {
	case "delivered":
		status = types.StatusDelivered
	case "read":
		status = types.StatusRead
	case "sent":
		status = types.StatusSent
	default:
		logger.Warnf("ignoring messageAck with unknown status %q", ack.Status)
		return
	}

	p.mu.Lock()
	if rec, ok := p.pending[ack.ClientMessageID]; ok && ack.ClientMessageID != "" {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		delete(p.pending, ack.ClientMessageID)
	}
	changed := p.setStatusLocked(ack.ClientMessageID, ack.MessageID, status)
	p.mu.Unlock()

	if changed {
		p.notifyChange()
		if ack.ClientMessageID != "" {
			p.notifyResult(ack.ClientMessageID, status)
		}
	}
}

// setStatusLocked advances the status of the entry matching the client id
// (preferred) or server id, respecting monotonicity. Callers must hold mu.
func (p *Pipeline) setStatusLocked(clientMessageID, serverID string, status types.MessageStatus) bool {
	for i := range p.list {
		match := (clientMessageID != "" && p.list[i].ClientMessageID == clientMessageID) ||
			(clientMessageID == "" && serverID != "" && p.list[i].ServerID == serverID)
		if !match {
			continue
		}
		if status == types.StatusFailed {
			if p.list[i].Status == types.StatusPending {
				p.list[i].Status = types.StatusFailed
				return true
			}
			return false
		}
		if p.list[i].Status.Before(status) {
			p.list[i].Status = status
			return true
		}
		return false
	}
	return false
}

// handleHistory merges a history page: an initial response (no cursor)
// replaces the list, a paginated response (cursor echoed) prepends older
// entries. hasMore is taken verbatim from the response.
func (p *Pipeline) handleHistory(env wire.Envelope) {
	var resp wire.HistoryResponsePayload
	if err := env.Decode(&resp); err != nil {
		logger.Warnf("%v", err)
		return
	}

	p.mu.Lock()
	if resp.Before == "" {
		// Initial load: the page is the new canonical list.
		p.processed = make(map[string]struct{})
		p.list = nil
	}

	page := make([]types.ChatMessage, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if p.isDuplicateLocked(msg) {
			continue
		}
		if msg.ID != "" {
			p.processed[msg.ID] = struct{}{}
		}
		status := types.StatusDelivered
		if msg.Sender == p.opts.Username {
			status = types.StatusSent
		}
		page = append(page, msg.ChatMessage(status))
	}

	if resp.Before == "" {
		p.list = page
		if len(page) > 0 {
			p.oldestID = page[0].ServerID
		}
	} else {
		p.list = append(page, p.list...)
		if oldest := oldestByCreatedAt(page); oldest != "" {
			p.oldestID = oldest
		}
	}
	p.hasMore = resp.HasMore
	p.mu.Unlock()
	p.notifyChange()
}

// oldestByCreatedAt returns the server id of the minimum-timestamp entry.
func oldestByCreatedAt(page []types.ChatMessage) string {
	id := ""
	var min int64
	for _, msg := range page {
		if id == "" || msg.CreatedAt < min {
			id = msg.ServerID
			min = msg.CreatedAt
		}
	}
	return id
}

// handleFileUploadComplete records the final download URL on the matching
// attachment message.
func (p *Pipeline) handleFileUploadComplete(env wire.Envelope) {
	var done wire.FileUploadCompletePayload
	if err := env.Decode(&done); err != nil {
		logger.Warnf("%v", err)
		return
	}

	p.mu.Lock()
	changed := false
	for i := range p.list {
		entry := &p.list[i]
		if entry.Attachment == nil {
			continue
		}
		if (done.ClientMessageID != "" && entry.ClientMessageID == done.ClientMessageID) ||
			(done.MessageID != "" && entry.ServerID == done.MessageID) {
			entry.Attachment.FileURL = done.FileURL
			entry.Attachment.UploadStatus = done.Status
			changed = true
			break
		}
	}
	p.mu.Unlock()
	if changed {
		p.notifyChange()
	}
}

// handleFileUpdated marks the matching attachment as edited.
func (p *Pipeline) handleFileUpdated(env wire.Envelope) {
	var upd wire.FileUpdatedPayload
	if err := env.Decode(&upd); err != nil {
		logger.Warnf("%v", err)
		return
	}

	p.mu.Lock()
	changed := false
	for i := range p.list {
		entry := &p.list[i]
		if entry.ServerID == upd.MessageID && entry.Attachment != nil {
			entry.Attachment.EditedBy = upd.EditedBy
			entry.Attachment.EditedAt = int64(upd.EditedAt)
			changed = true
			break
		}
	}
	p.mu.Unlock()
	if changed {
		p.notifyChange()
	}
}

// removeLocked drops the entry with the given client id. Callers must hold mu.
func (p *Pipeline) removeLocked(clientMessageID string) {
	for i := range p.list {
		if p.list[i].ClientMessageID == clientMessageID {
			p.list = append(p.list[:i], p.list[i+1:]...)
			return
		}
	}
}

// Close cancels all retry timers and detaches from the connection.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	for _, rec := range p.pending {
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
	p.pending = make(map[string]*pendingSend)
	subIDs := p.subIDs
	p.subIDs = nil
	p.mu.Unlock()

	for _, id := range subIDs {
		p.conn.Unsubscribe(id)
	}
}

func (p *Pipeline) notifyChange() {
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *Pipeline) notifyResult(id string, status types.MessageStatus) {
	p.mu.Lock()
	fn := p.onResult
	p.mu.Unlock()
	if fn != nil {
		fn(id, status)
	}
}
