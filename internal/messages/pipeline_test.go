package messages

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatwire/chatwire/internal/wire"
	"github.com/chatwire/chatwire/pkg/types"
)

// fakeConn records outbound payloads and lets tests inject inbound envelopes
// through the registered subscriptions.
type fakeConn struct {
	mu            sync.Mutex
	sent          []any
	subs          map[string][]func(wire.Envelope)
	connected     bool
	connListeners []func()
	nextSubID     int
}

func newFakeConn(connected bool) *fakeConn {
	return &fakeConn{subs: make(map[string][]func(wire.Envelope)), connected: connected}
}

func (f *fakeConn) Send(payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeConn) Subscribe(typeFilter string, fn func(wire.Envelope)) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSubID++
	f.subs[typeFilter] = append(f.subs[typeFilter], fn)
	return string(rune('a' + f.nextSubID))
}

func (f *fakeConn) Unsubscribe(id string) {}

func (f *fakeConn) AddConnectionListener(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connListeners = append(f.connListeners, fn)
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	listeners := append([]func(){}, f.connListeners...)
	f.mu.Unlock()
	if connected {
		for _, fn := range listeners {
			fn()
		}
	}
}

// deliver injects an inbound envelope as if it arrived on the wire.
func (f *fakeConn) deliver(t *testing.T, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	env, err := wire.Parse(data)
	require.NoError(t, err)

	f.mu.Lock()
	handlers := append([]func(wire.Envelope){}, f.subs[env.Type]...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(env)
	}
}

// sentMessages returns the outbound chat message payloads, in order.
func (f *fakeConn) sentMessages() []wire.MessagePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.MessagePayload
	for _, payload := range f.sent {
		if msg, ok := payload.(wire.MessagePayload); ok {
			out = append(out, msg)
		}
	}
	return out
}

var testChannel = types.Conversation{Team: "platform", Channel: "general"}

func newTestPipeline(t *testing.T, conn *fakeConn, mutate ...func(*Options)) *Pipeline {
	t.Helper()
	opts := Options{Username: "alice"}
	for _, fn := range mutate {
		fn(&opts)
	}
	p := NewPipeline(conn, opts)
	t.Cleanup(p.Close)
	require.NoError(t, p.SetConversation(testChannel))
	return p
}

func TestSendMessageAppendsOptimisticPending(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	id, err := p.SendMessage("hello", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, types.StatusPending, msgs[0].Status)
	require.Equal(t, id, msgs[0].ClientMessageID)
	require.Equal(t, "alice", msgs[0].Sender)
	require.Empty(t, msgs[0].ServerID)

	sent := conn.sentMessages()
	require.Len(t, sent, 1)
	require.Equal(t, wire.TypeMessage, sent[0].Type)
	require.Equal(t, "general", sent[0].Channel)
}

func TestEchoActsAsAcknowledgment(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	results := make(chan types.MessageStatus, 4)
	p.SetResultListener(func(id string, status types.MessageStatus) { results <- status })

	id, err := p.SendMessage("hello", nil, nil)
	require.NoError(t, err)

	conn.deliver(t, wire.MessagePayload{
		Type:            wire.TypeMessage,
		ID:              "srv-1",
		ClientMessageID: id,
		Text:            "hello",
		Sender:          "alice",
		CreatedAt:       wire.Now(),
	})

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, types.StatusSent, msgs[0].Status)
	require.Equal(t, "srv-1", msgs[0].ServerID)
	require.Equal(t, types.StatusSent, <-results)

	// The echo settled the send; no retry fires afterwards.
	time.Sleep(20 * time.Millisecond)
	require.Len(t, conn.sentMessages(), 1)
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn, func(o *Options) {
		o.AckTimeout = 10 * time.Millisecond
		o.MaxAttempts = 3
	})

	results := make(chan types.MessageStatus, 4)
	p.SetResultListener(func(id string, status types.MessageStatus) { results <- status })

	id, err := p.SendMessage("doomed", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := p.Messages()
		return len(msgs) == 1 && msgs[0].Status == types.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	// Exactly MaxAttempts transmissions of the same client id, then failure.
	sent := conn.sentMessages()
	require.Len(t, sent, 3)
	for _, msg := range sent {
		require.Equal(t, id, msg.ClientMessageID)
	}
	require.Equal(t, types.StatusFailed, <-results)
}

func TestLateAckAfterFailureIsIgnored(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn, func(o *Options) {
		o.AckTimeout = 5 * time.Millisecond
		o.MaxAttempts = 1
	})

	id, err := p.SendMessage("late", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.Messages()[0].Status == types.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	conn.deliver(t, wire.MessageAckPayload{
		Type:            wire.TypeMessageAck,
		ClientMessageID: id,
		Status:          "delivered",
	})
	require.Equal(t, types.StatusFailed, p.Messages()[0].Status)
}

func TestDuplicateServerIDDropped(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	inbound := wire.MessagePayload{
		Type:      wire.TypeMessage,
		ID:        "srv-7",
		Text:      "once",
		Sender:    "bob",
		CreatedAt: wire.Now(),
	}
	conn.deliver(t, inbound)
	conn.deliver(t, inbound)

	require.Len(t, p.Messages(), 1)
}

func TestDuplicateClientMessageIDDropped(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	// Two deliveries of the same logical message under different server ids,
	// correlated only by the sender's client message id.
	conn.deliver(t, wire.MessagePayload{
		Type:            wire.TypeMessage,
		ID:              "srv-8",
		ClientMessageID: "client_1_bob",
		Text:            "once",
		Sender:          "bob",
	})
	conn.deliver(t, wire.MessagePayload{
		Type:            wire.TypeMessage,
		ID:              "srv-9",
		ClientMessageID: "client_1_bob",
		Text:            "once",
		Sender:          "bob",
	})

	require.Len(t, p.Messages(), 1)
}

func TestAckAdvancesStatusMonotonically(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	id, err := p.SendMessage("hello", nil, nil)
	require.NoError(t, err)

	conn.deliver(t, wire.MessageAckPayload{Type: wire.TypeMessageAck, ClientMessageID: id, MessageID: "srv-1", Status: "read"})
	require.Equal(t, types.StatusRead, p.Messages()[0].Status)

	// A regressive ack must not move the status backwards.
	conn.deliver(t, wire.MessageAckPayload{Type: wire.TypeMessageAck, ClientMessageID: id, MessageID: "srv-1", Status: "delivered"})
	require.Equal(t, types.StatusRead, p.Messages()[0].Status)
}

func TestAckFallsBackToServerID(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	conn.deliver(t, wire.MessagePayload{Type: wire.TypeMessage, ID: "srv-5", Text: "hi", Sender: "bob"})
	conn.deliver(t, wire.MessageAckPayload{Type: wire.TypeMessageAck, MessageID: "srv-5", Status: "read"})

	require.Equal(t, types.StatusRead, p.Messages()[0].Status)
}

func TestResendUsesFreshClientMessageID(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn, func(o *Options) {
		o.AckTimeout = 5 * time.Millisecond
		o.MaxAttempts = 1
	})

	id, err := p.SendMessage("retry me", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.Messages()[0].Status == types.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	newID, err := p.Resend(id)
	require.NoError(t, err)
	require.NotEqual(t, id, newID)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, newID, msgs[0].ClientMessageID)
	require.Equal(t, "retry me", msgs[0].Text)
}

func TestResendRejectsNonFailedMessages(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	id, err := p.SendMessage("in flight", nil, nil)
	require.NoError(t, err)

	_, err = p.Resend(id)
	require.Error(t, err)
}

func TestHistoryInitialLoadReplacesList(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	conn.deliver(t, wire.MessagePayload{Type: wire.TypeMessage, ID: "live-1", Text: "live", Sender: "bob"})
	require.Len(t, p.Messages(), 1)

	conn.deliver(t, wire.HistoryResponsePayload{
		Type: wire.TypeHistoryResponse,
		Messages: []wire.MessagePayload{
			{Type: wire.TypeMessage, ID: "srv-1", Text: "old", Sender: "bob", CreatedAt: 1000},
			{Type: wire.TypeMessage, ID: "srv-2", Text: "mine", Sender: "alice", CreatedAt: 2000},
		},
		HasMore: true,
	})

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "srv-1", msgs[0].ServerID)
	require.Equal(t, "srv-2", msgs[1].ServerID)
	// Own messages from history count as sent, others as delivered.
	require.Equal(t, types.StatusDelivered, msgs[0].Status)
	require.Equal(t, types.StatusSent, msgs[1].Status)
	require.True(t, p.HasMore())

	// The next page request carries the oldest loaded id as cursor.
	require.NoError(t, p.FetchHistory())
	conn.mu.Lock()
	last := conn.sent[len(conn.sent)-1]
	conn.mu.Unlock()
	fetch, ok := last.(wire.FetchHistoryPayload)
	require.True(t, ok)
	require.Equal(t, "srv-1", fetch.Before)
}

func TestHistoryPaginationPrependsOlderPage(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	conn.deliver(t, wire.HistoryResponsePayload{
		Type: wire.TypeHistoryResponse,
		Messages: []wire.MessagePayload{
			{Type: wire.TypeMessage, ID: "srv-10", Text: "newer", Sender: "bob", CreatedAt: 5000},
		},
		HasMore: true,
	})
	conn.deliver(t, wire.HistoryResponsePayload{
		Type: wire.TypeHistoryResponse,
		Messages: []wire.MessagePayload{
			{Type: wire.TypeMessage, ID: "srv-8", Text: "oldest", Sender: "bob", CreatedAt: 3000},
			{Type: wire.TypeMessage, ID: "srv-9", Text: "older", Sender: "bob", CreatedAt: 4000},
		},
		HasMore: false,
		Before:  "srv-10",
	})

	msgs := p.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "srv-8", msgs[0].ServerID)
	require.Equal(t, "srv-9", msgs[1].ServerID)
	require.Equal(t, "srv-10", msgs[2].ServerID)
	require.False(t, p.HasMore())

	require.NoError(t, p.FetchHistory())
	conn.mu.Lock()
	last := conn.sent[len(conn.sent)-1]
	conn.mu.Unlock()
	fetch := last.(wire.FetchHistoryPayload)
	require.Equal(t, "srv-8", fetch.Before)
}

func TestConversationSwitchClearsLocalState(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	conn.deliver(t, wire.MessagePayload{Type: wire.TypeMessage, ID: "srv-1", Text: "hi", Sender: "bob"})
	require.Len(t, p.Messages(), 1)

	require.NoError(t, p.SetConversation(types.Conversation{DirectUser: "carol"}))
	require.Empty(t, p.Messages())
	require.False(t, p.HasMore())

	conn.mu.Lock()
	last := conn.sent[len(conn.sent)-1]
	conn.mu.Unlock()
	join, ok := last.(wire.JoinDirectPayload)
	require.True(t, ok)
	require.Equal(t, "carol", join.Username)
}

func TestQueuedSendStartsRetryClockOnConnect(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(false)
	p := newTestPipeline(t, conn, func(o *Options) {
		o.AckTimeout = 10 * time.Millisecond
		o.MaxAttempts = 2
	})

	id, err := p.SendMessage("offline", nil, nil)
	require.NoError(t, err)

	// While disconnected no retry clock runs; the connection manager already
	// holds the frame for replay.
	time.Sleep(30 * time.Millisecond)
	require.Len(t, conn.sentMessages(), 1)
	require.Equal(t, types.StatusPending, p.Messages()[0].Status)

	conn.setConnected(true)

	// Now the ack timeout applies and the bounded retry kicks in.
	require.Eventually(t, func() bool {
		return len(conn.sentMessages()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	sent := conn.sentMessages()
	require.Equal(t, id, sent[1].ClientMessageID)
}

func TestFileUploadCompleteUpdatesAttachment(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	id, err := p.SendMessage("file", &types.Attachment{FileName: "a.txt", UploadStatus: "pending"}, nil)
	require.NoError(t, err)

	conn.deliver(t, wire.FileUploadCompletePayload{
		Type:            wire.TypeFileUploadComplete,
		ClientMessageID: id,
		FileURL:         "https://files.chatwire.dev/a.txt",
		Status:          "complete",
	})

	msgs := p.Messages()
	require.NotNil(t, msgs[0].Attachment)
	require.Equal(t, "https://files.chatwire.dev/a.txt", msgs[0].Attachment.FileURL)
	require.Equal(t, "complete", msgs[0].Attachment.UploadStatus)
}

func TestFileUpdatedMarksAttachmentEdited(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(true)
	p := newTestPipeline(t, conn)

	conn.deliver(t, wire.MessagePayload{
		Type: wire.TypeMessage, ID: "srv-20", Text: "doc", Sender: "bob",
		FileName: "doc.md",
	})
	conn.deliver(t, wire.FileUpdatedPayload{
		Type:      wire.TypeFileUpdated,
		MessageID: "srv-20",
		EditedBy:  "carol",
		EditedAt:  1717000500000,
	})

	msgs := p.Messages()
	require.NotNil(t, msgs[0].Attachment)
	require.Equal(t, "carol", msgs[0].Attachment.EditedBy)
	require.Equal(t, int64(1717000500000), msgs[0].Attachment.EditedAt)
}
