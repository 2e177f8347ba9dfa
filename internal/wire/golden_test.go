package wire

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGolden_MessageEcho(t *testing.T) {
	t.Parallel()

	env := parseTestdata(t, "message_echo.json")
	require.Equal(t, TypeMessage, env.Type)

	var msg MessagePayload
	require.NoError(t, env.Decode(&msg))
	require.Equal(t, "srv-100", msg.ID)
	require.Equal(t, "client_1717000000000_ab12cd34ef56", msg.ClientMessageID)
	require.Equal(t, "ship it", msg.Text)
	require.Equal(t, "alice", msg.Sender)
	require.Equal(t, Millis(1717000000123), msg.CreatedAt)
	require.Equal(t, "general", msg.Channel)
	require.Equal(t, "platform", msg.TeamName)
}

func TestGolden_MessageLegacyFields(t *testing.T) {
	t.Parallel()

	env := parseTestdata(t, "message_legacy.json")

	var msg MessagePayload
	require.NoError(t, env.Decode(&msg))
	require.Equal(t, "665f1c2e9b1e8a0012a4d7c3", msg.ID)
	require.Equal(t, "hello from the old client", msg.Text)
	require.Equal(t, "bob", msg.Sender)

	want := time.Date(2024, 6, 4, 12, 30, 45, 0, time.UTC).UnixMilli()
	require.Equal(t, Millis(want), msg.CreatedAt)
}

func TestGolden_DirectMessageWithFile(t *testing.T) {
	t.Parallel()

	env := parseTestdata(t, "direct_message_file.json")
	require.Equal(t, TypeDirectMessage, env.Type)

	var msg MessagePayload
	require.NoError(t, env.Decode(&msg))
	require.Equal(t, "carol", msg.Sender)
	require.Equal(t, "alice", msg.Receiver)
	require.Equal(t, "notes.md", msg.FileName)
	require.Equal(t, int64(2048), msg.FileSize)
	require.NotNil(t, msg.Quoted)
	require.Equal(t, "srv-100", msg.Quoted.ID)

	converted := msg.ChatMessage("delivered")
	require.NotNil(t, converted.Attachment)
	require.Equal(t, "https://files.chatwire.dev/srv-201/notes.md", converted.Attachment.FileURL)
	require.Equal(t, msg.Quoted, converted.Quoted)
}

func TestGolden_HistoryResponse(t *testing.T) {
	t.Parallel()

	env := parseTestdata(t, "history_response.json")
	require.Equal(t, TypeHistoryResponse, env.Type)

	var resp HistoryResponsePayload
	require.NoError(t, env.Decode(&resp))
	require.True(t, resp.HasMore)
	require.Equal(t, "srv-003", resp.Before)
	require.Len(t, resp.Messages, 2)

	require.Equal(t, "srv-001", resp.Messages[0].ID)
	require.Equal(t, "oldest", resp.Messages[0].Text)
	require.Equal(t, "srv-002", resp.Messages[1].ID)

	want := time.Date(2024, 5, 29, 14, 25, 0, 0, time.UTC).UnixMilli()
	require.Equal(t, Millis(want), resp.Messages[1].CreatedAt)
}

func TestGolden_EditLockResponseDenied(t *testing.T) {
	t.Parallel()

	env := parseTestdata(t, "edit_lock_response_denied.json")

	var resp EditLockResponsePayload
	require.NoError(t, env.Decode(&resp))
	require.False(t, resp.Granted)
	require.Equal(t, "dave", resp.LockedBy)
	require.Equal(t, Millis(1717000400000), resp.LockedAt)
}

func TestGolden_EditLockUpdate(t *testing.T) {
	t.Parallel()

	env := parseTestdata(t, "edit_lock_update.json")

	var upd EditLockUpdatePayload
	require.NoError(t, env.Decode(&upd))
	require.True(t, upd.Locked)
	require.Equal(t, "dave", upd.Username)

	want := time.Date(2024, 6, 4, 12, 33, 20, 0, time.UTC).UnixMilli()
	require.Equal(t, Millis(want), upd.AcquiredAt)
}

func parseTestdata(t *testing.T, name string) Envelope {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	env, err := Parse(raw)
	require.NoError(t, err)
	return env
}
