package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/matrix-sync-core/pkg/hsapi"
	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
)

type recordingUI struct {
	messages []timelineCall
}

type timelineCall struct {
	roomID, sender, body string
	tsSeconds             int64
}

func (u *recordingUI) RoomCreated(roomID string) {}
func (u *recordingUI) RoomStateUpdated(roomID string, diff matrixclient.MemberDiff) {}
func (u *recordingUI) TimelineMessage(roomID, senderDisplay, body string, tsSeconds int64, flags matrixclient.TimelineFlags) {
	u.messages = append(u.messages, timelineCall{roomID, senderDisplay, body, tsSeconds})
}
func (u *recordingUI) InviteReceived(invite matrixclient.Invite) {}
func (u *recordingUI) Progress(p matrixclient.Progress)          {}
func (u *recordingUI) Error(kind matrixclient.ErrorKind, message string) {}

func noopSend(ctx context.Context, roomID string, ev PendingEvent, onSuccess func(hsapi.SendResult), onTransportErr func(*hsapi.TransportError), onBadResponse func(*hsapi.BadResponseError, []byte)) {
	onSuccess(hsapi.SendResult{EventID: "$generated"})
}

// Scenario 1 from spec.md §8: initial sync of a single joined room.
func TestInitialSyncSingleRoom(t *testing.T) {
	ui := &recordingUI{}
	r := New("!r:h", "@me:h", ui, noopSend, nil)

	diff := r.ApplyStateBatch([]StateEvent{
		{Type: "m.room.name", StateKey: "", Content: map[string]interface{}{"name": "General"}, Sender: "@a:h"},
		{Type: "m.room.member", StateKey: "@a:h", Content: map[string]interface{}{"membership": "join", "displayname": "Alice"}, Sender: "@a:h"},
	})
	assert.Len(t, diff.New, 1)
	assert.Equal(t, "Alice", diff.New[0].DisplayName)
	assert.Equal(t, "General", r.Name())

	r.Dispatch(TimelineEvent{
		Type:             "m.room.message",
		Content:          map[string]interface{}{"body": "hi"},
		Sender:           "@a:h",
		OriginServerTSMs: 1700000000000,
	}, map[string]bool{})

	require.Len(t, ui.messages, 1)
	assert.Equal(t, "Alice", ui.messages[0].sender)
	assert.Equal(t, "hi", ui.messages[0].body)
	assert.Equal(t, int64(1700000000), ui.messages[0].tsSeconds)
}

// Scenario 2 from spec.md §8: remote echo suppression.
func TestRemoteEchoSuppressed(t *testing.T) {
	ui := &recordingUI{}
	r := New("!r:h", "@me:h", ui, noopSend, nil)

	outstanding := map[string]bool{"m123.abc": true}
	r.Dispatch(TimelineEvent{
		Type:          "m.room.message",
		Content:       map[string]interface{}{"body": "hello"},
		Sender:        "@me:h",
		UnsignedTxnID: "m123.abc",
	}, outstanding)

	assert.Empty(t, ui.messages)
}

// Scenario 3 from spec.md §8: membership diff and room-name fallback.
func TestMembershipDiffAndRoomNameFallback(t *testing.T) {
	r := New("!r:h", "@me:h", &recordingUI{}, noopSend, nil)

	r.ApplyStateBatch([]StateEvent{
		{Type: "m.room.member", StateKey: "@me:h", Content: map[string]interface{}{"membership": "join", "displayname": "Me"}, Sender: "@me:h"},
		{Type: "m.room.member", StateKey: "@a:h", Content: map[string]interface{}{"membership": "join", "displayname": "Alice"}, Sender: "@a:h"},
		{Type: "m.room.member", StateKey: "@b:h", Content: map[string]interface{}{"membership": "join", "displayname": "Bob"}, Sender: "@b:h"},
	})
	assert.Equal(t, "Alice and Bob", r.Name())

	diff := r.ApplyStateBatch([]StateEvent{
		{Type: "m.room.member", StateKey: "@b:h", Content: map[string]interface{}{"membership": "leave"}, Sender: "@b:h"},
	})
	require.Len(t, diff.Left, 1)
	assert.Equal(t, "Bob", diff.Left[0].DisplayName)
	assert.Equal(t, "Alice", r.Name())
}

func TestStateTableRejectsIncompleteEvents(t *testing.T) {
	st := NewStateTable(nil)
	assert.False(t, st.Apply(StateEvent{Type: "", StateKey: "x", Content: map[string]interface{}{}}))
	assert.False(t, st.Apply(StateEvent{Type: "m.room.name", StateKey: "x", Content: nil}))
	assert.Nil(t, st.Get("m.room.name", "x"))
}

func TestQueuePreservesHeadOnFailure(t *testing.T) {
	var attempts int
	failingSend := func(ctx context.Context, roomID string, ev PendingEvent, onSuccess func(hsapi.SendResult), onTransportErr func(*hsapi.TransportError), onBadResponse func(*hsapi.BadResponseError, []byte)) {
		attempts++
		onTransportErr(&hsapi.TransportError{Reason: "boom"})
	}
	var failed error
	q := NewQueue("!r:h", failingSend, func(err error) { failed = err })

	q.Enqueue(context.Background(), "m1", "m.room.message", map[string]string{"body": "a"})
	require.Equal(t, 1, attempts)
	require.Error(t, failed)
	peek, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "m1", peek.TxnID)
	assert.Equal(t, 1, q.Len())
}

func TestQueueDrainsInOrderOnSuccess(t *testing.T) {
	var sent []string
	okSend := func(ctx context.Context, roomID string, ev PendingEvent, onSuccess func(hsapi.SendResult), onTransportErr func(*hsapi.TransportError), onBadResponse func(*hsapi.BadResponseError, []byte)) {
		sent = append(sent, ev.TxnID)
		onSuccess(hsapi.SendResult{EventID: "$" + ev.TxnID})
	}
	q := NewQueue("!r:h", okSend, nil)
	q.Enqueue(context.Background(), "m1", "m.room.message", nil)
	q.Enqueue(context.Background(), "m2", "m.room.message", nil)

	assert.Equal(t, []string{"m1", "m2"}, sent)
	assert.Equal(t, 0, q.Len())
}
