package ws

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket feeds ReadJSON from a channel and records writes.
type fakeSocket struct {
	mu      sync.Mutex
	inbox   chan Message
	written []Message
	closed  bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbox: make(chan Message, 8)}
}

func (f *fakeSocket) ReadJSON(v interface{}) error {
	msg, ok := <-f.inbox
	if !ok {
		return io.EOF
	}
	*(v.(*Message)) = msg
	return nil
}

func (f *fakeSocket) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, v.(Message))
	return nil
}

func (f *fakeSocket) WriteMessage(int, []byte) error    { return nil }
func (f *fakeSocket) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeSocket) SetPongHandler(func(string) error) {}
func (f *fakeSocket) SetReadLimit(int64)                {}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.written...)
}

func TestHub_BroadcastAll(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a, b := newFakeSocket(), newFakeSocket()
	ca, cb := NewConnection(a, zerolog.Nop()), NewConnection(b, zerolog.Nop())
	hub.Register(ca)
	hub.Register(cb)
	go ca.WritePump()
	go cb.WritePump()

	msg, err := NewMessage(TypeLeaderboardUpdate, LeaderboardUpdatePayload{CategoryID: 1, DifficultyID: 2})
	require.NoError(t, err)
	require.NoError(t, hub.BroadcastAll(msg))

	assert.Eventually(t, func() bool { return len(a.messages()) == 1 && len(b.messages()) == 1 }, time.Second, 5*time.Millisecond)

	var payload LeaderboardUpdatePayload
	require.NoError(t, json.Unmarshal(a.messages()[0].Payload, &payload))
	assert.Equal(t, int64(2), payload.DifficultyID)

	hub.Unregister(ca)
	assert.Equal(t, 1, hub.Len())
	assert.True(t, errors.Is(hub.Send(ca.ID, msg), ErrConnectionNotFound))
	hub.Unregister(cb)
}

func TestConnection_SendAfterClose(t *testing.T) {
	c := NewConnection(newFakeSocket(), zerolog.Nop())
	c.Close()
	c.Close()
	assert.Equal(t, ErrConnectionClosed, c.Send(Message{Type: TypePong}))
}

func TestConnection_SendQueueFull(t *testing.T) {
	c := NewConnection(newFakeSocket(), zerolog.Nop())
	for range sendQueueSize {
		require.NoError(t, c.Send(Message{Type: TypeTick}))
	}
	assert.Equal(t, ErrSendQueueFull, c.Send(Message{Type: TypeTick}))
}

func TestConnection_ReadPumpDispatches(t *testing.T) {
	sock := newFakeSocket()
	c := NewConnection(sock, zerolog.Nop())

	sock.inbox <- Message{Type: TypeStartRound}
	sock.inbox <- Message{Type: TypeLeaveRound}
	close(sock.inbox)

	var seen []string
	c.ReadPump(func(m Message) error {
		seen = append(seen, m.Type)
		return nil
	})
	assert.Equal(t, []string{TypeStartRound, TypeLeaveRound}, seen)
}
