package websocket

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(buffer int) *Client {
	return &Client{
		ID:     uuid.New(),
		UserID: uuid.New(),
		send:   make(chan []byte, buffer),
	}
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, frame)
		default:
			return out
		}
	}
}

func TestHubJoinIsExclusive(t *testing.T) {
	h := NewHub()
	c := newTestClient(4)
	require.True(t, h.Register(c))

	t1, t2 := uuid.New(), uuid.New()

	previous, changed := h.Join(c, t1)
	assert.Equal(t, uuid.Nil, previous)
	assert.True(t, changed)
	assert.Equal(t, t1, h.RoomOf(c))

	previous, changed = h.Join(c, t1)
	assert.Equal(t, uuid.Nil, previous)
	assert.False(t, changed, "re-joining the same room changes nothing")

	previous, changed = h.Join(c, t2)
	assert.Equal(t, t1, previous)
	assert.True(t, changed)
	assert.Equal(t, t2, h.RoomOf(c))
	assert.Empty(t, h.Occupants(t1))
	assert.Equal(t, []*Client{c}, h.Occupants(t2))
}

func TestHubLeaveIsIdempotent(t *testing.T) {
	h := NewHub()
	c := newTestClient(4)
	require.True(t, h.Register(c))
	t1 := uuid.New()

	assert.False(t, h.Leave(c, t1), "not in the room yet")
	h.Join(c, t1)
	assert.False(t, h.Leave(c, uuid.New()), "different room")
	assert.True(t, h.Leave(c, t1))
	assert.False(t, h.Leave(c, t1))
	assert.Equal(t, uuid.Nil, h.RoomOf(c))
}

func TestHubBroadcastOnlyReachesRoom(t *testing.T) {
	h := NewHub()
	a, b, other := newTestClient(4), newTestClient(4), newTestClient(4)
	for _, c := range []*Client{a, b, other} {
		require.True(t, h.Register(c))
	}
	t1, t2 := uuid.New(), uuid.New()
	h.Join(a, t1)
	h.Join(b, t1)
	h.Join(other, t2)

	assert.Equal(t, 2, h.Broadcast(t1, []byte("hello"), nil))
	assert.Equal(t, 1, h.Broadcast(t1, []byte("typing"), a))

	assert.Equal(t, [][]byte{[]byte("hello")}, drain(a))
	assert.Equal(t, [][]byte{[]byte("hello"), []byte("typing")}, drain(b))
	assert.Empty(t, drain(other))
}

func TestHubEvictsSlowConsumerOnly(t *testing.T) {
	h := NewHub()
	slow, fast := newTestClient(1), newTestClient(4)
	require.True(t, h.Register(slow))
	require.True(t, h.Register(fast))
	t1 := uuid.New()
	h.Join(slow, t1)
	h.Join(fast, t1)

	h.Broadcast(t1, []byte("one"), nil)
	h.Broadcast(t1, []byte("two"), nil)

	assert.True(t, slow.closed)
	assert.False(t, fast.closed)
	assert.Len(t, drain(fast), 2)

	// the evicted connection stays in its room until its reader exits
	assert.Equal(t, t1, h.Remove(slow))
	assert.Equal(t, []*Client{fast}, h.Occupants(t1))
	assert.False(t, h.Send(slow, []byte("late")))
}

func TestHubRemove(t *testing.T) {
	h := NewHub()
	c := newTestClient(4)
	require.True(t, h.Register(c))
	t1 := uuid.New()
	h.Join(c, t1)

	assert.Equal(t, 1, h.Connections())
	assert.Equal(t, t1, h.Remove(c))
	assert.Equal(t, uuid.Nil, h.Remove(c))
	assert.Equal(t, 0, h.Connections())
	assert.Empty(t, h.Occupants(t1))

	_, ok := <-c.send
	assert.False(t, ok, "queue is closed")

	previous, changed := h.Join(c, t1)
	assert.Equal(t, uuid.Nil, previous)
	assert.False(t, changed, "removed connections cannot join")
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	c := newTestClient(4)
	require.True(t, h.Register(c))
	h.Join(c, uuid.New())

	h.Close()
	h.Close()

	_, ok := <-c.send
	assert.False(t, ok)
	assert.Equal(t, 0, h.Connections())
	assert.False(t, h.Register(newTestClient(1)))
}
