package broadcaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func drain(connection *Connection) []Event {
	var events []Event

	for {
		select {
		case event, ok := <-connection.Outbound():
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

func setupRoom(t *testing.T, queueSize int, roomId string, connectionIds ...string) (*RoomBroadcaster, *InMemoryRegistry, map[string]*Connection) {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	registry := NewInMemoryRegistry(logger, queueSize)
	broadcaster := NewRoomBroadcaster(logger, registry)

	connections := make(map[string]*Connection)
	for _, connectionId := range connectionIds {
		connection, err := registry.Register(connectionId, "user-"+connectionId)
		require.NoError(t, err)

		_, err = registry.Join(connectionId, roomId)
		require.NoError(t, err)

		connections[connectionId] = connection
	}

	return broadcaster, registry, connections
}

func TestRoomBroadcaster_Broadcast(t *testing.T) {
	event := MessageEvent{Message: Message{Id: "m1", RoomId: "room1", Content: "hi"}}

	t.Run("excludes sender", func(t *testing.T) {
		broadcaster, _, connections := setupRoom(t, 16, "room1", "a", "b", "c")

		report := broadcaster.Broadcast("room1", event, "a")

		assert.Equal(t, DeliveryReport{Attempted: 2, Delivered: 2}, report)
		assert.Empty(t, drain(connections["a"]))
		assert.Equal(t, []Event{event}, drain(connections["b"]))
		assert.Equal(t, []Event{event}, drain(connections["c"]))
	})

	t.Run("excluded connection is the only member", func(t *testing.T) {
		broadcaster, _, connections := setupRoom(t, 16, "room1", "a")

		report := broadcaster.Broadcast("room1", event, "a")

		assert.Equal(t, DeliveryReport{}, report)
		assert.Empty(t, drain(connections["a"]))
	})

	t.Run("empty room", func(t *testing.T) {
		broadcaster, _, _ := setupRoom(t, 16, "room1")

		report := broadcaster.Broadcast("nobody-here", event, "")

		assert.Equal(t, DeliveryReport{}, report)
	})

	t.Run("no exclusion", func(t *testing.T) {
		broadcaster, _, connections := setupRoom(t, 16, "room1", "a", "b")

		report := broadcaster.Broadcast("room1", event, "")

		assert.Equal(t, 2, report.Delivered)
		assert.Len(t, drain(connections["a"]), 1)
		assert.Len(t, drain(connections["b"]), 1)
	})

	t.Run("preserves order per producer", func(t *testing.T) {
		broadcaster, _, connections := setupRoom(t, 16, "room1", "a", "b")

		var sent []Event
		for _, id := range []string{"e1", "e2", "e3"} {
			e := MessageEvent{Message: Message{Id: id, RoomId: "room1"}}
			broadcaster.Broadcast("room1", e, "")
			sent = append(sent, e)
		}

		assert.Equal(t, sent, drain(connections["a"]))
		assert.Equal(t, sent, drain(connections["b"]))
	})

	t.Run("unregistered member is not targeted", func(t *testing.T) {
		broadcaster, registry, connections := setupRoom(t, 16, "room1", "a", "b")
		registry.Unregister("b")

		report := broadcaster.Broadcast("room1", event, "a")

		assert.Equal(t, DeliveryReport{}, report)
		assert.Empty(t, drain(connections["b"]))
	})

	t.Run("counts concurrently disconnected connection as dropped", func(t *testing.T) {
		broadcaster, registry, _ := setupRoom(t, 16, "room1", "a", "b")
		snapshot := registry.ConnectionsIn("room1")
		registry.Unregister("b")

		report := broadcaster.deliver(snapshot, event, "")

		assert.Equal(t, DeliveryReport{Attempted: 2, Delivered: 1, Dropped: 1}, report)
	})

	t.Run("full queue evicts connection", func(t *testing.T) {
		broadcaster, _, connections := setupRoom(t, 1, "room1", "a", "b")

		first := broadcaster.Broadcast("room1", event, "a")
		second := broadcaster.Broadcast("room1", event, "a")
		third := broadcaster.Broadcast("room1", event, "a")

		assert.Equal(t, DeliveryReport{Attempted: 1, Delivered: 1}, first)
		assert.Equal(t, DeliveryReport{Attempted: 1, Overflowed: 1}, second)
		assert.Equal(t, DeliveryReport{Attempted: 1, Dropped: 1}, third)
		assert.Equal(t, []Event{event}, drain(connections["b"]))

		select {
		case <-connections["b"].Evicted():
		default:
			t.Fatal("connection should be evicted")
		}
	})
}

func TestRoomBroadcaster_BroadcastToIdentity(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	registry := NewInMemoryRegistry(logger, 16)
	broadcaster := NewRoomBroadcaster(logger, registry)

	phone, err := registry.Register("phone", "u1")
	require.NoError(t, err)
	laptop, err := registry.Register("laptop", "u1")
	require.NoError(t, err)
	other, err := registry.Register("other", "u2")
	require.NoError(t, err)

	event := MemberJoinedEvent{RoomId: "group", IdentityId: "u1"}
	report := broadcaster.BroadcastToIdentity("u1", event)

	assert.Equal(t, DeliveryReport{Attempted: 2, Delivered: 2}, report)
	assert.Equal(t, []Event{event}, drain(phone))
	assert.Equal(t, []Event{event}, drain(laptop))
	assert.Empty(t, drain(other))
}

func TestRoomBroadcaster_JoinLeaveRoom(t *testing.T) {
	broadcaster, registry, connections := setupRoom(t, 16, "room1", "a")
	b, err := registry.Register("b", "user-b")
	require.NoError(t, err)

	t.Run("join announces to the whole room", func(t *testing.T) {
		err := broadcaster.JoinRoom("b", "room1")
		require.NoError(t, err)

		joined := MemberJoinedEvent{RoomId: "room1", IdentityId: "user-b"}
		assert.Equal(t, []Event{joined}, drain(connections["a"]))
		assert.Equal(t, []Event{joined}, drain(b))
	})

	t.Run("second join is silent", func(t *testing.T) {
		err := broadcaster.JoinRoom("b", "room1")
		require.NoError(t, err)

		assert.Empty(t, drain(connections["a"]))
		assert.Empty(t, drain(b))
	})

	t.Run("join unknown connection", func(t *testing.T) {
		err := broadcaster.JoinRoom("missing", "room1")

		assert.ErrorIs(t, err, ErrUnknownConnection)
	})

	t.Run("leave announces to remaining members", func(t *testing.T) {
		broadcaster.LeaveRoom("b", "room1")

		left := MemberLeftEvent{RoomId: "room1", IdentityId: "user-b"}
		assert.Equal(t, []Event{left}, drain(connections["a"]))
		assert.Empty(t, drain(b))
		assert.Equal(t, []string{"a"}, registry.MembersOf("room1"))
	})

	t.Run("leave when absent is silent", func(t *testing.T) {
		broadcaster.LeaveRoom("b", "room1")

		assert.Empty(t, drain(connections["a"]))
	})
}
