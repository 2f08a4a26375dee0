package broadcaster

import (
	"go.uber.org/zap"
)

// DeliveryReport counts the outcome of a single fan-out. Attempted equals
// Delivered + Dropped + Overflowed.
type DeliveryReport struct {
	Attempted  int `json:"attempted"`
	Delivered  int `json:"delivered"`
	Dropped    int `json:"dropped"`
	Overflowed int `json:"overflowed"`
}

// RoomBroadcaster delivers events to room members. Delivery is best effort and
// at most once: events for connections that went away are counted and dropped.
type RoomBroadcaster struct {
	logger   *zap.Logger
	registry Registry
}

func NewRoomBroadcaster(logger *zap.Logger, registry Registry) *RoomBroadcaster {
	return &RoomBroadcaster{
		logger,
		registry,
	}
}

// Broadcast pushes event onto the outbound queue of every member of roomId
// except excludeConnectionId. An empty excludeConnectionId excludes nobody.
func (b *RoomBroadcaster) Broadcast(roomId string, event Event, excludeConnectionId string) DeliveryReport {
	return b.deliver(b.registry.ConnectionsIn(roomId), event, excludeConnectionId)
}

// BroadcastToIdentity delivers event to every live connection of identityId.
func (b *RoomBroadcaster) BroadcastToIdentity(identityId string, event Event) DeliveryReport {
	return b.deliver(b.registry.ConnectionsFor(identityId), event, "")
}

func (b *RoomBroadcaster) deliver(connections []*Connection, event Event, excludeConnectionId string) DeliveryReport {
	report := DeliveryReport{}

	for _, connection := range connections {
		if connection.Id == excludeConnectionId {
			continue
		}

		report.Attempted++

		switch connection.enqueue(event) {
		case enqueued:
			report.Delivered++
		case enqueueDisconnected:
			report.Dropped++
		case enqueueOverflow:
			report.Overflowed++

			b.logger.Warn("connection outbound queue is full, evicting connection",
				zap.String("connectionId", connection.Id),
				zap.String("eventType", string(event.Type())))
		}
	}

	return report
}

// JoinRoom adds the connection to roomId and announces the new member to the
// whole room, the joining connection included.
func (b *RoomBroadcaster) JoinRoom(connectionId string, roomId string) error {
	joined, err := b.registry.Join(connectionId, roomId)
	if err != nil {
		return err
	}

	if !joined {
		return nil
	}

	identityId := ""
	if connection, ok := b.registry.Lookup(connectionId); ok {
		identityId = connection.IdentityId()
	}

	b.Broadcast(roomId, MemberJoinedEvent{RoomId: roomId, IdentityId: identityId}, "")

	return nil
}

// LeaveRoom removes the connection from roomId and announces it to the
// remaining members. Leaving a room the connection is not in is a no-op.
func (b *RoomBroadcaster) LeaveRoom(connectionId string, roomId string) {
	identityId := ""
	if connection, ok := b.registry.Lookup(connectionId); ok {
		identityId = connection.IdentityId()
	}

	if !b.registry.Leave(connectionId, roomId) {
		return
	}

	b.Broadcast(roomId, MemberLeftEvent{RoomId: roomId, IdentityId: identityId}, "")
}
