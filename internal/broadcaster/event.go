package broadcaster

type EventType string

const (
	EventTypeMessage      EventType = "message"
	EventTypeMemberJoined EventType = "member-joined"
	EventTypeMemberLeft   EventType = "member-left"
)

// Event is the closed set of events delivered to a connection's outbound
// queue: MessageEvent, MemberJoinedEvent and MemberLeftEvent.
type Event interface {
	Type() EventType

	sealed()
}

type MessageEvent struct {
	Message Message
}

func (MessageEvent) Type() EventType { return EventTypeMessage }

func (MessageEvent) sealed() {}

type MemberJoinedEvent struct {
	RoomId     string
	IdentityId string
}

func (MemberJoinedEvent) Type() EventType { return EventTypeMemberJoined }

func (MemberJoinedEvent) sealed() {}

type MemberLeftEvent struct {
	RoomId     string
	IdentityId string
}

func (MemberLeftEvent) Type() EventType { return EventTypeMemberLeft }

func (MemberLeftEvent) sealed() {}

// EventEnvelope is the flat representation of an Event handed to transports
// for serialization.
type EventEnvelope struct {
	Type       EventType `json:"type"`
	Message    *Message  `json:"message,omitempty"`
	RoomId     string    `json:"roomId,omitempty"`
	IdentityId string    `json:"identityId,omitempty"`
}

func Envelope(event Event) EventEnvelope {
	switch e := event.(type) {
	case MessageEvent:
		message := e.Message

		return EventEnvelope{
			Type:    EventTypeMessage,
			Message: &message,
			RoomId:  message.RoomId,
		}
	case MemberJoinedEvent:
		return EventEnvelope{
			Type:       EventTypeMemberJoined,
			RoomId:     e.RoomId,
			IdentityId: e.IdentityId,
		}
	case MemberLeftEvent:
		return EventEnvelope{
			Type:       EventTypeMemberLeft,
			RoomId:     e.RoomId,
			IdentityId: e.IdentityId,
		}
	default:
		panic("unknown event type")
	}
}
