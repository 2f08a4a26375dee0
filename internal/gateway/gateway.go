package gateway

import (
	"errors"

	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/ierr"
	"github.com/goevery/chatrelay/internal/presence"
	"go.uber.org/zap"
)

var (
	ErrNotMember      = errors.New("connection has not joined the room")
	ErrSenderMismatch = errors.New("message sender does not match the connection identity")
	ErrRoomMismatch   = errors.New("message room does not match the target room")
)

// ChatGateway is the entry point transports and producers use to drive the
// connection registry and room fan-out.
type ChatGateway struct {
	logger      *zap.Logger
	registry    broadcaster.Registry
	broadcaster *broadcaster.RoomBroadcaster
	session     *presence.Session
}

func NewChatGateway(
	logger *zap.Logger,
	registry broadcaster.Registry,
	roomBroadcaster *broadcaster.RoomBroadcaster,
	session *presence.Session,
) *ChatGateway {
	return &ChatGateway{
		logger,
		registry,
		roomBroadcaster,
		session,
	}
}

// OnConnect registers a connection that has not authenticated yet. The
// returned connection's outbound queue must be drained by the transport.
func (g *ChatGateway) OnConnect(connectionId string) (*broadcaster.Connection, error) {
	connection, err := g.registry.Register(connectionId, "")
	if err != nil {
		return nil, err
	}

	g.logger.Debug("connection registered", zap.String("connectionId", connectionId))

	return connection, nil
}

func (g *ChatGateway) OnAuthenticate(connectionId string, identityId string) error {
	err := g.session.Bind(connectionId, identityId)
	if err != nil {
		return err
	}

	g.logger.Debug("connection authenticated",
		zap.String("connectionId", connectionId),
		zap.String("identityId", identityId))

	return nil
}

func (g *ChatGateway) JoinChat(connectionId string, roomId string) error {
	_, err := g.session.RequireAuthenticated(connectionId)
	if err != nil {
		return err
	}

	return g.broadcaster.JoinRoom(connectionId, roomId)
}

func (g *ChatGateway) LeaveChat(connectionId string, roomId string) error {
	_, err := g.session.RequireAuthenticated(connectionId)
	if err != nil {
		return err
	}

	g.broadcaster.LeaveRoom(connectionId, roomId)

	return nil
}

// AuthorizeSend checks that connectionId may post to roomId and returns its
// identity. Callers use it to reject a message before storing it.
func (g *ChatGateway) AuthorizeSend(connectionId string, roomId string) (string, error) {
	identityId, err := g.session.RequireAuthenticated(connectionId)
	if err != nil {
		return "", err
	}

	if !g.registry.IsMember(connectionId, roomId) {
		return "", ierr.New(ierr.ErrorCodePermissionDenied, ErrNotMember)
	}

	return identityId, nil
}

// SendMessage fans an already persisted message out to the room, excluding
// the sending connection. Missing room and sender fields are filled from the
// call.
func (g *ChatGateway) SendMessage(connectionId string, roomId string, message broadcaster.Message) (broadcaster.DeliveryReport, error) {
	identityId, err := g.AuthorizeSend(connectionId, roomId)
	if err != nil {
		return broadcaster.DeliveryReport{}, err
	}

	if message.RoomId == "" {
		message.RoomId = roomId
	} else if message.RoomId != roomId {
		return broadcaster.DeliveryReport{}, ierr.New(ierr.ErrorCodeInvalidArgument, ErrRoomMismatch)
	}

	if message.SenderIdentityId == "" {
		message.SenderIdentityId = identityId
	} else if message.SenderIdentityId != identityId {
		return broadcaster.DeliveryReport{}, ierr.New(ierr.ErrorCodePermissionDenied, ErrSenderMismatch)
	}

	return g.broadcaster.Broadcast(roomId, broadcaster.MessageEvent{Message: message}, connectionId), nil
}

// Broadcast is used by producers outside any connection, such as the REST
// create message endpoint, once the message is stored.
func (g *ChatGateway) Broadcast(roomId string, message broadcaster.Message, excludeConnectionId string) broadcaster.DeliveryReport {
	return g.broadcaster.Broadcast(roomId, broadcaster.MessageEvent{Message: message}, excludeConnectionId)
}

// NotifyIdentity delivers event on the personal channel of identityId, that is
// to every device the identity is connected from.
func (g *ChatGateway) NotifyIdentity(identityId string, event broadcaster.Event) broadcaster.DeliveryReport {
	return g.broadcaster.BroadcastToIdentity(identityId, event)
}

// OnDisconnect removes the connection before returning, so no later broadcast
// can target it, then tells the rooms it was in.
func (g *ChatGateway) OnDisconnect(connectionId string) {
	departure, ok := g.registry.Unregister(connectionId)
	if !ok {
		return
	}

	for _, roomId := range departure.Rooms {
		g.broadcaster.Broadcast(roomId, broadcaster.MemberLeftEvent{
			RoomId:     roomId,
			IdentityId: departure.IdentityId,
		}, "")
	}

	g.logger.Debug("connection disconnected",
		zap.String("connectionId", connectionId),
		zap.Strings("rooms", departure.Rooms))
}

func (g *ChatGateway) Stats() broadcaster.Stats {
	return g.registry.Stats()
}
