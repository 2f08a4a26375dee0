package handler

import (
	"context"
	"errors"

	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/gateway"
	"github.com/goevery/chatrelay/internal/persistence"
)

type MessageRequest struct {
	RoomId  string `json:"roomId"`
	Content string `json:"content" validate:"content"`
}

type MessageResponse struct {
	Message  broadcaster.Message        `json:"message"`
	Delivery broadcaster.DeliveryReport `json:"delivery"`
}

type MessageHandlerInterface interface {
	Handle(ctx context.Context, req MessageRequest) (MessageResponse, error)
}

// MessageHandler stores a message sent by a connection and fans it out to the
// other members of the room.
type MessageHandler struct {
	roomIdValidator   *RoomIdValidator
	persistenceEngine persistence.Engine
	chatGateway       *gateway.ChatGateway
}

func NewMessageHandler(
	roomIdValidator *RoomIdValidator,
	persistenceEngine persistence.Engine,
	chatGateway *gateway.ChatGateway,
) *MessageHandler {
	return &MessageHandler{
		roomIdValidator,
		persistenceEngine,
		chatGateway,
	}
}

func (h *MessageHandler) Handle(ctx context.Context, req MessageRequest) (MessageResponse, error) {
	err := h.roomIdValidator.Validate(req.RoomId)
	if err != nil {
		return MessageResponse{}, err
	}

	err = validateRequest(req)
	if err != nil {
		return MessageResponse{}, err
	}

	connection, ok := broadcaster.ConnectionFromContext(ctx)
	if !ok {
		return MessageResponse{}, errors.New("connection not found in context")
	}

	identityId, err := h.chatGateway.AuthorizeSend(connection.Id, req.RoomId)
	if err != nil {
		return MessageResponse{}, err
	}

	message, err := h.persistenceEngine.Save(ctx, persistence.SaveRequest{
		RoomId:           req.RoomId,
		SenderIdentityId: identityId,
		Content:          req.Content,
	})
	if err != nil {
		return MessageResponse{}, err
	}

	report, err := h.chatGateway.SendMessage(connection.Id, req.RoomId, message)
	if err != nil {
		return MessageResponse{}, err
	}

	return MessageResponse{
		Message:  message,
		Delivery: report,
	}, nil
}
