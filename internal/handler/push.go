package handler

import (
	"context"
	"errors"

	"github.com/goevery/chatrelay/internal/auth"
	"github.com/goevery/chatrelay/internal/gateway"
	"github.com/goevery/chatrelay/internal/ierr"
	"github.com/goevery/chatrelay/internal/persistence"
)

type PushRequest struct {
	RoomId              string `json:"-"`
	SenderIdentityId    string `json:"senderIdentityId" validate:"required"`
	Content             string `json:"content" validate:"content"`
	ExcludeConnectionId string `json:"excludeConnectionId,omitempty"`
}

type PushHandlerInterface interface {
	Handle(ctx context.Context, req PushRequest) (MessageResponse, error)
}

// PushHandler serves backend producers: it stores a message on behalf of
// SenderIdentityId and fans it out to the room.
type PushHandler struct {
	roomIdValidator   *RoomIdValidator
	persistenceEngine persistence.Engine
	chatGateway       *gateway.ChatGateway
}

func NewPushHandler(
	roomIdValidator *RoomIdValidator,
	persistenceEngine persistence.Engine,
	chatGateway *gateway.ChatGateway,
) *PushHandler {
	return &PushHandler{
		roomIdValidator,
		persistenceEngine,
		chatGateway,
	}
}

func (h *PushHandler) Handle(ctx context.Context, req PushRequest) (MessageResponse, error) {
	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return MessageResponse{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
	}

	if !authentication.IsProducer {
		return MessageResponse{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("producer credentials required to push messages"))
	}

	err := h.roomIdValidator.Validate(req.RoomId)
	if err != nil {
		return MessageResponse{}, err
	}

	err = validateRequest(req)
	if err != nil {
		return MessageResponse{}, err
	}

	message, err := h.persistenceEngine.Save(ctx, persistence.SaveRequest{
		RoomId:           req.RoomId,
		SenderIdentityId: req.SenderIdentityId,
		Content:          req.Content,
	})
	if err != nil {
		return MessageResponse{}, err
	}

	report := h.chatGateway.Broadcast(req.RoomId, message, req.ExcludeConnectionId)

	return MessageResponse{
		Message:  message,
		Delivery: report,
	}, nil
}
