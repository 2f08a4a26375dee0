package handler

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/gateway"
)

type JoinRequest struct {
	RoomId string `json:"roomId"`
}

type JoinResponse struct {
	RoomId    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

type JoinHandlerInterface interface {
	Handle(ctx context.Context, req JoinRequest) (JoinResponse, error)
}

type JoinHandler struct {
	roomIdValidator *RoomIdValidator
	chatGateway     *gateway.ChatGateway
}

func NewJoinHandler(
	roomIdValidator *RoomIdValidator,
	chatGateway *gateway.ChatGateway,
) *JoinHandler {
	return &JoinHandler{
		roomIdValidator,
		chatGateway,
	}
}

func (h *JoinHandler) Handle(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	err := h.roomIdValidator.Validate(req.RoomId)
	if err != nil {
		return JoinResponse{}, err
	}

	connection, ok := broadcaster.ConnectionFromContext(ctx)
	if !ok {
		return JoinResponse{}, errors.New("connection not found in context")
	}

	err = h.chatGateway.JoinChat(connection.Id, req.RoomId)
	if err != nil {
		return JoinResponse{}, err
	}

	return JoinResponse{
		RoomId:    req.RoomId,
		Timestamp: time.Now(),
	}, nil
}
