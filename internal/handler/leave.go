package handler

import (
	"context"
	"errors"

	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/gateway"
)

type LeaveRequest struct {
	RoomId string `json:"roomId"`
}

type LeaveResponse struct {
	Success bool `json:"success"`
}

type LeaveHandlerInterface interface {
	Handle(ctx context.Context, req LeaveRequest) (LeaveResponse, error)
}

type LeaveHandler struct {
	roomIdValidator *RoomIdValidator
	chatGateway     *gateway.ChatGateway
}

func NewLeaveHandler(
	roomIdValidator *RoomIdValidator,
	chatGateway *gateway.ChatGateway,
) *LeaveHandler {
	return &LeaveHandler{
		roomIdValidator,
		chatGateway,
	}
}

func (h *LeaveHandler) Handle(ctx context.Context, req LeaveRequest) (LeaveResponse, error) {
	err := h.roomIdValidator.Validate(req.RoomId)
	if err != nil {
		return LeaveResponse{}, err
	}

	connection, ok := broadcaster.ConnectionFromContext(ctx)
	if !ok {
		return LeaveResponse{}, errors.New("connection not found in context")
	}

	err = h.chatGateway.LeaveChat(connection.Id, req.RoomId)
	if err != nil {
		return LeaveResponse{}, err
	}

	return LeaveResponse{
		Success: true,
	}, nil
}
