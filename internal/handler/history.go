package handler

import (
	"context"
	"errors"

	"github.com/goevery/chatrelay/internal/auth"
	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/ierr"
	"github.com/goevery/chatrelay/internal/persistence"
)

type HistoryRequest struct {
	RoomId  string
	AfterId string
}

type HistoryResponse struct {
	Messages []broadcaster.Message `json:"messages"`
}

type HistoryHandlerInterface interface {
	Handle(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
}

// HistoryHandler pages through the stored messages of a room for backend
// producers.
type HistoryHandler struct {
	roomIdValidator   *RoomIdValidator
	persistenceEngine persistence.Engine
}

func NewHistoryHandler(
	roomIdValidator *RoomIdValidator,
	persistenceEngine persistence.Engine,
) *HistoryHandler {
	return &HistoryHandler{
		roomIdValidator,
		persistenceEngine,
	}
}

func (h *HistoryHandler) Handle(ctx context.Context, req HistoryRequest) (HistoryResponse, error) {
	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return HistoryResponse{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
	}

	if !authentication.IsProducer {
		return HistoryResponse{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("producer credentials required to read history"))
	}

	err := h.roomIdValidator.Validate(req.RoomId)
	if err != nil {
		return HistoryResponse{}, err
	}

	messages, err := h.persistenceEngine.List(ctx, req.RoomId, req.AfterId)
	if err != nil {
		return HistoryResponse{}, err
	}

	if messages == nil {
		messages = []broadcaster.Message{}
	}

	return HistoryResponse{
		Messages: messages,
	}, nil
}
