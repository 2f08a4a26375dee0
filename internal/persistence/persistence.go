package persistence

import (
	"context"

	"github.com/goevery/chatrelay/internal/broadcaster"
)

const ListLimit = 100

// Engine stores chat messages. Messages are saved before they are fanned out,
// so the id and create time a client receives are the stored ones.
type Engine interface {
	Setup(ctx context.Context) error
	Save(ctx context.Context, request SaveRequest) (broadcaster.Message, error)
	List(ctx context.Context, roomId string, afterId string) ([]broadcaster.Message, error)
}

type SaveRequest struct {
	RoomId           string
	SenderIdentityId string
	Content          string
}
