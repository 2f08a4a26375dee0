package persistence

import (
	"context"

	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a testify mock of Engine.
type MockEngine struct {
	mock.Mock
}

func NewMockEngine(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEngine {
	m := &MockEngine{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockEngine) Setup(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEngine) Save(ctx context.Context, request SaveRequest) (broadcaster.Message, error) {
	args := m.Called(ctx, request)

	return args.Get(0).(broadcaster.Message), args.Error(1)
}

func (m *MockEngine) List(ctx context.Context, roomId string, afterId string) ([]broadcaster.Message, error) {
	args := m.Called(ctx, roomId, afterId)

	messages, _ := args.Get(0).([]broadcaster.Message)

	return messages, args.Error(1)
}
