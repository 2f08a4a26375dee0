package server

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/goevery/chatrelay/internal/auth"
	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/gateway"
	"github.com/goevery/chatrelay/internal/handler"
	"github.com/goevery/chatrelay/internal/persistence"
	"github.com/goevery/chatrelay/internal/presence"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type testServer struct {
	server        *httptest.Server
	registry      *broadcaster.InMemoryRegistry
	chatGateway   *gateway.ChatGateway
	authenticator *auth.Authenticator
	engine        *persistence.MockEngine
}

func newTestServer(t *testing.T, queueSize int) *testServer {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	registry := broadcaster.NewInMemoryRegistry(logger, queueSize)
	chatGateway := gateway.NewChatGateway(
		logger,
		registry,
		broadcaster.NewRoomBroadcaster(logger, registry),
		presence.NewSession(registry),
	)
	authenticator := auth.NewAuthenticator("test-secret", []string{"test-api-key"})
	engine := persistence.NewMockEngine(t)
	roomIdValidator := handler.NewRoomIdValidator()

	router := NewRouter(
		logger,
		handler.NewHeartbeatHandler(),
		handler.NewAuthHandler(authenticator, chatGateway),
		handler.NewJoinHandler(roomIdValidator, chatGateway),
		handler.NewLeaveHandler(roomIdValidator, chatGateway),
		handler.NewMessageHandler(roomIdValidator, engine, chatGateway),
	)

	wsServer := NewWebSocketServer(logger, &websocket.Upgrader{}, chatGateway, router, handler.MaxRequestSize)
	restServer := NewRESTServer(
		logger,
		handler.NewPushHandler(roomIdValidator, engine, chatGateway),
		handler.NewHistoryHandler(roomIdValidator, engine),
		chatGateway,
		authenticator,
	)

	mainRouter := mux.NewRouter()
	wsServer.Register(mainRouter)
	restServer.Register(mainRouter)

	server := httptest.NewServer(mainRouter)
	t.Cleanup(server.Close)

	return &testServer{
		server,
		registry,
		chatGateway,
		authenticator,
		engine,
	}
}

func (s *testServer) websocketURL() string {
	u, _ := url.Parse(s.server.URL)
	u.Scheme = "ws"
	u.Path = "/websocket"

	return u.String()
}
