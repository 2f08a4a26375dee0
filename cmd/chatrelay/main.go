package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/chatrelay/internal/auth"
	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/gateway"
	"github.com/goevery/chatrelay/internal/handler"
	"github.com/goevery/chatrelay/internal/persistence"
	"github.com/goevery/chatrelay/internal/persistence/mongodb"
	"github.com/goevery/chatrelay/internal/presence"
	"github.com/goevery/chatrelay/internal/server"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	logger            *zap.Logger
	settings          Settings
	persistenceEngine persistence.Engine
	websocketServer   *server.WebSocketServer
	restServer        *server.RESTServer
}

func NewApp(logger *zap.Logger, settings Settings, persistenceEngine persistence.Engine) *App {
	originChecker := server.NewOriginChecker(settings.AllowedOriginList())
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret, settings.APIKeyList())

	registry := broadcaster.NewInMemoryRegistry(logger, settings.OutboundQueueSize)
	roomBroadcaster := broadcaster.NewRoomBroadcaster(logger, registry)
	session := presence.NewSession(registry)
	chatGateway := gateway.NewChatGateway(logger, registry, roomBroadcaster, session)

	roomIdValidator := handler.NewRoomIdValidator()

	heartbeatHandler := handler.NewHeartbeatHandler()
	authHandler := handler.NewAuthHandler(authenticator, chatGateway)
	joinHandler := handler.NewJoinHandler(roomIdValidator, chatGateway)
	leaveHandler := handler.NewLeaveHandler(roomIdValidator, chatGateway)
	messageHandler := handler.NewMessageHandler(roomIdValidator, persistenceEngine, chatGateway)
	pushHandler := handler.NewPushHandler(roomIdValidator, persistenceEngine, chatGateway)
	historyHandler := handler.NewHistoryHandler(roomIdValidator, persistenceEngine)

	router := server.NewRouter(
		logger,
		heartbeatHandler,
		authHandler,
		joinHandler,
		leaveHandler,
		messageHandler,
	)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		chatGateway,
		router,
		handler.MaxRequestSize,
	)
	restServer := server.NewRESTServer(
		logger,
		pushHandler,
		historyHandler,
		chatGateway,
		authenticator,
	)

	return &App{
		logger,
		settings,
		persistenceEngine,
		websocketServer,
		restServer,
	}
}

func (a *App) setup(ctx context.Context) error {
	setupCtx, setupCtxCancel := context.WithTimeout(ctx, 30*time.Second)
	defer setupCtxCancel()

	err := a.persistenceEngine.Setup(setupCtx)
	if err != nil {
		return fmt.Errorf("persistence setup: %w", err)
	}

	a.startHttpServer(ctx)

	return nil
}

func (a *App) startHttpServer(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Fatal("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic(fmt.Errorf("failed to parse settings from environment: %w", err))
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(settings.MongoURI))
	if err != nil {
		logger.Fatal("failed to create mongo client", zap.Error(err))
	}
	defer func() {
		disconnectCtx, disconnectCtxCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer disconnectCtxCancel()

		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			logger.Error("failed to disconnect mongo client", zap.Error(err))
		}
	}()

	persistenceEngine := mongodb.NewPersistenceEngine(mongoClient, settings.MongoDatabase)

	app := NewApp(logger, settings, persistenceEngine)

	err = app.setup(ctx)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}
}
