package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/gateway"
	"github.com/goevery/chatrelay/internal/rpc"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	replyQueueSize = 16
)

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader

	chatGateway *gateway.ChatGateway
	router      *Router
	readLimit   int64
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	chatGateway *gateway.ChatGateway,
	router *Router,
	readLimit int64,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		chatGateway,
		router,
		readLimit,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/websocket", s.serve)
}

func (s *WebSocketServer) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionId := gonanoid.Must()
	logger := s.logger.With(
		zap.String("connectionId", connectionId),
		zap.String("clientIp", clientIp(r)))

	connection, err := s.chatGateway.OnConnect(connectionId)
	if err != nil {
		logger.Error("failed to register connection", zap.Error(err))
		ws.Close()
		return
	}

	logger.Info("websocket connection established")

	replies := make(chan rpc.Response, replyQueueSize)
	writerDone := make(chan struct{})

	go s.writePump(ws, connection, replies, writerDone, logger)

	s.readPump(r, ws, connection, replies, writerDone, logger)

	s.chatGateway.OnDisconnect(connectionId)

	<-writerDone

	logger.Info("websocket connection closed")
}

func (s *WebSocketServer) readPump(
	r *http.Request,
	ws *websocket.Conn,
	connection *broadcaster.Connection,
	replies chan<- rpc.Response,
	writerDone <-chan struct{},
	logger *zap.Logger,
) {
	ws.SetReadLimit(s.readLimit)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := broadcaster.WithConnection(r.Context(), connection)

	for {
		var request rpc.Request
		err := ws.ReadJSON(&request)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read failed", zap.Error(err))
			}

			return
		}

		response := s.router.RouteRequest(ctx, request)
		if response == nil {
			continue
		}

		select {
		case replies <- *response:
		case <-writerDone:
			return
		}
	}
}

// writePump is the only writer of ws. It exits when the outbound queue is
// closed by OnDisconnect, when the connection is evicted, or on write error.
func (s *WebSocketServer) writePump(
	ws *websocket.Conn,
	connection *broadcaster.Connection,
	replies <-chan rpc.Response,
	writerDone chan<- struct{},
	logger *zap.Logger,
) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		ws.Close()
		close(writerDone)
	}()

	for {
		select {
		case event, ok := <-connection.Outbound():
			if !ok {
				writeClose(ws, websocket.CloseNormalClosure, "")
				return
			}

			notification, err := rpc.NewNotification(rpc.MethodEvent, broadcaster.Envelope(event))
			if err != nil {
				logger.Error("failed to encode event", zap.Error(err))
				continue
			}

			if err := writeJSON(ws, notification); err != nil {
				logger.Debug("failed to write event", zap.Error(err))
				return
			}
		case response := <-replies:
			if err := writeJSON(ws, response); err != nil {
				logger.Debug("failed to write response", zap.Error(err))
				return
			}
		case <-connection.Evicted():
			logger.Warn("closing slow connection")
			writeClose(ws, websocket.CloseTryAgainLater, "outbound queue overflow")
			return
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(ws *websocket.Conn, v any) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))

	return ws.WriteJSON(v)
}

func writeClose(ws *websocket.Conn, code int, text string) {
	ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

func clientIp(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

type OriginChecker struct {
	allowedOrigins []string
}

func NewOriginChecker(allowedOrigins []string) *OriginChecker {
	return &OriginChecker{
		allowedOrigins,
	}
}

// Check accepts every origin when no allowed origins are configured.
func (c *OriginChecker) Check(r *http.Request) bool {
	if len(c.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	for _, allowed := range c.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}

	return false
}
