package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/goevery/chatrelay/internal/auth"
	"github.com/goevery/chatrelay/internal/gateway"
	"github.com/goevery/chatrelay/internal/handler"
	"github.com/goevery/chatrelay/internal/ierr"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type RESTServer struct {
	logger *zap.Logger

	pushHandler    handler.PushHandlerInterface
	historyHandler handler.HistoryHandlerInterface
	chatGateway    *gateway.ChatGateway
	authenticator  *auth.Authenticator
}

func NewRESTServer(
	logger *zap.Logger,
	pushHandler handler.PushHandlerInterface,
	historyHandler handler.HistoryHandlerInterface,
	chatGateway *gateway.ChatGateway,
	authenticator *auth.Authenticator,
) *RESTServer {
	return &RESTServer{
		logger,
		pushHandler,
		historyHandler,
		chatGateway,
		authenticator,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	api := router.NewRoute().Subrouter()
	api.Use(s.cors, s.authenticate)

	api.HandleFunc("/rooms/{roomId}/messages", s.push).Methods("POST", "OPTIONS")
	api.HandleFunc("/rooms/{roomId}/messages", s.history).Methods("GET", "OPTIONS")
	api.HandleFunc("/stats", s.stats).Methods("GET", "OPTIONS")
}

func (s *RESTServer) push(w http.ResponseWriter, r *http.Request) {
	var pushRequest handler.PushRequest
	err := json.NewDecoder(r.Body).Decode(&pushRequest)
	if err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return
	}

	pushRequest.RoomId = mux.Vars(r)["roomId"]

	pushResponse, err := s.pushHandler.Handle(r.Context(), pushRequest)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, pushResponse)
}

func (s *RESTServer) history(w http.ResponseWriter, r *http.Request) {
	historyResponse, err := s.historyHandler.Handle(r.Context(), handler.HistoryRequest{
		RoomId:  mux.Vars(r)["roomId"],
		AfterId: r.URL.Query().Get("after"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, historyResponse)
}

func (s *RESTServer) stats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.chatGateway.Stats())
}

func (s *RESTServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authenticate accepts either a producer api key or a user session token as a
// bearer credential.
func (s *RESTServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || credential == "" {
			s.writeError(w, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing bearer credential")))
			return
		}

		authentication, err := s.authenticator.AuthenticateAPIKey(credential)
		if err != nil {
			authentication, err = s.authenticator.AuthenticateJWT(credential)
		}

		if err != nil {
			s.writeError(w, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid credential")))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithAuthentication(r.Context(), authentication)))
	})
}

func (s *RESTServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *RESTServer) writeError(w http.ResponseWriter, err error) {
	var coded ierr.Error
	if !errors.As(err, &coded) {
		s.logger.Error("error in rest handler", zap.Error(err))
		coded = ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
	}

	s.writeJSON(w, httpStatus(coded.Code), coded)
}

func httpStatus(code ierr.ErrorCode) int {
	switch code {
	case ierr.ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case ierr.ErrorCodeUnauthenticated:
		return http.StatusUnauthorized
	case ierr.ErrorCodePermissionDenied:
		return http.StatusForbidden
	case ierr.ErrorCodeNotFound:
		return http.StatusNotFound
	case ierr.ErrorCodeAlreadyExists, ierr.ErrorCodeFailedPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
