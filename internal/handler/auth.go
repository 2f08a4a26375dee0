package handler

import (
	"context"
	"errors"

	"github.com/goevery/chatrelay/internal/auth"
	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/gateway"
)

type AuthRequest struct {
	Token string `json:"token"`
}

type AuthResponse struct {
	Success    bool   `json:"success"`
	IdentityId string `json:"identityId"`
}

type AuthHandlerInterface interface {
	Handle(ctx context.Context, req AuthRequest) (AuthResponse, error)
}

type AuthHandler struct {
	authenticator *auth.Authenticator
	chatGateway   *gateway.ChatGateway
}

func NewAuthHandler(authenticator *auth.Authenticator, chatGateway *gateway.ChatGateway) *AuthHandler {
	return &AuthHandler{
		authenticator,
		chatGateway,
	}
}

func (h *AuthHandler) Handle(ctx context.Context, req AuthRequest) (AuthResponse, error) {
	authentication, err := h.authenticator.AuthenticateJWT(req.Token)
	if err != nil {
		return AuthResponse{}, err
	}

	connection, ok := broadcaster.ConnectionFromContext(ctx)
	if !ok {
		return AuthResponse{}, errors.New("connection not found in context")
	}

	err = h.chatGateway.OnAuthenticate(connection.Id, authentication.IdentityId)
	if err != nil {
		return AuthResponse{}, err
	}

	return AuthResponse{
		Success:    true,
		IdentityId: authentication.IdentityId,
	}, nil
}
