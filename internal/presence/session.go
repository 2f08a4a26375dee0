package presence

import (
	"errors"

	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/ierr"
)

var (
	ErrNotAuthenticated = errors.New("connection is not authenticated")
	ErrUnauthorized     = errors.New("authentication required")
)

// Session binds authenticated identities to live connections.
type Session struct {
	registry broadcaster.Registry
}

func NewSession(registry broadcaster.Registry) *Session {
	return &Session{
		registry,
	}
}

// Bind records that connectionId belongs to identityId. The identity must
// already have been verified by the caller.
func (s *Session) Bind(connectionId string, identityId string) error {
	return s.registry.Bind(connectionId, identityId)
}

func (s *Session) CurrentIdentity(connectionId string) (string, error) {
	connection, ok := s.registry.Lookup(connectionId)
	if !ok {
		return "", ierr.New(ierr.ErrorCodeNotFound, broadcaster.ErrUnknownConnection)
	}

	identityId := connection.IdentityId()
	if identityId == "" {
		return "", ierr.New(ierr.ErrorCodeUnauthenticated, ErrNotAuthenticated)
	}

	return identityId, nil
}

// RequireAuthenticated returns the identity bound to connectionId. Unknown
// connections fail with broadcaster.ErrUnknownConnection, bare ones with
// ErrUnauthorized.
func (s *Session) RequireAuthenticated(connectionId string) (string, error) {
	identityId, err := s.CurrentIdentity(connectionId)
	if errors.Is(err, broadcaster.ErrUnknownConnection) {
		return "", err
	}

	if err != nil {
		return "", ierr.New(ierr.ErrorCodeUnauthenticated, ErrUnauthorized)
	}

	return identityId, nil
}
