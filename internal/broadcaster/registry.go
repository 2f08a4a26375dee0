package broadcaster

import (
	"errors"
	"slices"
	"sync"

	"github.com/goevery/chatrelay/internal/ierr"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrUnknownConnection    = errors.New("unknown connection")
	ErrDuplicateConnection  = errors.New("connection already registered")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated as another identity")
)

// Departure describes a connection removed from the registry and the rooms it
// was a member of at the time of removal.
type Departure struct {
	ConnectionId string
	IdentityId   string
	Rooms        []string
}

type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Identities  int `json:"identities"`
}

type Registry interface {
	Register(connectionId string, identityId string) (*Connection, error)
	Unregister(connectionId string) (Departure, bool)
	Bind(connectionId string, identityId string) error
	Join(connectionId string, roomId string) (bool, error)
	Leave(connectionId string, roomId string) bool
	IsMember(connectionId string, roomId string) bool
	Lookup(connectionId string) (*Connection, bool)
	MembersOf(roomId string) []string
	ConnectionsOf(identityId string) []string
	RoomsOf(connectionId string) []string
	ConnectionsIn(roomId string) []*Connection
	ConnectionsFor(identityId string) []*Connection
	Stats() Stats
}

type InMemoryRegistry struct {
	logger    *zap.Logger
	queueSize int
	mu        sync.RWMutex

	connections           map[string]*Connection
	connectionsByRoom     map[string]map[string]struct{}
	roomsByConnection     map[string]map[string]struct{}
	connectionsByIdentity map[string]map[string]struct{}
}

func NewInMemoryRegistry(
	logger *zap.Logger,
	queueSize int,
) *InMemoryRegistry {
	if queueSize <= 0 {
		queueSize = 1
	}

	return &InMemoryRegistry{
		logger:                logger,
		queueSize:             queueSize,
		connections:           make(map[string]*Connection),
		connectionsByRoom:     make(map[string]map[string]struct{}),
		roomsByConnection:     make(map[string]map[string]struct{}),
		connectionsByIdentity: make(map[string]map[string]struct{}),
	}
}

// Register records a new live connection. identityId may be empty for a
// connection that has not authenticated yet.
func (r *InMemoryRegistry) Register(connectionId string, identityId string) (*Connection, error) {
	if connectionId == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("connectionId cannot be empty"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionId]; ok {
		return nil, ierr.New(ierr.ErrorCodeAlreadyExists, ErrDuplicateConnection)
	}

	connection := newConnection(connectionId, identityId, r.queueSize)
	r.connections[connectionId] = connection
	r.roomsByConnection[connectionId] = make(map[string]struct{})

	if identityId != "" {
		r.indexIdentityLocked(identityId, connectionId)
	}

	return connection, nil
}

// Unregister removes the connection together with all of its memberships and
// closes its outbound queue. Removing an unknown connection is a no-op.
func (r *InMemoryRegistry) Unregister(connectionId string) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unregisterLocked(connectionId)
}

// IMPORTANT: It must be called only when a write lock is already held.
func (r *InMemoryRegistry) unregisterLocked(connectionId string) (Departure, bool) {
	connection, ok := r.connections[connectionId]
	if !ok {
		return Departure{}, false
	}

	connectionRooms, ok := r.roomsByConnection[connectionId]
	if !ok {
		panic("inconsistent state: connection not found in roomsByConnection")
	}

	for roomId := range connectionRooms {
		roomConnections, ok := r.connectionsByRoom[roomId]
		if !ok {
			panic("inconsistent state: room not found in connectionsByRoom")
		}

		delete(roomConnections, connectionId)
		if len(roomConnections) == 0 {
			delete(r.connectionsByRoom, roomId)
		}
	}

	identityId := connection.IdentityId()
	if identityId != "" {
		identityConnections := r.connectionsByIdentity[identityId]

		delete(identityConnections, connectionId)
		if len(identityConnections) == 0 {
			delete(r.connectionsByIdentity, identityId)
		}
	}

	rooms := lo.Keys(connectionRooms)
	slices.Sort(rooms)

	delete(r.roomsByConnection, connectionId)
	delete(r.connections, connectionId)
	connection.close()

	r.logger.Debug("connection unregistered",
		zap.String("connectionId", connectionId),
		zap.Int("rooms", len(rooms)))

	return Departure{
		ConnectionId: connectionId,
		IdentityId:   identityId,
		Rooms:        rooms,
	}, true
}

// Bind attaches an identity to a registered connection. Binding the identity
// the connection already has is a no-op.
func (r *InMemoryRegistry) Bind(connectionId string, identityId string) error {
	if identityId == "" {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("identityId cannot be empty"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	connection, ok := r.connections[connectionId]
	if !ok {
		return ierr.New(ierr.ErrorCodeNotFound, ErrUnknownConnection)
	}

	current := connection.IdentityId()
	if current == identityId {
		return nil
	}

	if current != "" {
		return ierr.New(ierr.ErrorCodeFailedPrecondition, ErrAlreadyAuthenticated)
	}

	connection.setIdentityId(identityId)
	r.indexIdentityLocked(identityId, connectionId)

	return nil
}

func (r *InMemoryRegistry) indexIdentityLocked(identityId string, connectionId string) {
	if _, ok := r.connectionsByIdentity[identityId]; !ok {
		r.connectionsByIdentity[identityId] = make(map[string]struct{})
	}

	r.connectionsByIdentity[identityId][connectionId] = struct{}{}
}

// Join adds roomId to the connection's memberships. It reports whether the
// membership is new; joining twice has no further effect.
func (r *InMemoryRegistry) Join(connectionId string, roomId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connectionRooms, ok := r.roomsByConnection[connectionId]
	if !ok {
		return false, ierr.New(ierr.ErrorCodeNotFound, ErrUnknownConnection)
	}

	if _, ok := connectionRooms[roomId]; ok {
		return false, nil
	}

	if _, ok := r.connectionsByRoom[roomId]; !ok {
		r.connectionsByRoom[roomId] = make(map[string]struct{})
	}

	r.connectionsByRoom[roomId][connectionId] = struct{}{}
	connectionRooms[roomId] = struct{}{}

	return true, nil
}

// Leave removes roomId from the connection's memberships and reports whether
// it was a member.
func (r *InMemoryRegistry) Leave(connectionId string, roomId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	connectionRooms, ok := r.roomsByConnection[connectionId]
	if !ok {
		return false
	}

	if _, ok := connectionRooms[roomId]; !ok {
		return false
	}

	delete(connectionRooms, roomId)

	roomConnections, ok := r.connectionsByRoom[roomId]
	if !ok {
		panic("inconsistent state: room not found in connectionsByRoom")
	}

	delete(roomConnections, connectionId)
	if len(roomConnections) == 0 {
		delete(r.connectionsByRoom, roomId)
	}

	return true
}

func (r *InMemoryRegistry) IsMember(connectionId string, roomId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.connectionsByRoom[roomId][connectionId]

	return ok
}

func (r *InMemoryRegistry) Lookup(connectionId string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connection, ok := r.connections[connectionId]

	return connection, ok
}

func (r *InMemoryRegistry) MembersOf(roomId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.connectionsByRoom[roomId])
}

func (r *InMemoryRegistry) ConnectionsOf(identityId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.connectionsByIdentity[identityId])
}

func (r *InMemoryRegistry) RoomsOf(connectionId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.roomsByConnection[connectionId])
}

// ConnectionsIn returns a snapshot of the live connections in a room.
func (r *InMemoryRegistry) ConnectionsIn(roomId string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.resolveLocked(r.connectionsByRoom[roomId])
}

// ConnectionsFor returns a snapshot of the live connections of an identity.
func (r *InMemoryRegistry) ConnectionsFor(identityId string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.resolveLocked(r.connectionsByIdentity[identityId])
}

func (r *InMemoryRegistry) resolveLocked(connectionIds map[string]struct{}) []*Connection {
	connections := make([]*Connection, 0, len(connectionIds))
	for _, connectionId := range sortedKeys(connectionIds) {
		if connection, ok := r.connections[connectionId]; ok {
			connections = append(connections, connection)
		}
	}

	return connections
}

func (r *InMemoryRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Connections: len(r.connections),
		Rooms:       len(r.connectionsByRoom),
		Identities:  len(r.connectionsByIdentity),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := lo.Keys(set)
	slices.Sort(keys)

	return keys
}
