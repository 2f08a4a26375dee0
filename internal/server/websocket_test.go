package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/handler"
	"github.com/goevery/chatrelay/internal/ierr"
	"github.com/goevery/chatrelay/internal/persistence"
	"github.com/goevery/chatrelay/internal/rpc"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type frame struct {
	RequestId int              `json:"requestId"`
	Result    *json.RawMessage `json:"result"`
	Error     *ierr.Error      `json:"error"`
	Method    string           `json:"method"`
	Params    *json.RawMessage `json:"params"`
}

type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	nextId int
	events []broadcaster.EventEnvelope
}

func (ts *testServer) dial(t *testing.T) *testClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(ts.websocketURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) readFrame() frame {
	c.t.Helper()

	var f frame
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(c.t, c.conn.ReadJSON(&f))

	return f
}

func (c *testClient) call(method string, params any) rpc.Response {
	c.t.Helper()

	c.nextId++
	id := c.nextId

	rawParams, err := json.Marshal(params)
	require.NoError(c.t, err)
	payload := json.RawMessage(rawParams)

	require.NoError(c.t, c.conn.WriteJSON(rpc.Request{Id: id, Method: method, Params: &payload}))

	for {
		f := c.readFrame()
		if f.Method == rpc.MethodEvent {
			c.bufferEvent(f)
			continue
		}

		require.Equal(c.t, id, f.RequestId)

		return rpc.Response{RequestId: f.RequestId, Result: f.Result, Error: f.Error}
	}
}

func (c *testClient) bufferEvent(f frame) {
	c.t.Helper()

	var envelope broadcaster.EventEnvelope
	require.NoError(c.t, json.Unmarshal(*f.Params, &envelope))

	c.events = append(c.events, envelope)
}

func (c *testClient) nextEvent() broadcaster.EventEnvelope {
	c.t.Helper()

	for len(c.events) == 0 {
		f := c.readFrame()
		require.Equal(c.t, rpc.MethodEvent, f.Method)
		c.bufferEvent(f)
	}

	event := c.events[0]
	c.events = c.events[1:]

	return event
}

func (c *testClient) authenticate(ts *testServer, identityId string) {
	c.t.Helper()

	token, err := ts.authenticator.IssueToken(identityId, identityId, time.Minute)
	require.NoError(c.t, err)

	response := c.call("auth", handler.AuthRequest{Token: token})
	require.Nil(c.t, response.Error)

	var authResponse handler.AuthResponse
	require.NoError(c.t, json.Unmarshal(*response.Result, &authResponse))
	require.True(c.t, authResponse.Success)
	require.Equal(c.t, identityId, authResponse.IdentityId)
}

func (c *testClient) join(roomId string) {
	c.t.Helper()

	response := c.call("join", handler.JoinRequest{RoomId: roomId})
	require.Nil(c.t, response.Error)
}

func TestWebSocketServer(t *testing.T) {
	t.Run("successful flow", func(t *testing.T) {
		ts := newTestServer(t, 16)

		c1 := ts.dial(t)
		c1.authenticate(ts, "u1")
		c1.join("room1")
		assert.Equal(t, broadcaster.EventEnvelope{Type: broadcaster.EventTypeMemberJoined, RoomId: "room1", IdentityId: "u1"}, c1.nextEvent())

		c2 := ts.dial(t)
		c2.authenticate(ts, "u2")
		c2.join("room1")
		assert.Equal(t, broadcaster.EventEnvelope{Type: broadcaster.EventTypeMemberJoined, RoomId: "room1", IdentityId: "u2"}, c2.nextEvent())
		assert.Equal(t, broadcaster.EventEnvelope{Type: broadcaster.EventTypeMemberJoined, RoomId: "room1", IdentityId: "u2"}, c1.nextEvent())

		stored := broadcaster.Message{
			Id:               "m1",
			RoomId:           "room1",
			SenderIdentityId: "u1",
			Content:          "hi",
			CreateTime:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		ts.engine.On("Save", mock.Anything, persistence.SaveRequest{
			RoomId:           "room1",
			SenderIdentityId: "u1",
			Content:          "hi",
		}).Return(stored, nil).Once()

		response := c1.call("message", handler.MessageRequest{RoomId: "room1", Content: "hi"})
		require.Nil(t, response.Error)

		var messageResponse handler.MessageResponse
		require.NoError(t, json.Unmarshal(*response.Result, &messageResponse))
		assert.Equal(t, broadcaster.DeliveryReport{Attempted: 1, Delivered: 1}, messageResponse.Delivery)

		event := c2.nextEvent()
		assert.Equal(t, broadcaster.EventTypeMessage, event.Type)
		require.NotNil(t, event.Message)
		assert.Equal(t, stored, *event.Message)

		c1.call("heartbeat", struct{}{})
		for _, e := range c1.events {
			assert.NotEqual(t, broadcaster.EventTypeMessage, e.Type)
		}
	})

	t.Run("disconnect announces member left", func(t *testing.T) {
		ts := newTestServer(t, 16)

		c1 := ts.dial(t)
		c1.authenticate(ts, "u1")
		c1.join("room1")
		c1.nextEvent()

		c2 := ts.dial(t)
		c2.authenticate(ts, "u2")
		c2.join("room1")
		c1.nextEvent()

		c2.conn.Close()

		assert.Equal(t, broadcaster.EventEnvelope{Type: broadcaster.EventTypeMemberLeft, RoomId: "room1", IdentityId: "u2"}, c1.nextEvent())
		assert.Equal(t, []string{ts.registry.ConnectionsOf("u1")[0]}, ts.registry.MembersOf("room1"))
	})

	t.Run("invalid message", func(t *testing.T) {
		ts := newTestServer(t, 16)
		c := ts.dial(t)

		err := c.conn.WriteMessage(websocket.TextMessage, []byte("invalid-json"))
		assert.NoError(t, err)

		// The server should close the connection
		c.conn.SetReadDeadline(time.Now().Add(time.Second * 10))
		_, _, err = c.conn.ReadMessage()
		assert.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	})

	t.Run("content over the limit is rejected without closing", func(t *testing.T) {
		ts := newTestServer(t, 16)
		c := ts.dial(t)
		c.authenticate(ts, "u1")
		c.join("room1")

		response := c.call("message", handler.MessageRequest{
			RoomId:  "room1",
			Content: strings.Repeat("\u00e9", handler.MaxContentLength+1),
		})

		require.NotNil(t, response.Error)
		assert.Equal(t, ierr.ErrorCodeInvalidArgument, response.Error.Code)

		heartbeat := c.call("heartbeat", struct{}{})
		assert.Nil(t, heartbeat.Error)
	})

	t.Run("slow consumer is closed with try again later", func(t *testing.T) {
		ts := newTestServer(t, 1)
		c := ts.dial(t)
		c.authenticate(ts, "u1")
		c.join("room1")

		content := strings.Repeat("x", 1024)
		overflowed := false
		for i := 0; i < 100000 && !overflowed; i++ {
			report := ts.chatGateway.Broadcast("room1", broadcaster.Message{Id: "m", RoomId: "room1", Content: content}, "")
			overflowed = report.Overflowed > 0
		}
		require.True(t, overflowed)

		var err error
		c.conn.SetReadDeadline(time.Now().Add(20 * time.Second))
		for err == nil {
			_, _, err = c.conn.ReadMessage()
		}

		assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), err.Error())
		assert.Eventually(t, func() bool {
			return ts.registry.Stats() == broadcaster.Stats{}
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("join without auth", func(t *testing.T) {
		ts := newTestServer(t, 16)
		c := ts.dial(t)

		response := c.call("join", handler.JoinRequest{RoomId: "room1"})

		require.NotNil(t, response.Error)
		assert.Equal(t, ierr.ErrorCodeUnauthenticated, response.Error.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		ts := newTestServer(t, 16)
		c := ts.dial(t)

		response := c.call("auth", handler.AuthRequest{Token: "not-a-token"})

		require.NotNil(t, response.Error)
		assert.Equal(t, ierr.ErrorCodeUnauthenticated, response.Error.Code)
	})

	t.Run("message without join", func(t *testing.T) {
		ts := newTestServer(t, 16)
		c := ts.dial(t)
		c.authenticate(ts, "u1")

		response := c.call("message", handler.MessageRequest{RoomId: "room1", Content: "hi"})

		require.NotNil(t, response.Error)
		assert.Equal(t, ierr.ErrorCodePermissionDenied, response.Error.Code)
	})

	t.Run("missing params", func(t *testing.T) {
		ts := newTestServer(t, 16)
		c := ts.dial(t)

		require.NoError(t, c.conn.WriteJSON(rpc.Request{Id: 1, Method: "join"}))
		f := c.readFrame()

		require.NotNil(t, f.Error)
		assert.Equal(t, ierr.ErrorCodeInvalidArgument, f.Error.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		ts := newTestServer(t, 16)
		c := ts.dial(t)

		response := c.call("subscribe", struct{}{})

		require.NotNil(t, response.Error)
		assert.Equal(t, ierr.ErrorCodeNotFound, response.Error.Code)
	})
}

func TestOriginChecker(t *testing.T) {
	request := func(origin string) *http.Request {
		r, _ := http.NewRequest("GET", "http://localhost/websocket", nil)
		r.Header.Set("Origin", origin)

		return r
	}

	t.Run("no allowed origins", func(t *testing.T) {
		checker := NewOriginChecker(nil)

		assert.True(t, checker.Check(request("https://anything.example")))
	})

	t.Run("allowed origins", func(t *testing.T) {
		checker := NewOriginChecker([]string{"https://chat.example"})

		assert.True(t, checker.Check(request("https://chat.example")))
		assert.False(t, checker.Check(request("https://evil.example")))
	})
}
