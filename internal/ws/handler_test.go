package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgraph/internal/domain"
	"chatgraph/internal/graph"
	"chatgraph/internal/pubsub"
	"chatgraph/internal/security"
	"chatgraph/internal/service"
	"chatgraph/internal/store/sqlite"
	"chatgraph/internal/ws"
)

type testServer struct {
	url    string
	bus    *pubsub.MemoryBus
	hub    *ws.Hub
	tokens *security.TokenService
	convs  *service.ConversationService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	enc, err := security.NewEncryptor([]byte("ws-test-key"), nil)
	require.NoError(t, err)
	tokens := security.NewTokenService("ws-secret", time.Hour)

	users := sqlite.NewUserRepo(db)
	convRepo := sqlite.NewConversationRepo(db)
	parts := sqlite.NewParticipantRepo(db)
	msgs := sqlite.NewMessageRepo(db)
	bus := pubsub.NewMemoryBus(16)

	for _, id := range []string{"u1", "u2"} {
		require.NoError(t, users.Create(context.Background(), &domain.User{ID: id}))
	}

	convs := service.NewConversationService(convRepo, parts, users, bus, enc)
	schema := graph.NewSchema(graph.NewResolver(
		service.NewUserService(users),
		convs,
		service.NewMessageService(convRepo, msgs, bus, enc, 1000, 100),
		service.NewSubscriptionService(bus, convRepo, parts),
	))

	hub := ws.NewHub()
	handler := ws.NewHandler(hub, schema, service.NewAuthService(users, tokens), ws.Options{
		PingInterval: time.Second,
		InitTimeout:  time.Second,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		bus:    bus,
		hub:    hub,
		tokens: tokens,
		convs:  convs,
	}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.tokens.Issue(security.Identity{Subject: userID})
	require.NoError(t, err)
	return tok
}

func dial(t *testing.T, url, subprotocol string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{subprotocol}}
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, subprotocol, resp.Header.Get("Sec-WebSocket-Protocol"))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ws.Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readSkippingKeepAlive returns the next frame that is not a keepalive.
func readSkippingKeepAlive(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	for {
		msg := read(t, conn)
		if msg.Type != ws.MsgKeepAlive {
			return msg
		}
	}
}

func initPayload(token string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"authorization": "Bearer " + token})
	return b
}

func operation(query string, vars map[string]interface{}) json.RawMessage {
	b, _ := json.Marshal(ws.OperationPayload{Query: query, Variables: vars})
	return b
}

func listenersEventually(t *testing.T, bus *pubsub.MemoryBus, topic pubsub.Topic, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return bus.Listeners(topic) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestTransportWSSubscribeAndComplete(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.url, ws.ProtocolTransportWS)

	send(t, conn, ws.Message{Type: ws.MsgConnectionInit, Payload: initPayload(s.token(t, "u2"))})
	assert.Equal(t, ws.MsgConnectionAck, read(t, conn).Type)

	send(t, conn, ws.Message{ID: "1", Type: ws.MsgSubscribe, Payload: operation(`subscription { conversationCreated { id } }`, nil)})
	listenersEventually(t, s.bus, pubsub.ConversationCreated, 1)

	conv, err := s.convs.Create(security.WithUser(context.Background(), &domain.User{ID: "u1"}), []string{"u2"})
	require.NoError(t, err)

	msg := read(t, conn)
	assert.Equal(t, ws.MsgNext, msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.JSONEq(t, `{"data":{"conversationCreated":{"id":"`+conv.ID+`"}}}`, string(msg.Payload))

	send(t, conn, ws.Message{ID: "1", Type: ws.MsgComplete})
	listenersEventually(t, s.bus, pubsub.ConversationCreated, 0)

	send(t, conn, ws.Message{Type: ws.MsgPing})
	assert.Equal(t, ws.MsgPong, read(t, conn).Type)
}

func TestAnonymousSubscriptionIsRejected(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.url, ws.ProtocolTransportWS)

	send(t, conn, ws.Message{Type: ws.MsgConnectionInit})
	assert.Equal(t, ws.MsgConnectionAck, read(t, conn).Type)

	send(t, conn, ws.Message{ID: "7", Type: ws.MsgSubscribe, Payload: operation(`subscription { conversationDeleted { id } }`, nil)})

	msg := read(t, conn)
	assert.Equal(t, ws.MsgError, msg.Type)
	assert.Equal(t, "7", msg.ID)
	var errs []struct {
		Message    string
		Extensions map[string]interface{}
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, graph.CodeUnauthorized, errs[0].Extensions["code"])

	// The error frame ends the operation: the next frame answers our ping.
	send(t, conn, ws.Message{Type: ws.MsgPing})
	assert.Equal(t, ws.MsgPong, read(t, conn).Type)
	assert.Zero(t, s.bus.Listeners(pubsub.ConversationDeleted))

	// The id is free again.
	send(t, conn, ws.Message{ID: "7", Type: ws.MsgSubscribe, Payload: operation(`subscription { conversationDeleted { id } }`, nil)})
	assert.Equal(t, ws.MsgError, read(t, conn).Type)
}

func TestLegacyRejectedSubscriptionCompletes(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.url, ws.ProtocolGraphQLWS)

	send(t, conn, ws.Message{Type: ws.MsgConnectionInit})
	assert.Equal(t, ws.MsgConnectionAck, read(t, conn).Type)
	assert.Equal(t, ws.MsgKeepAlive, read(t, conn).Type)

	send(t, conn, ws.Message{ID: "b", Type: ws.MsgStart, Payload: operation(`subscription { conversationCreated { id } }`, nil)})
	msg := readSkippingKeepAlive(t, conn)
	assert.Equal(t, ws.MsgError, msg.Type)
	assert.Equal(t, "b", msg.ID)

	msg = readSkippingKeepAlive(t, conn)
	assert.Equal(t, ws.MsgComplete, msg.Type)
	assert.Equal(t, "b", msg.ID)
}

func TestInvalidTokenClosesConnection(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.url, ws.ProtocolTransportWS)

	send(t, conn, ws.Message{Type: ws.MsgConnectionInit, Payload: initPayload("not-a-token")})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseForbidden, closeErr.Code)
}

func TestSubscribeBeforeInitIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.url, ws.ProtocolTransportWS)

	send(t, conn, ws.Message{ID: "1", Type: ws.MsgSubscribe, Payload: operation(`subscription { conversationDeleted { id } }`, nil)})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseUnauthorized, closeErr.Code)
}

func TestLegacyProtocolStartStop(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.url, ws.ProtocolGraphQLWS)

	send(t, conn, ws.Message{Type: ws.MsgConnectionInit, Payload: initPayload(s.token(t, "u1"))})
	assert.Equal(t, ws.MsgConnectionAck, read(t, conn).Type)
	assert.Equal(t, ws.MsgKeepAlive, read(t, conn).Type)

	send(t, conn, ws.Message{ID: "a", Type: ws.MsgStart, Payload: operation(`subscription { conversationDeleted { id } }`, nil)})
	listenersEventually(t, s.bus, pubsub.ConversationDeleted, 1)

	require.NoError(t, s.bus.Publish(context.Background(), pubsub.ConversationDeleted, &domain.ConversationDeletedEvent{ID: "c9"}))
	msg := readSkippingKeepAlive(t, conn)
	assert.Equal(t, ws.MsgData, msg.Type)
	assert.JSONEq(t, `{"data":{"conversationDeleted":{"id":"c9"}}}`, string(msg.Payload))

	send(t, conn, ws.Message{ID: "a", Type: ws.MsgStop})
	listenersEventually(t, s.bus, pubsub.ConversationDeleted, 0)
}

func TestDisconnectReleasesListeners(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.url, ws.ProtocolTransportWS)

	send(t, conn, ws.Message{Type: ws.MsgConnectionInit, Payload: initPayload(s.token(t, "u1"))})
	assert.Equal(t, ws.MsgConnectionAck, read(t, conn).Type)
	require.Eventually(t, func() bool { return s.hub.CountFor("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	send(t, conn, ws.Message{ID: "1", Type: ws.MsgSubscribe, Payload: operation(`subscription { conversationUpdated { conversation { id } } }`, nil)})
	send(t, conn, ws.Message{ID: "2", Type: ws.MsgSubscribe, Payload: operation(`subscription { conversationDeleted { id } }`, nil)})
	listenersEventually(t, s.bus, pubsub.ConversationUpdated, 1)
	listenersEventually(t, s.bus, pubsub.ConversationDeleted, 1)

	require.NoError(t, conn.Close())

	listenersEventually(t, s.bus, pubsub.ConversationUpdated, 0)
	listenersEventually(t, s.bus, pubsub.ConversationDeleted, 0)
	require.Eventually(t, func() bool { return s.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateOperationID(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.url, ws.ProtocolTransportWS)

	send(t, conn, ws.Message{Type: ws.MsgConnectionInit, Payload: initPayload(s.token(t, "u1"))})
	assert.Equal(t, ws.MsgConnectionAck, read(t, conn).Type)

	op := operation(`subscription { conversationDeleted { id } }`, nil)
	send(t, conn, ws.Message{ID: "1", Type: ws.MsgSubscribe, Payload: op})
	listenersEventually(t, s.bus, pubsub.ConversationDeleted, 1)
	send(t, conn, ws.Message{ID: "1", Type: ws.MsgSubscribe, Payload: op})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseSubscriberExists, closeErr.Code)
	listenersEventually(t, s.bus, pubsub.ConversationDeleted, 0)
}

func TestHubCloseAll(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s.url, ws.ProtocolTransportWS)
	send(t, conn, ws.Message{Type: ws.MsgConnectionInit})
	assert.Equal(t, ws.MsgConnectionAck, read(t, conn).Type)

	s.hub.CloseAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestOriginCheck(t *testing.T) {
	hub := ws.NewHub()
	handler := ws.NewHandler(hub, nil, nil, ws.Options{AllowedOrigins: []string{"http://app.test"}})

	for origin, want := range map[string]int{
		"http://evil.test": http.StatusForbidden,
		"http://app.test":  http.StatusBadRequest, // allowed, but not a websocket request
	} {
		req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, origin)
	}
}
