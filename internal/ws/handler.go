package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/graph-gophers/graphql-go"

	"chatgraph/internal/domain"
	"chatgraph/internal/security"
)

const (
	writeWait      = 10 * time.Second
	sendBuffer     = 64
	closeGoingAway = websocket.CloseGoingAway
)

// Subscriber starts GraphQL subscriptions. *graphql.Schema implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, query, operationName string, variables map[string]interface{}) (<-chan interface{}, error)
}

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

type Options struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	ReadLimit      int64
	// InitTimeout bounds the wait for connection_init.
	InitTimeout time.Duration
}

// Handler serves GraphQL subscriptions over websockets. Both the
// graphql-transport-ws and the legacy graphql-ws subprotocols are spoken;
// clients that negotiate neither get graphql-transport-ws.
type Handler struct {
	hub      *Hub
	schema   Subscriber
	auth     Authenticator
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, schema Subscriber, auth Authenticator, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 * 1024
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 10 * time.Second
	}
	return &Handler{
		hub:    hub,
		schema: schema,
		auth:   auth,
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:  makeCheckOrigin(opts.AllowedOrigins),
			Subprotocols: []string{ProtocolTransportWS, ProtocolGraphQLWS},
		},
	}
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin allows non-browser clients, which send no Origin, and
// browsers on one of the allowed origins.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, wildcard := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || wildcard {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.upgrader.CheckOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		h:           h,
		ws:          ws,
		dialect:     dialectFor(ws.Subprotocol()),
		headerToken: security.BearerToken(r.Header.Get("Authorization")),
		ctx:         ctx,
		cancel:      cancel,
		send:        make(chan outbound, sendBuffer),
		writerDone:  make(chan struct{}),
		ops:         make(map[string]context.CancelFunc),
	}

	h.hub.Register("", c)
	go c.writePump()
	c.readLoop()

	// Let the writer flush what is queued before the socket goes away.
	c.closeWith(websocket.CloseNormalClosure, "")
	select {
	case <-c.writerDone:
	case <-time.After(writeWait):
	}
	c.shutdown()
	h.hub.Unregister(c.userID(), c)
}

// outbound is either a frame or, when closeCode is set, a close request.
type outbound struct {
	msg       Message
	closeCode int
	reason    string
}

type connection struct {
	h           *Handler
	ws          *websocket.Conn
	dialect     dialect
	headerToken string

	ctx        context.Context
	cancel     context.CancelFunc
	send       chan outbound
	writerDone chan struct{}

	mu       sync.Mutex
	ops      map[string]context.CancelFunc
	user     *domain.User
	acked    bool
	initSeen bool

	closeOnce sync.Once
}

func (c *connection) userID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

func (c *connection) readLoop() {
	pongWait := 2 * c.h.opts.PingInterval
	c.ws.SetReadLimit(c.h.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	initTimer := time.AfterFunc(c.h.opts.InitTimeout, func() {
		c.mu.Lock()
		seen := c.initSeen
		c.mu.Unlock()
		if !seen {
			c.closeWith(CloseInitTimeout, "Connection initialisation timeout")
		}
	})
	defer initTimer.Stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: read: %v", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.closeWith(CloseBadRequest, "Invalid message received")
			return
		}
		if !c.handle(msg) {
			return
		}
	}
}

// handle processes one client frame and reports whether the connection stays
// open.
func (c *connection) handle(msg Message) bool {
	switch msg.Type {
	case MsgConnectionInit:
		return c.handleInit(msg)

	case MsgPing:
		c.enqueue(Message{Type: MsgPong, Payload: msg.Payload})
		return true

	case MsgPong:
		return true

	case c.dialect.subscribe:
		return c.handleSubscribe(msg)

	case c.dialect.stop:
		c.stopOperation(msg.ID)
		return true

	case MsgConnectionTerminate:
		if c.dialect.legacy {
			c.closeWith(websocket.CloseNormalClosure, "")
			return false
		}
	}

	log.Printf("ws: unknown message type %q on %s", msg.Type, c.dialect.name)
	if c.dialect.legacy {
		c.enqueue(Message{ID: msg.ID, Type: MsgError, Payload: mustJSON(map[string]string{"message": "unknown message type " + msg.Type})})
		return true
	}
	c.closeWith(CloseBadRequest, "Invalid message received")
	return false
}

func (c *connection) handleInit(msg Message) bool {
	c.mu.Lock()
	repeated := c.initSeen
	c.initSeen = true
	c.mu.Unlock()

	if repeated {
		if c.dialect.legacy {
			return true
		}
		c.closeWith(CloseTooManyInitRequests, "Too many initialisation requests")
		return false
	}

	token := security.BearerToken(tokenFromInit(msg.Payload))
	if token == "" {
		token = c.headerToken
	}

	var user *domain.User
	if token != "" {
		u, err := c.h.auth.Authenticate(c.ctx, token)
		if err != nil {
			if !errors.Is(err, domain.ErrUnauthorized) {
				log.Printf("ws: authenticate: %v", err)
			}
			if c.dialect.legacy {
				c.enqueue(Message{Type: MsgConnectionError, Payload: mustJSON(map[string]string{"message": "Forbidden"})})
			}
			c.closeWith(CloseForbidden, "Forbidden")
			return false
		}
		user = u
	}

	c.mu.Lock()
	c.user = user
	c.acked = true
	c.mu.Unlock()
	if user != nil {
		c.h.hub.Unregister("", c)
		c.h.hub.Register(user.ID, c)
	}

	c.enqueue(Message{Type: MsgConnectionAck})
	if c.dialect.legacy {
		c.enqueue(Message{Type: MsgKeepAlive})
	}
	return true
}

func (c *connection) handleSubscribe(msg Message) bool {
	c.mu.Lock()
	acked := c.acked
	user := c.user
	_, exists := c.ops[msg.ID]
	c.mu.Unlock()

	if !acked {
		if c.dialect.legacy {
			c.enqueue(Message{ID: msg.ID, Type: MsgError, Payload: mustJSON(map[string]string{"message": "connection not initialised"})})
			return true
		}
		c.closeWith(CloseUnauthorized, "Unauthorized")
		return false
	}
	if msg.ID == "" {
		c.closeWith(CloseBadRequest, "Invalid message received")
		return false
	}
	if exists {
		if c.dialect.legacy {
			// Legacy clients restart an operation by reusing its id.
			c.stopOperation(msg.ID)
		} else {
			c.closeWith(CloseSubscriberExists, "Subscriber for "+msg.ID+" already exists")
			return false
		}
	}

	var payload OperationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Query == "" {
		c.sendError(msg.ID, errorList("invalid subscription payload"))
		return true
	}

	opCtx, cancel := context.WithCancel(c.ctx)
	if user != nil {
		opCtx = security.WithUser(opCtx, user)
	}

	stream, err := c.h.schema.Subscribe(opCtx, payload.Query, payload.OperationName, payload.Variables)
	if err != nil {
		cancel()
		c.sendError(msg.ID, errorList(err.Error()))
		return true
	}

	c.mu.Lock()
	c.ops[msg.ID] = cancel
	c.mu.Unlock()

	go c.run(msg.ID, stream, cancel)
	return true
}

// run relays one operation's results until the stream ends. A stream that
// ends on its own is completed towards the client.
func (c *connection) run(id string, stream <-chan interface{}, cancel context.CancelFunc) {
	defer cancel()

	first := true
	for v := range stream {
		resp, ok := v.(*graphql.Response)
		if !ok {
			continue
		}
		if first && len(resp.Errors) > 0 && isNullData(resp.Data) {
			// The subscription never started. On graphql-transport-ws the
			// error frame ends the operation by itself.
			if c.removeOperation(id) {
				c.sendError(id, resp.Errors)
			}
			return
		}
		first = false
		c.enqueue(Message{ID: id, Type: c.dialect.next, Payload: mustJSON(resp)})
	}

	if c.removeOperation(id) {
		c.enqueue(Message{ID: id, Type: MsgComplete})
	}
}

func errorList(message string) []map[string]string {
	return []map[string]string{{"message": message}}
}

func isNullData(data json.RawMessage) bool {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return true
	}
	// A nullable root field that failed renders as {"field":null}.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	for _, v := range fields {
		if strings.TrimSpace(string(v)) != "null" {
			return false
		}
	}
	return true
}

// sendError reports a failed operation: an error frame, followed by complete
// on graphql-ws only. errs is marshalled as the errors array.
func (c *connection) sendError(id string, errs interface{}) {
	c.enqueue(Message{ID: id, Type: MsgError, Payload: mustJSON(errs)})
	if c.dialect.legacy {
		c.enqueue(Message{ID: id, Type: MsgComplete})
	}
}

// stopOperation cancels a client-stopped operation without completing it.
func (c *connection) stopOperation(id string) {
	c.mu.Lock()
	cancel, ok := c.ops[id]
	delete(c.ops, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *connection) removeOperation(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ops[id]; !ok {
		return false
	}
	delete(c.ops, id)
	return true
}

func (c *connection) enqueue(msg Message) {
	select {
	case c.send <- outbound{msg: msg}:
	case <-c.ctx.Done():
	}
}

// writePump is the only writer of the socket.
func (c *connection) writePump() {
	ticker := time.NewTicker(c.h.opts.PingInterval)
	defer ticker.Stop()
	defer close(c.writerDone)

	for {
		select {
		case out := <-c.send:
			if out.closeCode != 0 {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(out.closeCode, out.reason), time.Now().Add(writeWait))
				c.shutdown()
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(out.msg); err != nil {
				log.Printf("ws: write: %v", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown()
				return
			}
			if c.dialect.legacy {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteJSON(Message{Type: MsgKeepAlive}); err != nil {
					c.shutdown()
					return
				}
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// closeWith queues a close frame behind the frames already queued. The
// writer tears the connection down once the frame is sent.
func (c *connection) closeWith(code int, reason string) {
	select {
	case c.send <- outbound{closeCode: code, reason: reason}:
	case <-c.ctx.Done():
	}
}

// shutdown cancels every operation and closes the socket once.
func (c *connection) shutdown() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		for id, cancel := range c.ops {
			cancel()
			delete(c.ops, id)
		}
		c.mu.Unlock()
		_ = c.ws.Close()
	})
}
