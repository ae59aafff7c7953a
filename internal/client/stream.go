package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatgraph/internal/ws"
)

const (
	handshakeTimeout = 10 * time.Second
	eventBuffer      = 16
)

// Event is one result pushed for a subscription.
type Event struct {
	Data   json.RawMessage
	Errors Errors
}

// Stream is a graphql-transport-ws connection carrying any number of
// subscriptions.
type Stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	nextID int
	subs   map[string]*subscription
	err    error

	done chan struct{}
}

// ErrStreamClosed is reported by Err after Close.
var ErrStreamClosed = errors.New("stream closed")

// Dial opens the subscription websocket and completes connection_init.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{ws.ProtocolTransportWS},
	}
	conn, _, err := dialer.DialContext(ctx, c.subscriptionURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.subscriptionURL(), err)
	}

	init := ws.Message{Type: ws.MsgConnectionInit}
	if c.token != "" {
		init.Payload, _ = json.Marshal(map[string]string{"authorization": "Bearer " + c.token})
	}
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send connection_init: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	var ack ws.Message
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		var ce *websocket.CloseError
		if errors.As(err, &ce) && (ce.Code == ws.CloseForbidden || ce.Code == ws.CloseUnauthorized) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("await connection_ack: %w", err)
	}
	if ack.Type != ws.MsgConnectionAck {
		conn.Close()
		return nil, fmt.Errorf("await connection_ack: got %q", ack.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	s := &Stream{
		conn: conn,
		subs: make(map[string]*subscription),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Subscribe starts an operation. The returned channel is closed when the
// server completes the operation, cancel is called or the stream ends.
func (s *Stream) Subscribe(query string, vars map[string]any) (<-chan Event, func(), error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, nil, err
	}
	s.nextID++
	id := strconv.Itoa(s.nextID)
	sub := newSubscription()
	s.subs[id] = sub
	s.mu.Unlock()

	payload, err := json.Marshal(ws.OperationPayload{Query: query, Variables: vars})
	if err != nil {
		s.drop(id)
		return nil, nil, fmt.Errorf("encode subscription: %w", err)
	}
	if err := s.write(ws.Message{ID: id, Type: ws.MsgSubscribe, Payload: payload}); err != nil {
		s.drop(id)
		return nil, nil, fmt.Errorf("send subscribe: %w", err)
	}

	cancel := func() {
		if s.drop(id) {
			_ = s.write(ws.Message{ID: id, Type: ws.MsgComplete})
		}
	}
	return sub.ch, cancel, nil
}

// Done is closed once the connection is gone.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err reports why the stream ended.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	s.fail(ErrStreamClosed)

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Stream) write(msg ws.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return s.conn.WriteJSON(msg)
}

// drop forgets a subscription and closes its channel. It reports whether the
// subscription was still active.
func (s *Stream) drop(id string) bool {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if ok {
		sub.close()
	}
	return ok
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		var msg ws.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.fail(err)
			return
		}

		switch msg.Type {
		case ws.MsgNext:
			var res response
			if err := json.Unmarshal(msg.Payload, &res); err != nil {
				res = response{Errors: Errors{{Message: "malformed payload: " + err.Error()}}}
			}
			s.deliver(msg.ID, Event{Data: res.Data, Errors: res.Errors})

		case ws.MsgError:
			var errs Errors
			if err := json.Unmarshal(msg.Payload, &errs); err != nil {
				errs = Errors{{Message: string(msg.Payload)}}
			}
			s.deliver(msg.ID, Event{Errors: errs})
			s.drop(msg.ID)

		case ws.MsgComplete:
			s.drop(msg.ID)

		case ws.MsgPing:
			_ = s.write(ws.Message{Type: ws.MsgPong, Payload: msg.Payload})
		}
	}
}

// deliver blocks while the subscriber's buffer is full, until the
// subscription is cancelled.
func (s *Stream) deliver(id string, ev Event) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	s.mu.Unlock()
	if ok {
		sub.send(ev)
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	subs := s.subs
	s.subs = map[string]*subscription{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

type subscription struct {
	ch   chan Event
	quit chan struct{}
	once sync.Once

	mu     sync.Mutex
	closed bool
}

func newSubscription() *subscription {
	return &subscription{
		ch:   make(chan Event, eventBuffer),
		quit: make(chan struct{}),
	}
}

func (sub *subscription) send(ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- ev:
	case <-sub.quit:
	}
}

// close unblocks a pending send before closing ch, so ch is never closed
// under a sender.
func (sub *subscription) close() {
	sub.once.Do(func() {
		close(sub.quit)
		sub.mu.Lock()
		sub.closed = true
		close(sub.ch)
		sub.mu.Unlock()
	})
}
