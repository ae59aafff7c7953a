package ws

import (
	"encoding/json"
	"strings"
)

// Subprotocols understood by the subscription endpoint, preferred first.
const (
	ProtocolTransportWS = "graphql-transport-ws"
	ProtocolGraphQLWS   = "graphql-ws"
)

// Message types shared by both subprotocols.
const (
	MsgConnectionInit = "connection_init"
	MsgConnectionAck  = "connection_ack"
	MsgError          = "error"
	MsgComplete       = "complete"
)

// graphql-transport-ws only.
const (
	MsgPing      = "ping"
	MsgPong      = "pong"
	MsgSubscribe = "subscribe"
	MsgNext      = "next"
)

// graphql-ws (subscriptions-transport-ws) only.
const (
	MsgStart               = "start"
	MsgStop                = "stop"
	MsgData                = "data"
	MsgKeepAlive           = "ka"
	MsgConnectionError     = "connection_error"
	MsgConnectionTerminate = "connection_terminate"
)

// Close codes defined by graphql-transport-ws.
const (
	CloseBadRequest          = 4400
	CloseUnauthorized        = 4401
	CloseForbidden           = 4403
	CloseInitTimeout         = 4408
	CloseSubscriberExists    = 4409
	CloseTooManyInitRequests = 4429
)

// Message is one frame of either subprotocol.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OperationPayload is the payload of subscribe/start frames.
type OperationPayload struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// dialect captures where the two subprotocols differ.
type dialect struct {
	name      string
	subscribe string
	next      string
	stop      string
	legacy    bool
}

var (
	transportWS = dialect{name: ProtocolTransportWS, subscribe: MsgSubscribe, next: MsgNext, stop: MsgComplete}
	graphqlWS   = dialect{name: ProtocolGraphQLWS, subscribe: MsgStart, next: MsgData, stop: MsgStop, legacy: true}
)

func dialectFor(subprotocol string) dialect {
	if subprotocol == ProtocolGraphQLWS {
		return graphqlWS
	}
	return transportWS
}

// tokenFromInit looks for a bearer token in a connection_init payload.
func tokenFromInit(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var params map[string]interface{}
	if err := json.Unmarshal(payload, &params); err != nil {
		return ""
	}
	for _, key := range []string{"authorization", "Authorization", "token", "authToken"} {
		if v, ok := params[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for _, key := range []string{"authorization", "Authorization"} {
			if v, ok := headers[key].(string); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return ""
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal([]map[string]string{{"message": err.Error()}})
	}
	return b
}
