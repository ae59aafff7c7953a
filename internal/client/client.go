// Package client talks to the chat GraphQL API: queries and mutations over
// HTTP, subscriptions over a graphql-transport-ws websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error is one entry of a GraphQL errors array.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Code returns extensions.code, or "" when the server did not set one.
func (e Error) Code() string {
	code, _ := e.Extensions["code"].(string)
	return code
}

func (e Error) Error() string {
	if code := e.Code(); code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, code)
	}
	return e.Message
}

// Errors is returned when a response carries GraphQL errors.
type Errors []Error

func (es Errors) Error() string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors Errors          `json:"errors"`
}

type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// New returns a client for the GraphQL endpoint, e.g.
// "http://localhost:4000/graphql". An empty token sends anonymous requests.
func New(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Do runs a query or mutation and decodes data into out. out may be nil.
func (c *Client) Do(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: unexpected status %s", c.endpoint, resp.Status)
	}

	var res response
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(res.Errors) > 0 {
		return res.Errors
	}
	if out == nil || len(res.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

var ErrUnauthorized = errors.New("unauthorized")

// subscriptionURL maps the HTTP endpoint onto the websocket one.
func (c *Client) subscriptionURL() string {
	switch {
	case strings.HasPrefix(c.endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(c.endpoint, "https://")
	case strings.HasPrefix(c.endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(c.endpoint, "http://")
	default:
		return c.endpoint
	}
}
