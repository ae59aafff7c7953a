package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"chatgraph/internal/client"
	"chatgraph/internal/clientcache"
)

const conversationFields = `
	id
	createdAt
	updatedAt
	participants { id hasSeenLatestMessage user { id username } }
	latestMessage { id body conversationId createdAt updatedAt sender { id username } }
`

const messageFields = `id body conversationId createdAt updatedAt sender { id username }`

const (
	meQuery            = `query { me { id } }`
	conversationsQuery = `query { conversations {` + conversationFields + `} }`
	messagesQuery      = `query($id: ID!) { messages(conversationId: $id) {` + messageFields + `} }`
	markReadMutation   = `mutation($user: ID!, $id: ID!) { markConversationAsRead(userId: $user, conversationId: $id) }`

	createdSubscription = `subscription { conversationCreated {` + conversationFields + `} }`
	updatedSubscription = `subscription { conversationUpdated { addedUserIds removedUserIds conversation {` + conversationFields + `} } }`
	deletedSubscription = `subscription { conversationDeleted { id } }`
	messageSubscription = `subscription($id: ID!) { messageSent(conversationId: $id) {` + messageFields + `} }`
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "follow conversations and print the client cache on every change",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", EnvVars: []string{"CHATGRAPH_URL"}, Value: "http://localhost:4000/graphql"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"CHATGRAPH_TOKEN"}, Required: true},
			&cli.StringFlag{Name: "conversation", Usage: "open this conversation and follow its messages"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, client.New(c.String("url"), c.String("token")), c.String("conversation"), c.App.Writer)
		},
	}
}

type subscriptions struct {
	created, updated, deleted, messages <-chan client.Event
}

func watch(ctx context.Context, api *client.Client, open string, out io.Writer) error {
	var me struct {
		Me *struct {
			ID string `json:"id"`
		} `json:"me"`
	}
	if err := api.Do(ctx, meQuery, nil, &me); err != nil {
		return fmt.Errorf("me: %w", err)
	}
	if me.Me == nil {
		return cli.Exit("token was not accepted", 1)
	}
	state := clientcache.NewState(me.Me.ID)

	stream, err := api.Dial(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	// Subscribed before the initial load so no event falls between the two.
	subs, err := subscribe(stream, open)
	if err != nil {
		return err
	}

	var loaded struct {
		Conversations []clientcache.Conversation `json:"conversations"`
	}
	if err := api.Do(ctx, conversationsQuery, nil, &loaded); err != nil {
		return fmt.Errorf("conversations: %w", err)
	}
	state = clientcache.Reduce(state, clientcache.ConversationsLoaded{Conversations: loaded.Conversations})

	if open != "" {
		var msgs struct {
			Messages []clientcache.Message `json:"messages"`
		}
		if err := api.Do(ctx, messagesQuery, map[string]any{"id": open}, &msgs); err != nil {
			return fmt.Errorf("messages: %w", err)
		}
		state = clientcache.Reduce(state, clientcache.MessagesLoaded{ConversationID: open, Messages: msgs.Messages})
		state = clientcache.Reduce(state, clientcache.ConversationOpened{ID: open})
		state = markRead(ctx, api, state, out)
	}
	render(out, state)

	for {
		var ev clientcache.Event
		select {
		case <-ctx.Done():
			return nil
		case <-stream.Done():
			return fmt.Errorf("subscription stream ended: %w", stream.Err())
		case e, ok := <-subs.created:
			if !ok {
				return errors.New("conversationCreated ended")
			}
			var data struct {
				ConversationCreated clientcache.Conversation `json:"conversationCreated"`
			}
			if decode(out, e, &data) {
				ev = clientcache.ConversationCreated{Conversation: data.ConversationCreated}
			}
		case e, ok := <-subs.updated:
			if !ok {
				return errors.New("conversationUpdated ended")
			}
			var data struct {
				ConversationUpdated struct {
					Conversation   clientcache.Conversation `json:"conversation"`
					AddedUserIDs   []string                 `json:"addedUserIds"`
					RemovedUserIDs []string                 `json:"removedUserIds"`
				} `json:"conversationUpdated"`
			}
			if decode(out, e, &data) {
				u := data.ConversationUpdated
				ev = clientcache.ConversationUpdated{Conversation: u.Conversation, AddedUserIDs: u.AddedUserIDs, RemovedUserIDs: u.RemovedUserIDs}
			}
		case e, ok := <-subs.deleted:
			if !ok {
				return errors.New("conversationDeleted ended")
			}
			var data struct {
				ConversationDeleted struct {
					ID string `json:"id"`
				} `json:"conversationDeleted"`
			}
			if decode(out, e, &data) {
				ev = clientcache.ConversationDeleted{ID: data.ConversationDeleted.ID}
			}
		case e, ok := <-subs.messages:
			if !ok {
				// Removed from the open conversation or it was deleted.
				subs.messages = nil
				continue
			}
			var data struct {
				MessageSent clientcache.Message `json:"messageSent"`
			}
			if decode(out, e, &data) {
				ev = clientcache.MessageSent{Message: data.MessageSent}
			}
		}
		if ev == nil {
			continue
		}

		state = markRead(ctx, api, clientcache.Reduce(state, ev), out)
		render(out, state)
	}
}

func subscribe(stream *client.Stream, open string) (subscriptions, error) {
	var subs subscriptions
	var err error
	if subs.created, _, err = stream.Subscribe(createdSubscription, nil); err != nil {
		return subs, err
	}
	if subs.updated, _, err = stream.Subscribe(updatedSubscription, nil); err != nil {
		return subs, err
	}
	if subs.deleted, _, err = stream.Subscribe(deletedSubscription, nil); err != nil {
		return subs, err
	}
	if open != "" {
		if subs.messages, _, err = stream.Subscribe(messageSubscription, map[string]any{"id": open}); err != nil {
			return subs, err
		}
	}
	return subs, nil
}

// markRead applies the read marker locally first, then tells the server.
func markRead(ctx context.Context, api *client.Client, s clientcache.State, out io.Writer) clientcache.State {
	if s.OpenConversationID == "" || !s.Unread(s.OpenConversationID) {
		return s
	}
	s = clientcache.Reduce(s, clientcache.MarkedAsRead{ConversationID: s.OpenConversationID})
	vars := map[string]any{"user": s.UserID, "id": s.OpenConversationID}
	if err := api.Do(ctx, markReadMutation, vars, nil); err != nil {
		fmt.Fprintf(out, "! mark as read: %v\n", err)
	}
	return s
}

func decode(out io.Writer, e client.Event, into any) bool {
	if len(e.Errors) > 0 {
		fmt.Fprintf(out, "! %v\n", e.Errors)
		return false
	}
	if err := json.Unmarshal(e.Data, into); err != nil {
		fmt.Fprintf(out, "! decode event: %v\n", err)
		return false
	}
	return true
}

func render(out io.Writer, s clientcache.State) {
	fmt.Fprintln(out, strings.Repeat("-", 60))
	for _, c := range s.SortedConversations() {
		marker := " "
		if s.Unread(c.ID) {
			marker = "*"
		}
		if c.ID == s.OpenConversationID {
			marker += ">"
		} else {
			marker += " "
		}

		var names []string
		for _, p := range c.Participants {
			if p.User.ID != s.UserID {
				names = append(names, displayName(p.User))
			}
		}
		latest := ""
		if c.LatestMessage != nil {
			latest = displayName(c.LatestMessage.Sender) + ": " + c.LatestMessage.Body
		}
		fmt.Fprintf(out, "%s %s  %-30s %s\n", marker, c.UpdatedAt.Local().Format("Jan 02 15:04"), strings.Join(names, ", "), latest)
	}

	if s.OpenConversationID == "" {
		return
	}
	msgs := s.Messages[s.OpenConversationID]
	fmt.Fprintln(out)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		fmt.Fprintf(out, "  [%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), displayName(m.Sender), m.Body)
	}
}

func displayName(u clientcache.User) string {
	if u.Username != nil && *u.Username != "" {
		return *u.Username
	}
	return u.ID
}
