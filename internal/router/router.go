// Package router implements the server message router: it validates and
// persists incoming send/delete/reaction events, authorizes destructive
// actions, and fans the resulting server events out to every participant
// of the affected conversation, including the originating sender.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/converse/messaging/internal/guard"
	"github.com/converse/messaging/internal/metrics"
	"github.com/converse/messaging/internal/protocol"
	"github.com/converse/messaging/internal/store"
)

// Routing errors. ErrValidation covers malformed ids and empty content;
// ErrUnauthorized covers deletes by non-senders. Both map onto distinct
// client-facing error codes.
var (
	ErrValidation   = errors.New("router: validation failed")
	ErrUnauthorized = errors.New("router: not authorized")
	ErrNotFound     = errors.New("router: not found")
)

// Persister is the slice of the storage layer the router needs.
// *store.Store satisfies it; tests substitute an in-memory fake.
type Persister interface {
	CreateGroupMessage(ctx context.Context, roomID, senderID, senderName, content string) (protocol.Message, error)
	CreateDirectMessage(ctx context.Context, senderID, recipientID, senderName, content string) (protocol.Message, error)
	DeleteMessage(ctx context.Context, kind string, id int64, userID string) (protocol.Message, error)
	ToggleReaction(ctx context.Context, kind string, messageID int64, userID, emoji string) (bool, error)
	ListReactions(ctx context.Context, kind string, messageID int64) ([]protocol.Reaction, error)
	GetMessage(ctx context.Context, kind string, id int64) (protocol.Message, error)
	RoomExists(ctx context.Context, roomID string) (bool, error)
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
}

// Publisher delivers an encoded server event to a set of users.
// *messaging.NATSClient satisfies it.
type Publisher interface {
	PublishToUsers(userIDs []string, data []byte) error
}

// Router wires persistence and fan-out together. All methods are safe for
// concurrent use; persistence per message is serialized by the database.
type Router struct {
	store Persister
	bus   Publisher
}

// New creates a Router over the given persister and publisher.
func New(p Persister, b Publisher) *Router {
	return &Router{store: p, bus: b}
}

// validateContent combines the protocol's size/emptiness rules with the
// flood guard. Both failure modes surface as ErrValidation.
func validateContent(content string) error {
	if err := protocol.ValidateContent(content); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if res := guard.Check(content); res.Blocked {
		return fmt.Errorf("%w: content rejected (%s)", ErrValidation, res.Reason)
	}
	return nil
}

// SendGroup validates, persists, and fans out a room message. The returned
// message carries the server-assigned id; the tempID is echoed inside the
// message:new event so the sending client can reconcile its optimistic
// entry. Every room member receives the event, the sender included.
func (r *Router) SendGroup(ctx context.Context, senderID, senderName, roomID, content, tempID string) (protocol.Message, error) {
	if senderID == "" || roomID == "" {
		return protocol.Message{}, fmt.Errorf("%w: missing sender or room id", ErrValidation)
	}
	if err := validateContent(content); err != nil {
		return protocol.Message{}, err
	}

	exists, err := r.store.RoomExists(ctx, roomID)
	if err != nil {
		return protocol.Message{}, err
	}
	if !exists {
		return protocol.Message{}, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}

	msg, err := r.store.CreateGroupMessage(ctx, roomID, senderID, senderName, content)
	if err != nil {
		return protocol.Message{}, err
	}
	metrics.MessagesTotal.WithLabelValues(protocol.KindGroup).Inc()

	members, err := r.store.RoomMembers(ctx, roomID)
	if err != nil {
		return protocol.Message{}, err
	}

	msg.TempID = tempID
	r.fanOutMessage(msg, members)
	return msg, nil
}

// SendDirect validates, persists, and fans out a direct message to both
// participants.
func (r *Router) SendDirect(ctx context.Context, senderID, senderName, recipientID, content, tempID string) (protocol.Message, error) {
	if senderID == "" || recipientID == "" {
		return protocol.Message{}, fmt.Errorf("%w: missing sender or recipient id", ErrValidation)
	}
	if senderID == recipientID {
		return protocol.Message{}, fmt.Errorf("%w: sender and recipient are the same user", ErrValidation)
	}
	if err := validateContent(content); err != nil {
		return protocol.Message{}, err
	}

	msg, err := r.store.CreateDirectMessage(ctx, senderID, recipientID, senderName, content)
	if err != nil {
		return protocol.Message{}, err
	}
	metrics.MessagesTotal.WithLabelValues(protocol.KindDirect).Inc()

	msg.TempID = tempID
	r.fanOutMessage(msg, []string{senderID, recipientID})
	return msg, nil
}

// Delete removes a message on behalf of userID. Only the original sender
// is authorized; the delete cascades to the message's reactions, and every
// participant is notified so the message disappears from all stores.
func (r *Router) Delete(ctx context.Context, userID, kind string, messageID int64) error {
	if userID == "" || messageID <= 0 {
		metrics.DeletesTotal.WithLabelValues("denied").Inc()
		return fmt.Errorf("%w: missing user or message id", ErrValidation)
	}

	msg, err := r.store.DeleteMessage(ctx, kind, messageID, userID)
	if errors.Is(err, store.ErrNotSender) {
		metrics.DeletesTotal.WithLabelValues("denied").Inc()
		return fmt.Errorf("%w: only the sender may delete a message", ErrUnauthorized)
	}
	if errors.Is(err, store.ErrNotFound) {
		metrics.DeletesTotal.WithLabelValues("not_found").Inc()
		return fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}
	if err != nil {
		return err
	}
	metrics.DeletesTotal.WithLabelValues("ok").Inc()

	participants, err := r.participants(ctx, msg)
	if err != nil {
		return err
	}

	data, err := protocol.NewServerEvent(protocol.TypeMessageDeleted, protocol.MessageDeletedEvent{
		MessageID:   messageID,
		MessageKind: kind,
	})
	if err != nil {
		return err
	}
	r.publish(participants, data)
	return nil
}

// ToggleReaction flips a (user, message, emoji) reaction and fans out the
// message's full post-toggle reaction set. The pushed set is authoritative:
// clients replace their optimistic guess with it wholesale.
func (r *Router) ToggleReaction(ctx context.Context, userID, emoji, kind string, messageID int64) ([]protocol.Reaction, error) {
	if userID == "" || emoji == "" || messageID <= 0 {
		return nil, fmt.Errorf("%w: missing user, emoji, or message id", ErrValidation)
	}

	added, err := r.store.ToggleReaction(ctx, kind, messageID, userID, emoji)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}
	if err != nil {
		return nil, err
	}

	outcome := "removed"
	if added {
		outcome = "added"
	}
	metrics.ReactionsTotal.WithLabelValues(outcome).Inc()

	set, err := r.store.ListReactions(ctx, kind, messageID)
	if err != nil {
		return nil, err
	}

	msg, err := r.store.GetMessage(ctx, kind, messageID)
	if err != nil {
		return nil, err
	}
	participants, err := r.participants(ctx, msg)
	if err != nil {
		return nil, err
	}

	data, err := protocol.NewServerEvent(protocol.TypeReactionUpdated, protocol.ReactionUpdatedEvent{
		MessageID:   messageID,
		MessageKind: kind,
		Reactions:   set,
	})
	if err != nil {
		return nil, err
	}
	r.publish(participants, data)
	return set, nil
}

// Typing relays a typing start or stop to the other participants of the
// conversation. Nothing is persisted. For direct conversations the
// conversationID names the peer; the relayed event carries the sender's id
// as the conversation so the receiver attributes it correctly.
func (r *Router) Typing(ctx context.Context, senderID, senderName, conversationID string, isGroup, start bool) error {
	if conversationID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrValidation)
	}

	evtType := protocol.TypeUserStoppedTyping
	if start {
		evtType = protocol.TypeUserTyping
	}

	var (
		targets []string
		err     error
		relayID string
	)
	if isGroup {
		targets, err = r.store.RoomMembers(ctx, conversationID)
		if err != nil {
			return err
		}
		// Don't relay the indicator back to the typist.
		targets = without(targets, senderID)
		relayID = conversationID
	} else {
		targets = []string{conversationID}
		relayID = senderID
	}

	data, err := protocol.NewServerEvent(evtType, protocol.UserTypingEvent{
		ConversationID: relayID,
		Name:           senderName,
	})
	if err != nil {
		return err
	}

	metrics.TypingEventsTotal.Inc()
	r.publish(targets, data)
	return nil
}

// fanOutMessage publishes a message:new event to the given participants.
func (r *Router) fanOutMessage(msg protocol.Message, participants []string) {
	data, err := protocol.NewServerEvent(protocol.TypeMessageNew, protocol.MessageNewEvent{
		Message: msg,
	})
	if err != nil {
		log.Printf("[router] failed to encode message:new id=%d: %v", msg.ID, err)
		return
	}
	r.publish(participants, data)
}

// publish fans an encoded event out to participants and records latency.
// Fan-out failures are logged, not propagated: the message is already
// persisted, and clients recover missed events from the history endpoints.
func (r *Router) publish(participants []string, data []byte) {
	start := time.Now()
	if err := r.bus.PublishToUsers(participants, data); err != nil {
		log.Printf("[router] fan-out publish failed: %v", err)
	}
	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
	metrics.FanoutRecipients.Observe(float64(len(participants)))
}

// participants resolves the user set that must see events for a message.
func (r *Router) participants(ctx context.Context, msg protocol.Message) ([]string, error) {
	if msg.Kind == protocol.KindGroup {
		return r.store.RoomMembers(ctx, msg.RoomID)
	}
	return []string{msg.SenderID, msg.RecipientID}, nil
}

// without returns ids with the given id removed.
func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
