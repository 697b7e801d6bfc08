// Package server orchestrates the message lifecycle: create, list,
// unread-count, mark-seen, and clear, each backed by the store and announced
// to connected clients through the hub.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"

	"duochat/internal/store"
)

// ErrUnknownUser marks a request naming an identity outside the configured
// pair.
var ErrUnknownUser = errors.New("unknown chat user")

// ChatService owns the semantics of the message log for the configured
// two-identity chat. Messages live in one partition per sender, merged and
// sorted on read.
type ChatService struct {
	store  *store.Store
	notify Notifier
	userA  string
	userB  string
	log    *slog.Logger
}

// NewChatService builds a ChatService for the identity pair (userA, userB).
func NewChatService(st *store.Store, notify Notifier, userA, userB string, log *slog.Logger) *ChatService {
	return &ChatService{store: st, notify: notify, userA: userA, userB: userB, log: log}
}

// CreateMessageInput is the payload accepted by Create. Recipient is
// optional; absent, it derives as the other party. The content payload is
// opaque to the server.
type CreateMessageInput struct {
	Sender     string          `json:"sender" validate:"required"`
	Recipient  string          `json:"recipient"`
	Content    json.RawMessage `json:"content" validate:"required"`
	TimeString string          `json:"timeString"`
	ReplyToID  *string         `json:"reply_to_id"`
}

func (s *ChatService) partitionFor(user string) string {
	return user + "_messages"
}

func (s *ChatService) counterpart(user string) string {
	if user == s.userA {
		return s.userB
	}
	return s.userA
}

func (s *ChatService) knownUser(user string) bool {
	return user == s.userA || user == s.userB
}

// Create persists a new message and broadcasts it as a new_message event.
// The returned record carries the store-assigned id. No broadcast happens if
// persistence fails.
func (s *ChatService) Create(in CreateMessageInput) (store.Message, error) {
	if !s.knownUser(in.Sender) {
		return store.Message{}, fmt.Errorf("%w: %q", ErrUnknownUser, in.Sender)
	}

	recipient := in.Recipient
	if recipient == "" {
		recipient = s.counterpart(in.Sender)
	}

	msg := store.Message{
		Sender:     in.Sender,
		Recipient:  recipient,
		Content:    in.Content,
		TimeString: in.TimeString,
		CreatedAt:  time.Now().UTC(),
		IsSeen:     false,
		ReplyToID:  in.ReplyToID,
	}

	saved, err := s.store.Append(s.partitionFor(in.Sender), msg)
	if err != nil {
		return store.Message{}, fmt.Errorf("creating message: %w", err)
	}

	s.broadcastEvent(EventNewMessage, saved)
	return saved, nil
}

// List merges both partitions into one ascending timeline. When a message's
// reply reference resolves, the result carries a shallow preview of the
// replied-to message; a dangling reference renders without it.
func (s *ChatService) List() ([]store.Message, error) {
	messages := make([]store.Message, 0)
	for _, user := range []string{s.userA, s.userB} {
		partition, err := s.store.ListOrdered(s.partitionFor(user))
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}
		messages = append(messages, partition...)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	byID := lo.KeyBy(messages, func(m store.Message) string { return m.ID })
	for i := range messages {
		if ref := messages[i].ReplyToID; ref != nil {
			if target, ok := byID[*ref]; ok {
				messages[i].ReplyTo = &store.ReplyPreview{Sender: target.Sender, Content: target.Content}
			}
		}
	}
	return messages, nil
}

// UnreadCount counts the viewer's unseen messages, which by construction all
// live in the counterpart's partition.
func (s *ChatService) UnreadCount(viewer string) (int, error) {
	if !s.knownUser(viewer) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUser, viewer)
	}
	unseen, err := s.store.ListUnseen(s.partitionFor(s.counterpart(viewer)))
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return len(unseen), nil
}

// MarkSeen flips every message from the viewer's counterpart to seen as one
// atomic batch and broadcasts the updated records. A second call with
// nothing left to mark returns an empty set and broadcasts nothing.
func (s *ChatService) MarkSeen(viewer string) ([]store.Message, error) {
	if !s.knownUser(viewer) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, viewer)
	}
	updated, err := s.store.MarkAllSeen(s.partitionFor(s.counterpart(viewer)), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("marking messages seen: %w", err)
	}
	if len(updated) > 0 {
		s.broadcastEvent(EventMessagesSeen, updated)
	}
	if updated == nil {
		updated = make([]store.Message, 0)
	}
	return updated, nil
}

// Clear removes every message from both partitions and broadcasts
// chat_cleared.
func (s *ChatService) Clear() error {
	for _, user := range []string{s.userA, s.userB} {
		if err := s.store.RemoveAll(s.partitionFor(user)); err != nil {
			return fmt.Errorf("clearing chat: %w", err)
		}
	}
	s.broadcastEvent(EventChatCleared, nil)
	return nil
}

func (s *ChatService) broadcastEvent(typ string, payload any) {
	if data, ok := encodeEvent(s.log, typ, payload); ok {
		s.notify.BroadcastAll(data)
	}
}
