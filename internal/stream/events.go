package stream

import (
	"encoding/json"
	"fmt"

	"github.com/voxline/inboxd/internal/bus"
	"github.com/voxline/inboxd/internal/store"
)

// Envelope is the wire format of every push event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage is the payload of a new_message event. MessageID is the
// idempotence key for unread accounting.
type NewMessage struct {
	InstanceID string `json:"instanceId"`
	ChatID     string `json:"chatId"`
	MessageID  string `json:"messageId"`
	Content    string `json:"content"`
	FromMe     bool   `json:"fromMe"`
	Timestamp  int64  `json:"timestamp"`
}

// Key returns the event's conversation identity.
func (p *NewMessage) Key() store.ConversationKey {
	return store.ConversationKey{InstanceID: p.InstanceID, ChatID: p.ChatID}
}

// DraftUpdated is the payload of a draft_updated event, pushed when
// another device saved a draft for this user.
type DraftUpdated struct {
	InstanceID       string `json:"instanceId"`
	ChatID           string `json:"chatId"`
	Content          string `json:"content"`
	ReplyToMessageID string `json:"replyToMessageId"`
	UpdatedAt        int64  `json:"updatedAt"`
}

// Key returns the event's conversation identity.
func (p *DraftUpdated) Key() store.ConversationKey {
	return store.ConversationKey{InstanceID: p.InstanceID, ChatID: p.ChatID}
}

// DraftDeleted is the payload of a draft_deleted event.
type DraftDeleted struct {
	InstanceID string `json:"instanceId"`
	ChatID     string `json:"chatId"`
}

// Key returns the event's conversation identity.
func (p *DraftDeleted) Key() store.ConversationKey {
	return store.ConversationKey{InstanceID: p.InstanceID, ChatID: p.ChatID}
}

// WaitingReply is the payload of waiting_reply_added and
// waiting_reply_removed events; the two types share a shape.
type WaitingReply struct {
	InstanceID string `json:"instanceId"`
	ChatID     string `json:"chatId"`
	MessageID  string `json:"messageId"`
}

// Key returns the event's conversation identity.
func (p *WaitingReply) Key() store.ConversationKey {
	return store.ConversationKey{InstanceID: p.InstanceID, ChatID: p.ChatID}
}

// decode turns a raw envelope into its bus kind and typed payload.
// Unknown types and malformed payloads return an error; the caller
// logs and skips them without disturbing the stream.
func decode(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case "new_message":
		var p NewMessage
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode new_message: %w", err)
		}
		return bus.KindNewMessage, &p, nil
	case "draft_updated":
		var p DraftUpdated
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode draft_updated: %w", err)
		}
		return bus.KindDraftUpdated, &p, nil
	case "draft_deleted":
		var p DraftDeleted
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode draft_deleted: %w", err)
		}
		return bus.KindDraftDeleted, &p, nil
	case "waiting_reply_added":
		var p WaitingReply
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode waiting_reply_added: %w", err)
		}
		return bus.KindWaitingReplyAdded, &p, nil
	case "waiting_reply_removed":
		var p WaitingReply
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode waiting_reply_removed: %w", err)
		}
		return bus.KindWaitingReplyRemoved, &p, nil
	default:
		return "", nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
