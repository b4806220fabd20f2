package store

import (
	"fmt"
	"strings"
)

// ConversationKey is the sole stable identity of a conversation:
// the instance (account) it lives on plus the chat identifier.
type ConversationKey struct {
	InstanceID string
	ChatID     string
}

// String renders the key in the "instanceId:chatId" form used for
// durable serialization.
func (k ConversationKey) String() string {
	return k.InstanceID + ":" + k.ChatID
}

// ParseKey parses the "instanceId:chatId" form. The chat id may
// itself contain colons, so only the first separator counts.
func ParseKey(s string) (ConversationKey, error) {
	inst, chat, ok := strings.Cut(s, ":")
	if !ok || inst == "" || chat == "" {
		return ConversationKey{}, fmt.Errorf("malformed conversation key %q", s)
	}
	return ConversationKey{InstanceID: inst, ChatID: chat}, nil
}

// ActivityKind discriminates what produced a conversation's latest
// activity.
type ActivityKind string

const (
	ActivityMessage ActivityKind = "message"
	ActivityDraft   ActivityKind = "draft"
)

// Activity is the "latest thing that happened" summary a
// conversation row is ranked and previewed by.
type Activity struct {
	Timestamp int64
	Preview   string
	FromMe    bool
	Kind      ActivityKind
}

// Conversation is the read-only view of one conversation's state.
// LastActivity is the draft projection when a non-empty draft exists,
// otherwise the last message.
type Conversation struct {
	Key             ConversationKey
	Title           string
	Avatar          string
	UnreadCount     int
	IsPinned        bool
	IsFavorite      bool
	IsMuted         bool
	IsBlocked       bool
	IsGroup         bool
	LastActivity    Activity
	HasWaitingReply bool
}

// SnapshotRow is one conversation row from a backend snapshot fetch.
// Pointer fields encode presence: a nil pointer means the field was
// absent from a partial snapshot and must not clear local state.
// Empty strings likewise leave the current value untouched.
type SnapshotRow struct {
	InstanceID           string `json:"instanceId"`
	ChatID               string `json:"chatId"`
	DisplayName          string `json:"displayName"`
	Avatar               string `json:"avatar"`
	IsGroup              *bool  `json:"isGroup"`
	UnreadCount          *int   `json:"unreadCount"`
	IsPinned             *bool  `json:"isPinned"`
	IsFavorite           *bool  `json:"isFavorite"`
	LastMessageContent   string `json:"lastMessageContent"`
	LastMessageFromMe    *bool  `json:"lastMessageFromMe"`
	LastMessageType      string `json:"lastMessageType"`
	LastMessageTimestamp int64  `json:"lastMessageTimestamp"`
}

// Key returns the row's conversation identity.
func (r *SnapshotRow) Key() ConversationKey {
	return ConversationKey{InstanceID: r.InstanceID, ChatID: r.ChatID}
}

// MessageEvent is a normalized new_message push event ready for
// ingestion. MessageID is the idempotence key.
type MessageEvent struct {
	Key       ConversationKey
	MessageID string
	Content   string
	FromMe    bool
	Timestamp int64
}

// groupChatSuffix marks group conversations; group-ness is derived
// from the chat id shape, never stored by the backend.
const groupChatSuffix = "@g.us"

// IsGroupChatID reports whether a raw chat id addresses a group.
func IsGroupChatID(chatID string) bool {
	return strings.HasSuffix(chatID, groupChatSuffix)
}
