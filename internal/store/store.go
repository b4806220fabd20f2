package store

import (
	"sync"

	"go.uber.org/zap"
)

// Store is the canonical in-memory conversation state, keyed by
// ConversationKey. It is rebuilt from backend snapshots on every cold
// start; nothing here is persisted. All merge operations are
// idempotent upserts so snapshot rows and push events can arrive in
// any order, twice, or across reconnects without corrupting state.
//
// The Store owns conversation and waiting-reply state exclusively.
// Draft content lives in the draft manager; the Store only carries
// the draft projection it feeds into ranking.
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger

	convs map[ConversationKey]*record

	// seen de-duplicates message events per conversation so a
	// replayed new_message never double-counts unread.
	seen map[ConversationKey]map[string]struct{}

	// readStateAt records when the user last toggled read state for
	// a key. A message event increments unread only if its own
	// timestamp is later, so an in-flight message is not swallowed
	// by the user having just opened the chat.
	readStateAt map[ConversationKey]int64

	// markers holds outstanding waiting-reply message ids per key.
	markers map[ConversationKey]map[string]struct{}

	active    ConversationKey
	hasActive bool
}

type record struct {
	conv  Conversation // conv.LastActivity holds the last *message* activity
	draft *Activity    // non-nil when a non-empty draft shadows it
}

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:      logger,
		convs:       make(map[ConversationKey]*record),
		seen:        make(map[ConversationKey]map[string]struct{}),
		readStateAt: make(map[ConversationKey]int64),
		markers:     make(map[ConversationKey]map[string]struct{}),
	}
}

// ensure returns the record for key, creating it on first sight.
func (s *Store) ensure(key ConversationKey) *record {
	rec, ok := s.convs[key]
	if !ok {
		rec = &record{conv: Conversation{
			Key:     key,
			IsGroup: IsGroupChatID(key.ChatID),
		}}
		s.convs[key] = rec
	}
	return rec
}

// ApplySnapshot merges a full or partial snapshot. Fields present in
// a row overwrite local state (the server is authoritative for them);
// absent fields are left untouched. Applying the same snapshot twice
// yields the same state.
func (s *Store) ApplySnapshot(rows []SnapshotRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range rows {
		row := &rows[i]
		if row.InstanceID == "" || row.ChatID == "" {
			s.logger.Warn("snapshot row missing identity, skipped")
			continue
		}
		rec := s.ensure(row.Key())

		if row.DisplayName != "" {
			rec.conv.Title = row.DisplayName
		}
		if row.Avatar != "" {
			rec.conv.Avatar = row.Avatar
		}
		if row.IsGroup != nil {
			rec.conv.IsGroup = *row.IsGroup
		}
		if row.UnreadCount != nil && *row.UnreadCount >= 0 {
			rec.conv.UnreadCount = *row.UnreadCount
		}
		if row.IsPinned != nil {
			rec.conv.IsPinned = *row.IsPinned
		}
		if row.IsFavorite != nil {
			rec.conv.IsFavorite = *row.IsFavorite
		}
		if row.LastMessageTimestamp > 0 {
			rec.conv.LastActivity = Activity{
				Timestamp: row.LastMessageTimestamp,
				Preview:   row.LastMessageContent,
				Kind:      ActivityMessage,
			}
			if row.LastMessageFromMe != nil {
				rec.conv.LastActivity.FromMe = *row.LastMessageFromMe
			}
		}
	}
}

// ApplyMessage ingests a new_message event. Returns false if the
// message was already seen (duplicate delivery across reconnects).
// Unread is incremented only for inbound messages on conversations
// other than the currently open one, and only when the message is
// newer than the user's last read-state change.
func (s *Store) ApplyMessage(ev MessageEvent) bool {
	if ev.MessageID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.seen[ev.Key]
	if !ok {
		ids = make(map[string]struct{})
		s.seen[ev.Key] = ids
	}
	if _, dup := ids[ev.MessageID]; dup {
		return false
	}
	ids[ev.MessageID] = struct{}{}

	rec := s.ensure(ev.Key)
	if ev.Timestamp >= rec.conv.LastActivity.Timestamp {
		rec.conv.LastActivity = Activity{
			Timestamp: ev.Timestamp,
			Preview:   ev.Content,
			FromMe:    ev.FromMe,
			Kind:      ActivityMessage,
		}
	}

	open := s.hasActive && s.active == ev.Key
	if !ev.FromMe && !open && ev.Timestamp > s.readStateAt[ev.Key] {
		rec.conv.UnreadCount++
	}
	return true
}

// SetReadState marks a conversation read (unread=false, count drops
// to zero) or conceptually unread (unread=true, non-zero sentinel).
// at is the moment of the user action; a message event carrying a
// later timestamp still wins afterwards.
func (s *Store) SetReadState(key ConversationKey, unread bool, at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.ensure(key)
	if unread {
		if rec.conv.UnreadCount == 0 {
			rec.conv.UnreadCount = 1
		}
	} else {
		rec.conv.UnreadCount = 0
	}
	if at > s.readStateAt[key] {
		s.readStateAt[key] = at
	}
}

// SetActive records which conversation the user currently has open.
// Inbound messages for the open conversation do not increment unread.
func (s *Store) SetActive(key ConversationKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = key
	s.hasActive = true
}

// ClearActive records that no conversation is open.
func (s *Store) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ConversationKey{}
	s.hasActive = false
}

// Active returns the currently open conversation, if any.
func (s *Store) Active() (ConversationKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.hasActive
}

// SetPinned optimistically updates the local pinned flag.
func (s *Store) SetPinned(key ConversationKey, v bool) {
	s.setFlag(key, func(c *Conversation) { c.IsPinned = v })
}

// SetFavorite optimistically updates the local favorite flag.
func (s *Store) SetFavorite(key ConversationKey, v bool) {
	s.setFlag(key, func(c *Conversation) { c.IsFavorite = v })
}

// SetMuted optimistically updates the local muted flag.
func (s *Store) SetMuted(key ConversationKey, v bool) {
	s.setFlag(key, func(c *Conversation) { c.IsMuted = v })
}

// SetBlocked optimistically updates the local blocked flag.
func (s *Store) SetBlocked(key ConversationKey, v bool) {
	s.setFlag(key, func(c *Conversation) { c.IsBlocked = v })
}

func (s *Store) setFlag(key ConversationKey, apply func(*Conversation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.ensure(key).conv)
}

// SetDraftActivity installs the draft projection supplied by the
// draft manager. A conversation holding a non-empty draft previews
// and ranks by it instead of the last message.
func (s *Store) SetDraftActivity(key ConversationKey, preview string, at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(key)
	rec.draft = &Activity{
		Timestamp: at,
		Preview:   preview,
		FromMe:    true,
		Kind:      ActivityDraft,
	}
}

// ClearDraftActivity removes the draft projection; the last message
// becomes the latest activity again.
func (s *Store) ClearDraftActivity(key ConversationKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.convs[key]; ok {
		rec.draft = nil
	}
}

// Get returns a copy of one conversation's effective view.
func (s *Store) Get(key ConversationKey) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.convs[key]
	if !ok {
		return Conversation{}, false
	}
	return s.view(rec), true
}

// Snapshot returns copies of every conversation's effective view.
// The result is safe to hand to the ranking engine or rendering
// layer; it shares no memory with the store.
func (s *Store) Snapshot() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.convs))
	for _, rec := range s.convs {
		out = append(out, s.view(rec))
	}
	return out
}

// view assembles the effective read-only row: draft projection wins
// over the last message, waiting-reply derives from marker presence.
// Callers hold s.mu.
func (s *Store) view(rec *record) Conversation {
	c := rec.conv
	if rec.draft != nil {
		c.LastActivity = *rec.draft
	}
	c.HasWaitingReply = len(s.markers[c.Key]) > 0
	return c
}
