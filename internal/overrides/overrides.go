// Package overrides owns the client-local visibility override set:
// conversations the user hid from the list without touching any
// server-side data. The set is durable across sessions, single-writer,
// and consulted (never mutated) by the ranking engine.
package overrides

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voxline/inboxd/internal/store"
	"go.uber.org/zap"
)

// hiddenKey is the single namespaced row the hidden set lives under.
const hiddenKey = "inbox.hidden_conversations"

// Set is the durable hidden-conversation set. The full set is loaded
// once at open and rewritten on every mutation; volumes are tiny and
// the single-writer invariant makes conflicts impossible.
type Set struct {
	mu     sync.RWMutex
	db     *DB
	hidden map[store.ConversationKey]bool
	logger *zap.Logger
}

// Load opens the hidden set from the local database, creating the
// row on first use.
func Load(db *DB, logger *zap.Logger) (*Set, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Set{
		db:     db,
		hidden: make(map[store.ConversationKey]bool),
		logger: logger,
	}

	var raw string
	err := db.QueryRow(`SELECT value FROM local_state WHERE key = ?`, hiddenKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load hidden set: %w", err)
	}

	var entries []string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// A corrupt row only costs the user their hidden list.
		logger.Warn("hidden set unreadable, starting empty", zap.Error(err))
		return s, nil
	}
	for _, e := range entries {
		key, err := store.ParseKey(e)
		if err != nil {
			logger.Warn("skipping malformed hidden entry", zap.String("entry", e))
			continue
		}
		s.hidden[key] = true
	}
	return s, nil
}

// Hide marks a conversation hidden and persists the set.
func (s *Set) Hide(key store.ConversationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hidden[key] {
		return nil
	}
	s.hidden[key] = true
	return s.persistLocked()
}

// Unhide removes a conversation from the hidden set and persists.
func (s *Set) Unhide(key store.ConversationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hidden[key] {
		return nil
	}
	delete(s.hidden, key)
	return s.persistLocked()
}

// Hidden reports whether a conversation is hidden.
func (s *Set) Hidden(key store.ConversationKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hidden[key]
}

// All returns a copy of the hidden set for the ranking engine.
func (s *Set) All() map[store.ConversationKey]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[store.ConversationKey]bool, len(s.hidden))
	for k := range s.hidden {
		out[k] = true
	}
	return out
}

// persistLocked rewrites the durable row. Callers hold s.mu.
func (s *Set) persistLocked() error {
	entries := make([]string, 0, len(s.hidden))
	for k := range s.hidden {
		entries = append(entries, k.String())
	}
	sort.Strings(entries)

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode hidden set: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO local_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		hiddenKey, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("persist hidden set: %w", err)
	}
	return nil
}
