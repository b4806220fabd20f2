// Package draft owns per-conversation unsent reply text. Drafts are
// kept locally on every edit but committed to the backend only on
// edge triggers: switching away from a conversation, losing focus,
// a debounce timer firing, or best-effort at teardown. Remote draft
// events always win over local state (last-writer-wins).
package draft

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/voxline/inboxd/internal/bus"
	"github.com/voxline/inboxd/internal/store"
	"go.uber.org/zap"
)

// Persister is the backend draft endpoint as the manager sees it.
type Persister interface {
	UpsertDraft(ctx context.Context, key store.ConversationKey, text, replyTo string) error
	DeleteDraft(ctx context.Context, key store.ConversationKey) error
}

// Draft is unsent reply text for one conversation.
type Draft struct {
	Key       store.ConversationKey
	Text      string
	ReplyTo   string
	UpdatedAt int64
}

type entry struct {
	draft Draft
	dirty bool
	timer *time.Timer
}

// Manager holds all pending drafts. At most one draft exists per
// conversation; whitespace-only text is treated as "no draft".
type Manager struct {
	mu        sync.Mutex
	drafts    map[store.ConversationKey]*entry
	deletions map[store.ConversationKey]bool

	persister Persister
	bus       *bus.Bus
	logger    *zap.Logger

	// debounce delays the opportunistic flush after the last edit.
	// Zero disables the timer; edge triggers still flush.
	debounce time.Duration

	now func() int64
}

// NewManager creates a draft manager. debounce may be zero.
func NewManager(p Persister, b *bus.Bus, logger *zap.Logger, debounce time.Duration) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		drafts:    make(map[store.ConversationKey]*entry),
		deletions: make(map[store.ConversationKey]bool),
		persister: p,
		bus:       b,
		logger:    logger,
		debounce:  debounce,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Set records the user's current draft text for key. Empty or
// whitespace-only text is equivalent to clearing the draft.
func (m *Manager) Set(key store.ConversationKey, text, replyTo string) {
	if strings.TrimSpace(text) == "" {
		m.Clear(key)
		return
	}

	m.mu.Lock()
	e, ok := m.drafts[key]
	if !ok {
		e = &entry{}
		m.drafts[key] = e
	}
	e.draft = Draft{Key: key, Text: text, ReplyTo: replyTo, UpdatedAt: m.now()}
	e.dirty = true
	delete(m.deletions, key)
	m.rearmTimerLocked(key, e)
	m.mu.Unlock()

	m.publishChanged(key)
}

// Clear removes the draft for key locally and schedules a remote
// delete on the next flush.
func (m *Manager) Clear(key store.ConversationKey) {
	m.mu.Lock()
	e, had := m.drafts[key]
	if had {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.drafts, key)
		m.deletions[key] = true
	}
	m.mu.Unlock()

	if had {
		m.publishChanged(key)
	}
}

// ClearOnSend removes the draft after its conversation's message was
// sent, deleting the remote copy immediately (fire-and-forget).
func (m *Manager) ClearOnSend(ctx context.Context, key store.ConversationKey) {
	m.mu.Lock()
	e, had := m.drafts[key]
	if had {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.drafts, key)
	}
	delete(m.deletions, key)
	m.mu.Unlock()

	go func() {
		if err := m.persister.DeleteDraft(ctx, key); err != nil {
			m.logger.Warn("remote draft delete failed", zap.String("key", key.String()), zap.Error(err))
		}
	}()

	if had {
		m.publishChanged(key)
	}
}

// Get returns the draft for key, if one exists.
func (m *Manager) Get(key store.ConversationKey) (Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.drafts[key]; ok {
		return e.draft, true
	}
	return Draft{}, false
}

// All returns a copy of every pending draft.
func (m *Manager) All() map[store.ConversationKey]Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[store.ConversationKey]Draft, len(m.drafts))
	for k, e := range m.drafts {
		out[k] = e.draft
	}
	return out
}

// ApplyRemote installs a draft pushed from another device. Remote
// state overwrites local state unconditionally.
func (m *Manager) ApplyRemote(d Draft) {
	if strings.TrimSpace(d.Text) == "" {
		m.ApplyRemoteDelete(d.Key)
		return
	}

	m.mu.Lock()
	e, ok := m.drafts[d.Key]
	if !ok {
		e = &entry{}
		m.drafts[d.Key] = e
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.draft = d
	e.dirty = false // already durable on the backend
	delete(m.deletions, d.Key)
	m.mu.Unlock()

	m.publishChanged(d.Key)
}

// ApplyRemoteDelete drops the local draft in response to a remote
// draft_deleted event.
func (m *Manager) ApplyRemoteDelete(key store.ConversationKey) {
	m.mu.Lock()
	e, had := m.drafts[key]
	if had {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.drafts, key)
	}
	delete(m.deletions, key)
	m.mu.Unlock()

	if had {
		m.publishChanged(key)
	}
}

// FlushKey commits one conversation's draft state to the backend if
// it has unsent changes. Errors are logged, never returned: a missed
// flush loses at most one draft revision.
func (m *Manager) FlushKey(ctx context.Context, key store.ConversationKey) {
	m.mu.Lock()
	var pending *Draft
	if e, ok := m.drafts[key]; ok && e.dirty {
		d := e.draft
		pending = &d
		e.dirty = false
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	del := m.deletions[key]
	delete(m.deletions, key)
	m.mu.Unlock()

	switch {
	case pending != nil:
		if err := m.persister.UpsertDraft(ctx, key, pending.Text, pending.ReplyTo); err != nil {
			m.logger.Warn("draft flush failed", zap.String("key", key.String()), zap.Error(err))
			m.markDirty(key)
		}
	case del:
		if err := m.persister.DeleteDraft(ctx, key); err != nil {
			m.logger.Warn("draft delete flush failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
}

// FlushAll commits every unsent draft change. Used on focus loss and
// best-effort at teardown; the caller bounds ctx, this never waits
// for acknowledgement beyond it.
func (m *Manager) FlushAll(ctx context.Context) {
	m.mu.Lock()
	keys := make([]store.ConversationKey, 0, len(m.drafts)+len(m.deletions))
	for k, e := range m.drafts {
		if e.dirty {
			keys = append(keys, k)
		}
	}
	for k := range m.deletions {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		if ctx.Err() != nil {
			return
		}
		m.FlushKey(ctx, k)
	}
}

func (m *Manager) markDirty(key store.ConversationKey) {
	m.mu.Lock()
	if e, ok := m.drafts[key]; ok {
		e.dirty = true
	}
	m.mu.Unlock()
}

// rearmTimerLocked restarts the debounce flush timer for key.
// Callers hold m.mu.
func (m *Manager) rearmTimerLocked(key store.ConversationKey, e *entry) {
	if m.debounce <= 0 {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(m.debounce, func() {
		m.FlushKey(context.Background(), key)
	})
}

func (m *Manager) publishChanged(key store.ConversationKey) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      bus.KindDraftChanged,
		Timestamp: time.Now(),
		Payload:   key,
	})
}
