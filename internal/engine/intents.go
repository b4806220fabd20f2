package engine

import (
	"context"
	"time"

	"github.com/voxline/inboxd/internal/rank"
	"github.com/voxline/inboxd/internal/store"
	"go.uber.org/zap"
)

// User intents arriving from the rendering layer. Every intent
// updates local state optimistically and, where the backend has a
// say, fires the command without waiting or rolling back; the next
// snapshot heals any divergence.

// SetFilter replaces the active view selection and recomputes.
func (e *Engine) SetFilter(f rank.Filter) {
	e.viewMu.Lock()
	e.filter = f
	e.viewMu.Unlock()
	e.recompute()
}

// Filter returns the active view selection.
func (e *Engine) Filter() rank.Filter {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.filter
}

// Select opens a conversation: the previous conversation's draft is
// committed, the new one becomes active and is marked read locally
// and remotely.
func (e *Engine) Select(ctx context.Context, key store.ConversationKey) {
	if prev, ok := e.store.Active(); ok && prev != key {
		go e.drafts.FlushKey(ctx, prev)
	}
	e.store.SetActive(key)
	e.store.SetReadState(key, false, time.Now().UnixMilli())
	e.fireAndForget("mark read", func(ctx context.Context) error {
		return e.backend.SetUnread(ctx, key, false)
	})
	e.recompute()
}

// Deselect records that no conversation is open.
func (e *Engine) Deselect() {
	e.store.ClearActive()
}

// MarkUnread flags a conversation for later attention.
func (e *Engine) MarkUnread(key store.ConversationKey) {
	e.store.SetReadState(key, true, time.Now().UnixMilli())
	e.fireAndForget("mark unread", func(ctx context.Context) error {
		return e.backend.SetUnread(ctx, key, true)
	})
	e.recompute()
}

// Hide suppresses a conversation from every view until un-hidden.
// Purely local and durable; nothing is deleted server-side.
func (e *Engine) Hide(key store.ConversationKey) {
	if err := e.hidden.Hide(key); err != nil {
		e.logger.Error("persisting hide failed", zap.String("key", key.String()), zap.Error(err))
	}
	e.recompute()
}

// Unhide restores a hidden conversation.
func (e *Engine) Unhide(key store.ConversationKey) {
	if err := e.hidden.Unhide(key); err != nil {
		e.logger.Error("persisting unhide failed", zap.String("key", key.String()), zap.Error(err))
	}
	e.recompute()
}

// SetDraft records the user's in-progress reply text.
func (e *Engine) SetDraft(key store.ConversationKey, text, replyTo string) {
	e.drafts.Set(key, text, replyTo)
}

// NoteMessageSent clears the conversation's draft locally and
// remotely after a successful send.
func (e *Engine) NoteMessageSent(ctx context.Context, key store.ConversationKey) {
	e.drafts.ClearOnSend(ctx, key)
}

// NotifyBlur commits all unsent draft revisions when the application
// loses focus or visibility. Fire-and-forget.
func (e *Engine) NotifyBlur(ctx context.Context) {
	go e.drafts.FlushAll(ctx)
}

// SetPinned toggles the pinned flag.
func (e *Engine) SetPinned(key store.ConversationKey, v bool) {
	e.store.SetPinned(key, v)
	e.fireAndForget("pin", func(ctx context.Context) error {
		return e.backend.SetPinned(ctx, key, v)
	})
	e.recompute()
}

// SetFavorite toggles the favorite flag.
func (e *Engine) SetFavorite(key store.ConversationKey, v bool) {
	e.store.SetFavorite(key, v)
	e.fireAndForget("favorite", func(ctx context.Context) error {
		return e.backend.SetFavorite(ctx, key, v)
	})
	e.recompute()
}

// SetMuted toggles the muted flag.
func (e *Engine) SetMuted(key store.ConversationKey, v bool) {
	e.store.SetMuted(key, v)
	e.fireAndForget("mute", func(ctx context.Context) error {
		return e.backend.SetMuted(ctx, key, v)
	})
	e.recompute()
}

// SetBlocked toggles the blocked flag.
func (e *Engine) SetBlocked(key store.ConversationKey, v bool) {
	e.store.SetBlocked(key, v)
	e.fireAndForget("block", func(ctx context.Context) error {
		return e.backend.SetBlocked(ctx, key, v)
	})
	e.recompute()
}

// fireAndForget runs a backend command in the background with a
// bounded deadline. Failures are logged, never rolled back.
func (e *Engine) fireAndForget(what string, cmd func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cmd(ctx); err != nil {
			e.logger.Warn("backend command failed", zap.String("command", what), zap.Error(err))
		}
	}()
}
