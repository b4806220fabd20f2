// Package engine ties the sync core together: it drains decoded push
// events from the bus into the store and draft manager, owns the
// periodic snapshot refresh, recomputes the ranked view after every
// mutation, and carries the user intents coming back from the
// rendering layer.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/voxline/inboxd/internal/bus"
	"github.com/voxline/inboxd/internal/draft"
	"github.com/voxline/inboxd/internal/overrides"
	"github.com/voxline/inboxd/internal/rank"
	"github.com/voxline/inboxd/internal/store"
	"github.com/voxline/inboxd/internal/stream"
	"go.uber.org/zap"
)

// Backend is the slice of the backend client the engine drives.
type Backend interface {
	FetchSnapshot(ctx context.Context) ([]store.SnapshotRow, error)
	SetUnread(ctx context.Context, key store.ConversationKey, unread bool) error
	SetPinned(ctx context.Context, key store.ConversationKey, v bool) error
	SetFavorite(ctx context.Context, key store.ConversationKey, v bool) error
	SetMuted(ctx context.Context, key store.ConversationKey, v bool) error
	SetBlocked(ctx context.Context, key store.ConversationKey, v bool) error
}

// Engine reconciles snapshots, push events and drafts into one view.
// Push events are applied by a single loop goroutine in receipt
// order; intents arrive from the rendering layer's goroutine and land
// on the internally-synchronized components directly.
type Engine struct {
	store   *store.Store
	drafts  *draft.Manager
	hidden  *overrides.Set
	backend Backend
	bus     *bus.Bus
	logger  *zap.Logger

	refreshEvery time.Duration
	cancel       context.CancelFunc

	viewMu sync.RWMutex
	filter rank.Filter
	view   []store.ConversationKey
}

// New creates an engine. refreshEvery bounds snapshot staleness; zero
// disables the periodic refresh (tests drive Refresh directly).
func New(
	st *store.Store,
	drafts *draft.Manager,
	hidden *overrides.Set,
	backend Backend,
	b *bus.Bus,
	logger *zap.Logger,
	refreshEvery time.Duration,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:        st,
		drafts:       drafts,
		hidden:       hidden,
		backend:      backend,
		bus:          b,
		logger:       logger,
		refreshEvery: refreshEvery,
		filter:       rank.Filter{Category: rank.All},
	}
}

// Start subscribes to push and draft events and launches the event
// loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	events, unsub := e.bus.Subscribe("push.", 256)
	draftEvents, unsubDrafts := e.bus.Subscribe("draft.", 256)

	go func() {
		defer unsub()
		defer unsubDrafts()

		var tick <-chan time.Time
		var timer *time.Timer
		if e.refreshEvery > 0 {
			timer = time.NewTimer(jittered(e.refreshEvery))
			defer timer.Stop()
			tick = timer.C
		}

		for {
			select {
			case evt := <-events:
				e.handlePush(evt)
				e.recompute()
			case evt := <-draftEvents:
				e.handleDraftChanged(evt)
				e.recompute()
			case <-tick:
				e.Refresh(ctx)
				timer.Reset(jittered(e.refreshEvery))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// jittered spreads the refresh period by up to 10% so a fleet of
// clients sharing a backend does not refresh in lockstep.
func jittered(d time.Duration) time.Duration {
	return d + time.Duration(rand.Float64()*float64(d)*0.1)
}

// Stop halts the event loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Refresh fetches a snapshot and merges it. Fetch failures are
// logged and the next scheduled refresh retries; the store keeps
// serving its last-known state meanwhile.
func (e *Engine) Refresh(ctx context.Context) {
	rows, err := e.backend.FetchSnapshot(ctx)
	if err != nil {
		e.logger.Warn("snapshot fetch failed", zap.Error(err))
		return
	}
	e.store.ApplySnapshot(rows)
	e.recompute()
	e.logger.Info("snapshot merged", zap.Int("rows", len(rows)))
}

// handlePush dispatches one decoded push event into the owning
// component. Unexpected payload types mean a bus wiring bug; they are
// logged and dropped.
func (e *Engine) handlePush(evt bus.Event) {
	switch evt.Kind {
	case bus.KindNewMessage:
		p, ok := evt.Payload.(*stream.NewMessage)
		if !ok {
			e.logger.Error("unexpected payload for new_message", zap.Any("payload", evt.Payload))
			return
		}
		e.store.ApplyMessage(store.MessageEvent{
			Key:       p.Key(),
			MessageID: p.MessageID,
			Content:   p.Content,
			FromMe:    p.FromMe,
			Timestamp: p.Timestamp,
		})

	case bus.KindDraftUpdated:
		p, ok := evt.Payload.(*stream.DraftUpdated)
		if !ok {
			e.logger.Error("unexpected payload for draft_updated", zap.Any("payload", evt.Payload))
			return
		}
		e.drafts.ApplyRemote(draft.Draft{
			Key:       p.Key(),
			Text:      p.Content,
			ReplyTo:   p.ReplyToMessageID,
			UpdatedAt: p.UpdatedAt,
		})

	case bus.KindDraftDeleted:
		p, ok := evt.Payload.(*stream.DraftDeleted)
		if !ok {
			e.logger.Error("unexpected payload for draft_deleted", zap.Any("payload", evt.Payload))
			return
		}
		e.drafts.ApplyRemoteDelete(p.Key())

	case bus.KindWaitingReplyAdded:
		p, ok := evt.Payload.(*stream.WaitingReply)
		if !ok {
			e.logger.Error("unexpected payload for waiting_reply_added", zap.Any("payload", evt.Payload))
			return
		}
		e.store.AddWaitingMarker(p.Key(), p.MessageID)

	case bus.KindWaitingReplyRemoved:
		p, ok := evt.Payload.(*stream.WaitingReply)
		if !ok {
			e.logger.Error("unexpected payload for waiting_reply_removed", zap.Any("payload", evt.Payload))
			return
		}
		e.store.RemoveWaitingMarker(p.Key(), p.MessageID)
	}
}

// handleDraftChanged refreshes the store's draft projection for the
// changed conversation. This is how the draft manager's state reaches
// ranking, for local edits and remote events alike.
func (e *Engine) handleDraftChanged(evt bus.Event) {
	key, ok := evt.Payload.(store.ConversationKey)
	if !ok {
		return
	}
	if d, has := e.drafts.Get(key); has {
		e.store.SetDraftActivity(key, d.Text, d.UpdatedAt)
	} else {
		e.store.ClearDraftActivity(key)
	}
}

// recompute re-derives the ordered, filtered view and publishes it.
func (e *Engine) recompute() {
	e.viewMu.RLock()
	filter := e.filter
	e.viewMu.RUnlock()

	drafts := make(map[store.ConversationKey]rank.DraftMark)
	for k, d := range e.drafts.All() {
		drafts[k] = rank.DraftMark{UpdatedAt: d.UpdatedAt}
	}

	keys := rank.Compute(e.store.Snapshot(), drafts, e.hidden.All(), filter)

	e.viewMu.Lock()
	e.view = keys
	e.viewMu.Unlock()

	e.bus.Publish(bus.Event{
		Kind:      bus.KindViewUpdated,
		Timestamp: time.Now(),
		Payload:   append([]store.ConversationKey(nil), keys...),
	})
}

// View returns the last computed ordered key list.
func (e *Engine) View() []store.ConversationKey {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return append([]store.ConversationKey(nil), e.view...)
}

// Rows resolves the current view into full conversation rows for the
// rendering layer.
func (e *Engine) Rows() []store.Conversation {
	keys := e.View()
	rows := make([]store.Conversation, 0, len(keys))
	for _, k := range keys {
		if c, ok := e.store.Get(k); ok {
			rows = append(rows, c)
		}
	}
	return rows
}
