package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxline/inboxd/internal/bus"
	"github.com/voxline/inboxd/internal/draft"
	"github.com/voxline/inboxd/internal/overrides"
	"github.com/voxline/inboxd/internal/rank"
	"github.com/voxline/inboxd/internal/store"
	"github.com/voxline/inboxd/internal/stream"
)

type fakeBackend struct {
	mu       sync.Mutex
	rows     []store.SnapshotRow
	fetchErr error
	commands []string
}

func (f *fakeBackend) FetchSnapshot(context.Context) ([]store.SnapshotRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.rows, nil
}

func (f *fakeBackend) record(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeBackend) SetUnread(_ context.Context, _ store.ConversationKey, unread bool) error {
	if unread {
		return f.record("unread")
	}
	return f.record("read")
}
func (f *fakeBackend) SetPinned(context.Context, store.ConversationKey, bool) error {
	return f.record("pin")
}
func (f *fakeBackend) SetFavorite(context.Context, store.ConversationKey, bool) error {
	return f.record("favorite")
}
func (f *fakeBackend) SetMuted(context.Context, store.ConversationKey, bool) error {
	return f.record("mute")
}
func (f *fakeBackend) SetBlocked(context.Context, store.ConversationKey, bool) error {
	return f.record("block")
}

func (f *fakeBackend) sawCommand(cmd string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

type fixture struct {
	engine  *Engine
	store   *store.Store
	drafts  *draft.Manager
	hidden  *overrides.Set
	backend *fakeBackend
	bus     *bus.Bus
}

type nopPersister struct{}

func (nopPersister) UpsertDraft(context.Context, store.ConversationKey, string, string) error {
	return nil
}
func (nopPersister) DeleteDraft(context.Context, store.ConversationKey) error { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := overrides.OpenDB(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	hidden, err := overrides.Load(db, nil)
	if err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	st := store.New(nil)
	drafts := draft.NewManager(nopPersister{}, b, nil, 0)
	backend := &fakeBackend{}
	e := New(st, drafts, hidden, backend, b, nil, 0)

	e.Start(context.Background())
	t.Cleanup(e.Stop)

	return &fixture{engine: e, store: st, drafts: drafts, hidden: hidden, backend: backend, bus: b}
}

func key(chat string) store.ConversationKey {
	return store.ConversationKey{InstanceID: "i1", ChatID: chat}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func intp(v int) *int { return &v }

func TestSnapshotThenLiveMessage(t *testing.T) {
	f := newFixture(t)

	f.backend.rows = []store.SnapshotRow{{
		InstanceID: "i1", ChatID: "a", DisplayName: "A",
		UnreadCount: intp(3), LastMessageTimestamp: 1000,
	}}
	f.engine.Refresh(context.Background())

	f.bus.Publish(bus.Event{
		Kind: bus.KindNewMessage,
		Payload: &stream.NewMessage{
			InstanceID: "i1", ChatID: "a", MessageID: "m1",
			Content: "newer", Timestamp: 2000,
		},
	})

	waitFor(t, "unread bump", func() bool {
		c, ok := f.store.Get(key("a"))
		return ok && c.UnreadCount == 4 && c.LastActivity.Timestamp == 2000
	})
}

func TestRemoteDraftReplacesLocalAndRanksFirst(t *testing.T) {
	f := newFixture(t)

	f.backend.rows = []store.SnapshotRow{
		{InstanceID: "i1", ChatID: "a", LastMessageTimestamp: 1000},
		{InstanceID: "i1", ChatID: "b", LastMessageTimestamp: 9000},
	}
	f.engine.Refresh(context.Background())

	f.engine.SetDraft(key("a"), "typed locally", "")
	f.bus.Publish(bus.Event{
		Kind: bus.KindDraftUpdated,
		Payload: &stream.DraftUpdated{
			InstanceID: "i1", ChatID: "a",
			Content: "typed on the phone", UpdatedAt: 7,
		},
	})

	waitFor(t, "remote draft to win", func() bool {
		d, ok := f.drafts.Get(key("a"))
		return ok && d.Text == "typed on the phone"
	})

	waitFor(t, "draft holder to rank first", func() bool {
		view := f.engine.View()
		return len(view) == 2 && view[0] == key("a")
	})

	// The store previews the draft, not the last message.
	c, _ := f.store.Get(key("a"))
	if c.LastActivity.Kind != store.ActivityDraft {
		t.Errorf("activity kind = %s, want draft", c.LastActivity.Kind)
	}
}

func TestRemoteDraftDeleteRestoresMessageOrder(t *testing.T) {
	f := newFixture(t)

	f.backend.rows = []store.SnapshotRow{
		{InstanceID: "i1", ChatID: "a", LastMessageTimestamp: 1000},
		{InstanceID: "i1", ChatID: "b", LastMessageTimestamp: 9000},
	}
	f.engine.Refresh(context.Background())
	f.engine.SetDraft(key("a"), "soon to vanish", "")

	waitFor(t, "draft holder first", func() bool {
		view := f.engine.View()
		return len(view) == 2 && view[0] == key("a")
	})

	f.bus.Publish(bus.Event{
		Kind:    bus.KindDraftDeleted,
		Payload: &stream.DraftDeleted{InstanceID: "i1", ChatID: "a"},
	})

	waitFor(t, "message recency order restored", func() bool {
		view := f.engine.View()
		return len(view) == 2 && view[0] == key("b")
	})
}

func TestWaitingReplyRoundTrip(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(bus.Event{
		Kind:    bus.KindWaitingReplyAdded,
		Payload: &stream.WaitingReply{InstanceID: "i1", ChatID: "c", MessageID: "m1"},
	})
	waitFor(t, "waiting flag set", func() bool {
		return f.store.HasWaitingReply(key("c"))
	})

	f.bus.Publish(bus.Event{
		Kind:    bus.KindWaitingReplyRemoved,
		Payload: &stream.WaitingReply{InstanceID: "i1", ChatID: "c", MessageID: "m1"},
	})
	waitFor(t, "waiting flag cleared", func() bool {
		return !f.store.HasWaitingReply(key("c"))
	})
}

func TestHideRemovesFromView(t *testing.T) {
	f := newFixture(t)

	f.backend.rows = []store.SnapshotRow{
		{InstanceID: "i1", ChatID: "a", LastMessageTimestamp: 1000},
		{InstanceID: "i1", ChatID: "b", LastMessageTimestamp: 2000},
	}
	f.engine.Refresh(context.Background())

	f.engine.Hide(key("b"))
	view := f.engine.View()
	if len(view) != 1 || view[0] != key("a") {
		t.Errorf("view = %v, want only a", view)
	}

	f.engine.Unhide(key("b"))
	if len(f.engine.View()) != 2 {
		t.Error("unhide did not restore the conversation")
	}
}

func TestSelectMarksReadAndNotifiesBackend(t *testing.T) {
	f := newFixture(t)

	f.backend.rows = []store.SnapshotRow{{
		InstanceID: "i1", ChatID: "a", UnreadCount: intp(5), LastMessageTimestamp: 1000,
	}}
	f.engine.Refresh(context.Background())

	f.engine.Select(context.Background(), key("a"))

	c, _ := f.store.Get(key("a"))
	if c.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0 after select", c.UnreadCount)
	}
	if active, ok := f.store.Active(); !ok || active != key("a") {
		t.Error("conversation not active after select")
	}
	waitFor(t, "backend read command", func() bool {
		return f.backend.sawCommand("read")
	})
}

func TestMarkUnreadIntent(t *testing.T) {
	f := newFixture(t)

	f.engine.MarkUnread(key("a"))
	c, _ := f.store.Get(key("a"))
	if c.UnreadCount == 0 {
		t.Error("conversation not marked unread")
	}
	waitFor(t, "backend unread command", func() bool {
		return f.backend.sawCommand("unread")
	})
}

func TestFilterIntent(t *testing.T) {
	f := newFixture(t)

	fav := store.SnapshotRow{InstanceID: "i1", ChatID: "a", LastMessageTimestamp: 100}
	yes := true
	fav.IsFavorite = &yes
	f.backend.rows = []store.SnapshotRow{
		fav,
		{InstanceID: "i1", ChatID: "b", LastMessageTimestamp: 200},
	}
	f.engine.Refresh(context.Background())

	f.engine.SetFilter(rank.Filter{Category: rank.Favorites})
	view := f.engine.View()
	if len(view) != 1 || view[0] != key("a") {
		t.Errorf("favorites view = %v, want only a", view)
	}
}

func TestViewUpdatedPublished(t *testing.T) {
	f := newFixture(t)

	ch, unsub := f.bus.Subscribe("view.", 16)
	defer unsub()

	f.backend.rows = []store.SnapshotRow{{InstanceID: "i1", ChatID: "a", LastMessageTimestamp: 100}}
	f.engine.Refresh(context.Background())

	select {
	case evt := <-ch:
		keys, ok := evt.Payload.([]store.ConversationKey)
		if !ok || len(keys) != 1 {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for view.updated")
	}
}

func TestFetchFailureKeepsLastKnownState(t *testing.T) {
	f := newFixture(t)

	f.backend.rows = []store.SnapshotRow{{InstanceID: "i1", ChatID: "a", LastMessageTimestamp: 100}}
	f.engine.Refresh(context.Background())

	f.backend.mu.Lock()
	f.backend.fetchErr = context.DeadlineExceeded
	f.backend.mu.Unlock()
	f.engine.Refresh(context.Background())

	if len(f.engine.View()) != 1 {
		t.Error("stale state must keep serving while fetches fail")
	}
}
