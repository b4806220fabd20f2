package store

import "testing"

func key(inst, chat string) ConversationKey {
	return ConversationKey{InstanceID: inst, ChatID: chat}
}

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func TestApplySnapshotCreatesConversations(t *testing.T) {
	s := New(nil)
	s.ApplySnapshot([]SnapshotRow{
		{
			InstanceID: "i1", ChatID: "111@c.us", DisplayName: "Maria",
			UnreadCount: intp(3), IsFavorite: boolp(true),
			LastMessageContent: "hello", LastMessageTimestamp: 1000,
			LastMessageFromMe: boolp(false),
		},
		{
			InstanceID: "i1", ChatID: "222@g.us", DisplayName: "Team",
			LastMessageContent: "standup", LastMessageTimestamp: 2000,
		},
	})

	c, ok := s.Get(key("i1", "111@c.us"))
	if !ok {
		t.Fatal("conversation not created")
	}
	if c.Title != "Maria" || c.UnreadCount != 3 || !c.IsFavorite {
		t.Errorf("unexpected conversation: %+v", c)
	}
	if c.LastActivity.Preview != "hello" || c.LastActivity.Kind != ActivityMessage {
		t.Errorf("unexpected activity: %+v", c.LastActivity)
	}

	g, _ := s.Get(key("i1", "222@g.us"))
	if !g.IsGroup {
		t.Error("group-ness should derive from chat id shape")
	}
}

func TestApplySnapshotPartialDoesNotClear(t *testing.T) {
	s := New(nil)
	s.ApplySnapshot([]SnapshotRow{{
		InstanceID: "i1", ChatID: "111@c.us", DisplayName: "Maria",
		UnreadCount: intp(3), IsPinned: boolp(true),
	}})

	// Partial refresh: only the unread count is present.
	s.ApplySnapshot([]SnapshotRow{{
		InstanceID: "i1", ChatID: "111@c.us", UnreadCount: intp(5),
	}})

	c, _ := s.Get(key("i1", "111@c.us"))
	if c.UnreadCount != 5 {
		t.Errorf("UnreadCount = %d, want 5 (present field overwrites)", c.UnreadCount)
	}
	if c.Title != "Maria" || !c.IsPinned {
		t.Errorf("absent fields cleared: %+v", c)
	}
}

func TestApplySnapshotIdempotent(t *testing.T) {
	s := New(nil)
	rows := []SnapshotRow{{
		InstanceID: "i1", ChatID: "111@c.us", DisplayName: "Maria",
		UnreadCount: intp(2), LastMessageContent: "hi", LastMessageTimestamp: 500,
	}}
	s.ApplySnapshot(rows)
	first, _ := s.Get(key("i1", "111@c.us"))
	s.ApplySnapshot(rows)
	second, _ := s.Get(key("i1", "111@c.us"))
	if first != second {
		t.Errorf("snapshot not idempotent: %+v vs %+v", first, second)
	}
}

func TestApplyMessageIncrementsUnread(t *testing.T) {
	s := New(nil)
	s.ApplySnapshot([]SnapshotRow{{
		InstanceID: "i1", ChatID: "111@c.us",
		UnreadCount: intp(3), LastMessageTimestamp: 1000,
	}})

	// Snapshot at T1, live message at T2 > T1.
	if !s.ApplyMessage(MessageEvent{
		Key: key("i1", "111@c.us"), MessageID: "m1",
		Content: "new", Timestamp: 2000,
	}) {
		t.Fatal("first delivery rejected")
	}

	c, _ := s.Get(key("i1", "111@c.us"))
	if c.UnreadCount != 4 {
		t.Errorf("UnreadCount = %d, want 4", c.UnreadCount)
	}
	if c.LastActivity.Timestamp != 2000 {
		t.Errorf("LastActivity.Timestamp = %d, want 2000", c.LastActivity.Timestamp)
	}
}

func TestApplyMessageDuplicateIsNoop(t *testing.T) {
	s := New(nil)
	ev := MessageEvent{Key: key("i1", "c"), MessageID: "m1", Content: "x", Timestamp: 100}

	if !s.ApplyMessage(ev) {
		t.Fatal("first delivery rejected")
	}
	if s.ApplyMessage(ev) {
		t.Error("duplicate delivery accepted")
	}

	c, _ := s.Get(key("i1", "c"))
	if c.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1 (no double counting)", c.UnreadCount)
	}
}

func TestApplyMessageFromMeDoesNotIncrement(t *testing.T) {
	s := New(nil)
	s.ApplyMessage(MessageEvent{Key: key("i1", "c"), MessageID: "m1", FromMe: true, Timestamp: 100})
	c, _ := s.Get(key("i1", "c"))
	if c.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0 for own message", c.UnreadCount)
	}
	if !c.LastActivity.FromMe {
		t.Error("LastActivity.FromMe not set")
	}
}

func TestApplyMessageOpenConversationStaysRead(t *testing.T) {
	s := New(nil)
	k := key("i1", "c")
	s.SetActive(k)
	s.ApplyMessage(MessageEvent{Key: k, MessageID: "m1", Timestamp: 100})
	c, _ := s.Get(k)
	if c.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0 while conversation is open", c.UnreadCount)
	}

	// A different conversation still accrues unread.
	other := key("i1", "d")
	s.ApplyMessage(MessageEvent{Key: other, MessageID: "m2", Timestamp: 100})
	o, _ := s.Get(other)
	if o.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1 for background conversation", o.UnreadCount)
	}
}

func TestReadStateRace(t *testing.T) {
	s := New(nil)
	k := key("i1", "c")
	s.ApplyMessage(MessageEvent{Key: k, MessageID: "m1", Timestamp: 1000})

	// User opens the chat at t=2000: count drops to zero.
	s.SetReadState(k, false, 2000)
	c, _ := s.Get(k)
	if c.UnreadCount != 0 {
		t.Fatalf("UnreadCount = %d, want 0 after read", c.UnreadCount)
	}

	// A message that was already in flight (older than the read) must
	// not re-mark the conversation unread...
	s.ApplyMessage(MessageEvent{Key: k, MessageID: "m2", Timestamp: 1500})
	c, _ = s.Get(k)
	if c.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0 (read is later by timestamp)", c.UnreadCount)
	}

	// ...but a genuinely newer message wins over the read.
	s.ApplyMessage(MessageEvent{Key: k, MessageID: "m3", Timestamp: 3000})
	c, _ = s.Get(k)
	if c.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1 (message is later by timestamp)", c.UnreadCount)
	}
}

func TestMarkUnreadSentinel(t *testing.T) {
	s := New(nil)
	k := key("i1", "c")
	s.SetReadState(k, true, 100)
	c, _ := s.Get(k)
	if c.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want non-zero sentinel 1", c.UnreadCount)
	}

	// Marking unread twice keeps the sentinel, it does not stack.
	s.SetReadState(k, true, 200)
	c, _ = s.Get(k)
	if c.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", c.UnreadCount)
	}
}

func TestDraftProjection(t *testing.T) {
	s := New(nil)
	k := key("i1", "c")
	s.ApplyMessage(MessageEvent{Key: k, MessageID: "m1", Content: "msg", Timestamp: 1000})

	s.SetDraftActivity(k, "half-typed reply", 2000)
	c, _ := s.Get(k)
	if c.LastActivity.Kind != ActivityDraft || c.LastActivity.Preview != "half-typed reply" {
		t.Errorf("draft projection not applied: %+v", c.LastActivity)
	}

	s.ClearDraftActivity(k)
	c, _ = s.Get(k)
	if c.LastActivity.Kind != ActivityMessage || c.LastActivity.Preview != "msg" {
		t.Errorf("clearing draft must restore message activity: %+v", c.LastActivity)
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	s := New(nil)
	s.ApplyMessage(MessageEvent{Key: key("i1", "c"), MessageID: "m1", Timestamp: 100})

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d conversations, want 1", len(snap))
	}
	snap[0].UnreadCount = 99

	c, _ := s.Get(key("i1", "c"))
	if c.UnreadCount == 99 {
		t.Error("Snapshot must not share memory with the store")
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	k := key("inst-1", "123@c.us")
	parsed, err := ParseKey(k.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != k {
		t.Errorf("round trip = %+v, want %+v", parsed, k)
	}

	if _, err := ParseKey("no-separator"); err == nil {
		t.Error("ParseKey should reject a key without separator")
	}
}
