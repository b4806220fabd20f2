package bus

import "time"

// Event is a domain event published on the in-process bus.
//
// Kinds are dot-namespaced so subscribers can filter by prefix:
// "push." for decoded push-channel events, "stream." for connection
// lifecycle, "draft." for draft mutations, "view." for recomputed
// inbox projections.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core.
const (
	KindNewMessage          = "push.new_message"
	KindDraftUpdated        = "push.draft_updated"
	KindDraftDeleted        = "push.draft_deleted"
	KindWaitingReplyAdded   = "push.waiting_reply_added"
	KindWaitingReplyRemoved = "push.waiting_reply_removed"

	KindStreamConnected    = "stream.connected"
	KindStreamDisconnected = "stream.disconnected"
	KindStreamReconnecting = "stream.reconnecting"
	KindStreamStatus       = "stream.status_changed"

	KindDraftChanged = "draft.changed"
	KindViewUpdated  = "view.updated"
)
