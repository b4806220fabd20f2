// Package rank derives the ordered, filtered inbox view. Compute is a
// pure function of its inputs: identical inputs always produce the
// identical ordering, and nothing here mutates shared state.
package rank

import (
	"sort"
	"strings"

	"github.com/voxline/inboxd/internal/store"
)

// Category selects which slice of the inbox is shown.
type Category string

const (
	All       Category = "all"
	Unread    Category = "unread"
	Favorites Category = "favorites"
	Groups    Category = "groups"
)

// Filter is the user's current view selection.
type Filter struct {
	Category Category
	// InstanceID limits the view to one messaging account when
	// non-empty.
	InstanceID string
	// Search is matched case-insensitively against the display title
	// and the raw chat id.
	Search string
}

// DraftMark is the ranking engine's view of a pending draft: only
// its recency matters here, the text lives with the draft manager.
type DraftMark struct {
	UpdatedAt int64
}

// Compute filters and orders conversations. Conversations holding a
// non-empty draft rank first (most recently edited draft on top);
// the rest order by latest activity descending. Hidden keys never
// appear. O(n log n) in the number of visible conversations.
func Compute(
	convs []store.Conversation,
	drafts map[store.ConversationKey]DraftMark,
	hidden map[store.ConversationKey]bool,
	f Filter,
) []store.ConversationKey {
	search := strings.ToLower(strings.TrimSpace(f.Search))

	visible := make([]store.Conversation, 0, len(convs))
	for _, c := range convs {
		if hidden[c.Key] {
			continue
		}
		if !matchesCategory(c, f.Category) {
			continue
		}
		if f.InstanceID != "" && c.Key.InstanceID != f.InstanceID {
			continue
		}
		if search != "" && !matchesSearch(c, search) {
			continue
		}
		visible = append(visible, c)
	}

	sort.Slice(visible, func(i, j int) bool {
		return less(visible[i], visible[j], drafts)
	})

	keys := make([]store.ConversationKey, len(visible))
	for i, c := range visible {
		keys[i] = c.Key
	}
	return keys
}

func matchesCategory(c store.Conversation, cat Category) bool {
	switch cat {
	case Unread:
		return c.UnreadCount > 0
	case Favorites:
		return c.IsFavorite
	case Groups:
		return c.IsGroup
	default:
		// All (and the zero value) impose no category constraint.
		return true
	}
}

func matchesSearch(c store.Conversation, loweredSearch string) bool {
	return strings.Contains(strings.ToLower(c.Title), loweredSearch) ||
		strings.Contains(strings.ToLower(c.Key.ChatID), loweredSearch)
}

// less orders draft-holders before everyone else, draft-holders among
// themselves by draft recency, the remainder by latest activity. Keys
// break exact ties so the ordering is total and deterministic.
func less(a, b store.Conversation, drafts map[store.ConversationKey]DraftMark) bool {
	da, hasA := drafts[a.Key]
	db, hasB := drafts[b.Key]

	switch {
	case hasA && !hasB:
		return true
	case !hasA && hasB:
		return false
	case hasA && hasB:
		if da.UpdatedAt != db.UpdatedAt {
			return da.UpdatedAt > db.UpdatedAt
		}
	default:
		if a.LastActivity.Timestamp != b.LastActivity.Timestamp {
			return a.LastActivity.Timestamp > b.LastActivity.Timestamp
		}
	}
	return a.Key.String() < b.Key.String()
}
