package store

// Waiting-reply markers flag conversations where an outbound message
// has not been answered yet. Markers are created and destroyed
// solely by paired push events; the client never infers them and
// never expires them.

// AddWaitingMarker records that messageID in key awaits a reply.
// Idempotent: re-adding the same pair changes nothing.
func (s *Store) AddWaitingMarker(key ConversationKey, messageID string) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.markers[key]
	if !ok {
		ids = make(map[string]struct{})
		s.markers[key] = ids
	}
	ids[messageID] = struct{}{}
	s.ensure(key)
}

// RemoveWaitingMarker drops the marker for (key, messageID). Removing
// an absent marker is a no-op.
func (s *Store) RemoveWaitingMarker(key ConversationKey, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.markers[key]
	if !ok {
		return
	}
	delete(ids, messageID)
	if len(ids) == 0 {
		delete(s.markers, key)
	}
}

// HasWaitingReply reports whether any marker is outstanding for key.
func (s *Store) HasWaitingReply(key ConversationKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers[key]) > 0
}
