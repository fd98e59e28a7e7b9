package chatsync

// messageStream maintains the ordered message window for the currently open
// conversation. It is owned by the Session loop. The processed-id set keeps
// server deliveries idempotent; optimistic entries are reconciled against
// their server echo by author and exact content.
type messageStream struct {
	chatID    string
	messages  []Message
	processed map[string]struct{}
	hasMore   bool
}

func newMessageStream() *messageStream {
	return &messageStream{processed: make(map[string]struct{})}
}

// open attaches the stream to a conversation with its newest history page,
// discarding any previous window. history arrives oldest-first.
func (s *messageStream) open(chatID string, history []Message) {
	s.chatID = chatID
	s.messages = append([]Message(nil), history...)
	s.processed = make(map[string]struct{}, len(history))
	for i := range s.messages {
		s.messages[i].Kind = KindConfirmed
		s.processed[s.messages[i].ID] = struct{}{}
	}
	s.hasMore = true
}

// close detaches the stream. Events for the closed conversation stop applying
// because the Session unsubscribes its handlers; the chat id check in the
// apply methods is the second line of defense for already-queued events.
func (s *messageStream) close() {
	s.chatID = ""
	s.messages = nil
	s.processed = make(map[string]struct{})
	s.hasMore = false
}

func (s *messageStream) openFor(chatID string) bool {
	return s.chatID != "" && s.chatID == chatID
}

// applyNew folds a server-delivered message into the window:
//
//  1. an already-processed id is discarded,
//  2. an optimistic entry with the same author and exact content is replaced
//     in place, preserving its position,
//  3. otherwise the message is appended.
//
// When two in-flight optimistic entries carry identical author and content
// (rapid double-submit), the first in scan order wins; the second reconciles
// against the next echo.
func (s *messageStream) applyNew(msg Message) bool {
	if !s.openFor(msg.ChatID) {
		return false
	}
	if _, ok := s.processed[msg.ID]; ok {
		return false
	}

	msg.Kind = KindConfirmed
	msg.LocalID = ""
	msg.Status = ""

	for i := range s.messages {
		m := &s.messages[i]
		if m.Optimistic() && m.AuthorID == msg.AuthorID && m.Content == msg.Content {
			s.messages[i] = msg
			s.processed[msg.ID] = struct{}{}
			return true
		}
	}

	s.messages = append(s.messages, msg)
	s.processed[msg.ID] = struct{}{}
	return true
}

// applyEdit patches content and edit flags in place; position never changes.
func (s *messageStream) applyEdit(p MessageUpdatedPayload) bool {
	if !s.openFor(p.ChatID) {
		return false
	}
	for i := range s.messages {
		if s.messages[i].ID == p.ID && !s.messages[i].Optimistic() {
			s.messages[i].Content = p.Content
			s.messages[i].Edited = true
			s.messages[i].EditedAt = p.EditedAt
			return true
		}
	}
	return false
}

// applyDelete sets the soft-delete flag in place. Content stays in memory so
// the UI can render a deleted-message placeholder.
func (s *messageStream) applyDelete(p MessageDeletedPayload) bool {
	if !s.openFor(p.ChatID) {
		return false
	}
	for i := range s.messages {
		if s.messages[i].ID == p.ID && !s.messages[i].Optimistic() {
			s.messages[i].Deleted = true
			return true
		}
	}
	return false
}

// appendOptimistic adds a locally-created pending entry to the end of the
// window.
func (s *messageStream) appendOptimistic(m Message) {
	s.messages = append(s.messages, m)
}

func (s *messageStream) findLocal(localID string) int {
	for i := range s.messages {
		if s.messages[i].Optimistic() && s.messages[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// setStatus updates the delivery status of an optimistic entry.
func (s *messageStream) setStatus(localID string, status MessageStatus) bool {
	i := s.findLocal(localID)
	if i < 0 {
		return false
	}
	s.messages[i].Status = status
	return true
}

// removeLocal drops an optimistic entry outright (used by retry, which
// resubmits the content under a fresh local id).
func (s *messageStream) removeLocal(localID string) (Message, bool) {
	i := s.findLocal(localID)
	if i < 0 {
		return Message{}, false
	}
	m := s.messages[i]
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return m, true
}

// removeIfConfirmed drops an acknowledged optimistic entry only when a
// confirmed message with the same author and content already exists, so the
// user's text is never dropped from view before its echo landed.
func (s *messageStream) removeIfConfirmed(localID string) bool {
	i := s.findLocal(localID)
	if i < 0 {
		return false
	}
	local := s.messages[i]
	for j := range s.messages {
		if j == i || s.messages[j].Optimistic() {
			continue
		}
		if s.messages[j].AuthorID == local.AuthorID && s.messages[j].Content == local.Content {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// prependHistory inserts an older page before the current window, skipping
// ids already present so repeated loads cannot duplicate. older arrives
// oldest-first. Returns how many entries were added.
func (s *messageStream) prependHistory(older []Message) int {
	fresh := make([]Message, 0, len(older))
	for _, m := range older {
		if _, ok := s.processed[m.ID]; ok {
			continue
		}
		m.Kind = KindConfirmed
		s.processed[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return 0
	}
	s.messages = append(fresh, s.messages...)
	return len(fresh)
}

// oldest returns the oldest confirmed message, used as the pagination cursor.
func (s *messageStream) oldest() (Message, bool) {
	for i := range s.messages {
		if !s.messages[i].Optimistic() {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

// snapshot returns a copy safe to hand to subscribers.
func (s *messageStream) snapshot() []Message {
	return append([]Message(nil), s.messages...)
}
