package chatsync

import (
	"sort"
)

// chatList maintains the ordered conversation list for one user. It is owned
// by the Session loop; every mutation goes through its methods and leaves the
// list sorted by UpdatedAt descending with unique chat ids.
type chatList struct {
	userID      string
	chats       []Chat
	totalUnread int
}

func newChatList(userID string) *chatList {
	return &chatList{userID: userID}
}

// set replaces the whole list, e.g. from a refresh against the server of
// record, and recomputes the total unread counter.
func (l *chatList) set(chats []Chat) {
	l.chats = append([]Chat(nil), chats...)
	l.resort()
	total := 0
	for _, c := range l.chats {
		total += c.UnreadCount
	}
	l.totalUnread = total
}

func (l *chatList) find(chatID string) int {
	for i := range l.chats {
		if l.chats[i].ID == chatID {
			return i
		}
	}
	return -1
}

// applyNewMessage folds an inbound message into the list. Messages for
// conversations not in the list are ignored: the list only grows through the
// explicit new_chat signal or a full refresh, since a list entry built from a
// lone message would be missing participants and counters.
func (l *chatList) applyNewMessage(msg Message, openChatID string) bool {
	i := l.find(msg.ChatID)
	if i < 0 {
		return false
	}

	m := msg
	l.chats[i].LastMessage = &m
	if msg.CreatedAt.After(l.chats[i].UpdatedAt) {
		l.chats[i].UpdatedAt = msg.CreatedAt
	}

	if msg.AuthorID != l.userID && msg.ChatID != openChatID {
		l.chats[i].UnreadCount++
		l.chats[i].HasNewMessage = true
		l.totalUnread++
	} else {
		l.totalUnread -= l.chats[i].UnreadCount
		if l.totalUnread < 0 {
			l.totalUnread = 0
		}
		l.chats[i].UnreadCount = 0
		l.chats[i].HasNewMessage = false
	}

	l.resort()
	return true
}

// applyChatUpdated replaces the unread counter and flags with the server's
// authoritative values. An included total-unread aggregate updates the global
// counter independently of the per-chat entry.
func (l *chatList) applyChatUpdated(p ChatUpdatedPayload) bool {
	changed := false
	if p.TotalUnreadCount != nil {
		l.totalUnread = *p.TotalUnreadCount
		changed = true
	}

	i := l.find(p.ChatID)
	if i < 0 {
		return changed
	}

	l.chats[i].UnreadCount = p.UnreadCount
	l.chats[i].HasNewMessage = p.HasNewMessage
	if p.LastMessage != nil {
		m := *p.LastMessage
		m.Kind = KindConfirmed
		l.chats[i].LastMessage = &m
		if m.CreatedAt.After(l.chats[i].UpdatedAt) {
			l.chats[i].UpdatedAt = m.CreatedAt
		}
	}
	l.resort()
	return true
}

// applyNewChat inserts a conversation announced by the backend. The current
// user must appear among the participants; payloads that fail that check are
// rejected outright. Repeated announcements of the same id are no-ops.
func (l *chatList) applyNewChat(p NewChatPayload) bool {
	chat := p.Chat(l.userID)
	if !chat.HasParticipant(l.userID) {
		return false
	}
	if l.find(chat.ID) >= 0 {
		return false
	}
	l.chats = append([]Chat{chat}, l.chats...)
	l.resort()
	l.totalUnread += chat.UnreadCount
	return true
}

// markRead zeroes the unread state of one conversation.
func (l *chatList) markRead(chatID string) bool {
	i := l.find(chatID)
	if i < 0 {
		return false
	}
	l.totalUnread -= l.chats[i].UnreadCount
	if l.totalUnread < 0 {
		l.totalUnread = 0
	}
	l.chats[i].UnreadCount = 0
	l.chats[i].HasNewMessage = false
	return true
}

func (l *chatList) resort() {
	sort.SliceStable(l.chats, func(i, j int) bool {
		return l.chats[i].UpdatedAt.After(l.chats[j].UpdatedAt)
	})
}

// snapshot returns a copy safe to hand to subscribers.
func (l *chatList) snapshot() []Chat {
	return append([]Chat(nil), l.chats...)
}
