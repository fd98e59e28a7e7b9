package chatsync

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Domain Types
// ============================================================================

// MessageKind tags a message as a locally-created optimistic entry or a
// server-confirmed one. Wire messages are always confirmed; optimistic entries
// exist only in client memory.
type MessageKind string

const (
	KindConfirmed  MessageKind = "confirmed"
	KindOptimistic MessageKind = "optimistic"
)

// MessageStatus is the delivery state of a client-originated message.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusPending MessageStatus = "pending"
	StatusError   MessageStatus = "error"
)

// Message is a chat message. The Kind/LocalID/Status fields are local-only and
// never cross the wire.
type Message struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chatId"`
	AuthorID  string     `json:"authorId"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	Edited    bool       `json:"edited,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
	ReplyToID string     `json:"replyToId,omitempty"`

	Kind    MessageKind   `json:"-"`
	LocalID string        `json:"-"`
	Status  MessageStatus `json:"-"`
}

// Optimistic reports whether this entry is a pending local message.
func (m *Message) Optimistic() bool {
	return m.Kind == KindOptimistic
}

// Participant is a chat member.
type Participant struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// Chat is one conversation in the user's chat list.
type Chat struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	IsGroup       bool          `json:"isGroup"`
	Participants  []Participant `json:"participants"`
	LastMessage   *Message      `json:"lastMessage,omitempty"`
	UnreadCount   int           `json:"unreadCount"`
	HasNewMessage bool          `json:"hasNewMessage"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// HasParticipant reports whether userID is a member of the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// DisplayName returns the chat name, derived for 1:1 chats from the other
// participant when the chat carries no name of its own.
func (c *Chat) DisplayName(viewerID string) string {
	if c.Name != "" || c.IsGroup {
		return c.Name
	}
	for _, p := range c.Participants {
		if p.UserID != viewerID {
			if p.DisplayName != "" {
				return p.DisplayName
			}
			return p.UserID
		}
	}
	return c.Name
}

// PresenceInfo is the online/last-seen state of one user. Ephemeral; the
// client never persists it beyond the session.
type PresenceInfo struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// ============================================================================
// Realtime Wire Types
// ============================================================================

// Event names delivered by the connection backend.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventConnectError    = "connect_error"
	EventNewMessage      = "new_message"
	EventChatUpdated     = "chat_updated"
	EventNewChat         = "new_chat"
	EventMessageUpdated  = "message_updated"
	EventMessageDeleted  = "message_deleted"
	EventPresenceChanged = "presence_changed"
)

// Command names emitted by the client.
const (
	CmdSendMessage  = "send_message"
	CmdJoinChat     = "join_chat"
	CmdMarkChatRead = "mark_chat_read"
)

// Envelope is the wire format for all server-to-client events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server emit, optionally ack-correlated by RequestID.
type Command struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// SendMessagePayload is the send_message emit payload.
type SendMessagePayload struct {
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
	AuthorID  string `json:"authorId"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// AckPayload is the server acknowledgement for an ack-correlated command.
type AckPayload struct {
	RequestID string   `json:"requestId"`
	Success   bool     `json:"success"`
	Message   *Message `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ChatUpdatedPayload is the authoritative per-chat unread/last-message push.
type ChatUpdatedPayload struct {
	ChatID           string   `json:"chatId"`
	UnreadCount      int      `json:"unreadCount"`
	HasNewMessage    bool     `json:"hasNewMessage"`
	LastMessage      *Message `json:"lastMessage,omitempty"`
	TotalUnreadCount *int     `json:"totalUnreadCount,omitempty"`
}

// NewChatPayload announces a conversation created with the current user as a
// participant. The per-user unread counters arrive as a map keyed by user id.
type NewChatPayload struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	IsGroup        bool           `json:"isGroup"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	UnreadCountMap map[string]int `json:"unreadCountMap"`
	LastMessage    *Message       `json:"lastMessage,omitempty"`
	Participants   []Participant  `json:"participants"`
}

// Chat converts the payload into a Chat entry for the given viewer.
func (p *NewChatPayload) Chat(viewerID string) Chat {
	return Chat{
		ID:           p.ID,
		Name:         p.Name,
		IsGroup:      p.IsGroup,
		Participants: p.Participants,
		LastMessage:  p.LastMessage,
		UnreadCount:  p.UnreadCountMap[viewerID],
		UpdatedAt:    p.UpdatedAt,
	}
}

// MessageUpdatedPayload is the in-place edit push.
type MessageUpdatedPayload struct {
	ID       string     `json:"id"`
	ChatID   string     `json:"chatId"`
	Content  string     `json:"content"`
	EditedAt *time.Time `json:"editedAt,omitempty"`
}

// MessageDeletedPayload is the soft-delete push.
type MessageDeletedPayload struct {
	ID     string `json:"id"`
	ChatID string `json:"chatId"`
}

// PresenceChangedPayload is sent when a chat participant's presence changes.
type PresenceChangedPayload struct {
	ChatID   string    `json:"chatId"`
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// Info converts the payload to a PresenceInfo record.
func (p *PresenceChangedPayload) Info() PresenceInfo {
	return PresenceInfo{UserID: p.UserID, Online: p.Online, LastSeen: p.LastSeen}
}

// ============================================================================
// API Types
// ============================================================================

// AuthData is returned by Login.
type AuthData struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	ExpiresIn   string `json:"expiresIn"`
}

// HistoryOptions paginates message history. Before is exclusive; zero means
// "newest page".
type HistoryOptions struct {
	Limit  int
	Before time.Time
}

// SendResult is the outcome of an optimistic send. Success means the message
// was accepted and rendered locally; delivery outcome is reflected on the
// entry's Status afterwards.
type SendResult struct {
	Success bool
	LocalID string
	Error   string
}
