package chatsync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Configuration
// ============================================================================

// SessionConfig configures a Session.
type SessionConfig struct {
	UserID       string
	HistoryLimit int
	AckGrace     time.Duration
	SendTimeout  time.Duration
}

func (c *SessionConfig) defaults() {
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 30
	}
	if c.AckGrace == 0 {
		c.AckGrace = 1 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// SessionAPI is the slice of the HTTP API the session reads from. *Client
// implements it.
type SessionAPI interface {
	GetChats(ctx context.Context, userID string) ([]Chat, error)
	GetMessages(ctx context.Context, chatID, userID string, opts *HistoryOptions) ([]Message, error)
}

// Transport is the realtime surface the session drives. *Conn implements it.
type Transport interface {
	On(event string, h EventHandler) func()
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	JoinChat(ctx context.Context, chatID string) error
	LeaveChat(chatID string)
	MarkChatRead(ctx context.Context, chatID string) error
	SendMessage(ctx context.Context, payload SendMessagePayload) (*AckPayload, error)
}

// ============================================================================
// State
// ============================================================================

// State is an immutable snapshot of the session, handed to OnChange
// subscribers after every mutation.
type State struct {
	Connected       bool
	Chats           []Chat
	TotalUnread     int
	SelectedChatID  string
	Messages        []Message
	LoadingMessages bool
	HasMore         bool
	Presence        map[string]PresenceInfo
}

// ============================================================================
// Session
// ============================================================================

// Session keeps one user's chat list, open message window, and participant
// presence synchronized against the realtime event stream.
//
// All state lives behind a single event loop: realtime handlers and public
// methods post closures onto the loop's channel, so mutations apply one at a
// time in transport-delivery order and no lock covers the session state.
// Subscribers observe the session only through State snapshots.
type Session struct {
	cfg  *SessionConfig
	api  SessionAPI
	conn Transport

	events chan func()
	done   chan struct{}
	stop   sync.Once

	// Loop-owned. Touched only by closures running on the event loop.
	list      *chatList
	stream    *messageStream
	presence  map[string]PresenceInfo
	connected bool
	loading   bool
	chatOffs  []func()

	connOffs []func()

	subMu    sync.Mutex
	subID    int
	onChange map[int]func(State)
	onError  map[int]func(error)
}

// NewSession creates a session and starts its event loop. Call Start to
// connect and load the chat list, and Stop when done.
func NewSession(api SessionAPI, conn Transport, config *SessionConfig) *Session {
	cfg := *config
	cfg.defaults()
	s := &Session{
		cfg:      &cfg,
		api:      api,
		conn:     conn,
		events:   make(chan func()),
		done:     make(chan struct{}),
		list:     newChatList(cfg.UserID),
		stream:   newMessageStream(),
		presence: make(map[string]PresenceInfo),
		onChange: make(map[int]func(State)),
		onError:  make(map[int]func(error)),
	}

	s.connOffs = []func(){
		conn.On(EventConnect, func(_ string, _ json.RawMessage) {
			s.post(func() {
				s.connected = true
				s.notify()
			})
		}),
		conn.On(EventDisconnect, func(_ string, _ json.RawMessage) {
			s.post(func() {
				s.connected = false
				s.notify()
			})
		}),
		conn.On(EventConnectError, func(_ string, payload json.RawMessage) {
			reason := decodeReason(payload)
			s.post(func() {
				s.emitError(fmt.Errorf("connection error: %s", reason))
			})
		}),
		conn.On(EventNewMessage, func(_ string, payload json.RawMessage) {
			var msg Message
			if json.Unmarshal(payload, &msg) != nil {
				return
			}
			s.post(func() { s.handleNewMessage(msg) })
		}),
		conn.On(EventChatUpdated, func(_ string, payload json.RawMessage) {
			var p ChatUpdatedPayload
			if json.Unmarshal(payload, &p) != nil {
				return
			}
			s.post(func() {
				if s.list.applyChatUpdated(p) {
					s.notify()
				}
			})
		}),
		conn.On(EventNewChat, func(_ string, payload json.RawMessage) {
			var p NewChatPayload
			if json.Unmarshal(payload, &p) != nil {
				return
			}
			s.post(func() {
				if s.list.applyNewChat(p) {
					s.notify()
				}
			})
		}),
		conn.On(EventPresenceChanged, func(_ string, payload json.RawMessage) {
			var p PresenceChangedPayload
			if json.Unmarshal(payload, &p) != nil {
				return
			}
			s.post(func() {
				if !s.stream.openFor(p.ChatID) || p.UserID == s.cfg.UserID {
					return
				}
				s.presence[p.UserID] = p.Info()
				s.notify()
			})
		}),
	}

	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// post hands a closure to the event loop. Closures from the same realtime
// handler apply in delivery order because dispatch is synchronous upstream.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// postWait posts a closure and blocks until the loop has run it.
func (s *Session) postWait(fn func()) {
	ran := make(chan struct{})
	s.post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
	case <-s.done:
	}
}

// ============================================================================
// Subscriptions
// ============================================================================

// OnChange registers a state snapshot subscriber and returns a function that
// removes it. Subscribers run on the event loop; keep them fast.
func (s *Session) OnChange(fn func(State)) func() {
	s.subMu.Lock()
	s.subID++
	id := s.subID
	s.onChange[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.onChange, id)
		s.subMu.Unlock()
	}
}

// OnError registers a subscriber for background failures (delivery errors,
// pagination failures, connection errors).
func (s *Session) OnError(fn func(error)) func() {
	s.subMu.Lock()
	s.subID++
	id := s.subID
	s.onError[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.onError, id)
		s.subMu.Unlock()
	}
}

// notify runs on the event loop.
func (s *Session) notify() {
	st := s.snapshot()
	s.subMu.Lock()
	subs := make([]func(State), 0, len(s.onChange))
	for _, fn := range s.onChange {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

func (s *Session) emitError(err error) {
	s.subMu.Lock()
	subs := make([]func(error), 0, len(s.onError))
	for _, fn := range s.onError {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

// snapshot runs on the event loop.
func (s *Session) snapshot() State {
	presence := make(map[string]PresenceInfo, len(s.presence))
	for k, v := range s.presence {
		presence[k] = v
	}
	return State{
		Connected:       s.connected,
		Chats:           s.list.snapshot(),
		TotalUnread:     s.list.totalUnread,
		SelectedChatID:  s.stream.chatID,
		Messages:        s.stream.snapshot(),
		LoadingMessages: s.loading,
		HasMore:         s.stream.hasMore,
		Presence:        presence,
	}
}

// Snapshot returns the current state. Safe from any goroutine.
func (s *Session) Snapshot() State {
	var st State
	s.postWait(func() { st = s.snapshot() })
	return st
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start connects the realtime transport and loads the chat list.
func (s *Session) Start(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Stop disconnects the transport, detaches all handlers, and halts the event
// loop. The session cannot be restarted.
func (s *Session) Stop() {
	s.stop.Do(func() {
		s.postWait(func() { s.closeChatLocked() })
		_ = s.conn.Disconnect()
		for _, off := range s.connOffs {
			off()
		}
		close(s.done)
	})
}

// Refresh replaces the chat list from the server of record.
func (s *Session) Refresh(ctx context.Context) error {
	chats, err := s.api.GetChats(ctx, s.cfg.UserID)
	if err != nil {
		s.post(func() { s.emitError(fmt.Errorf("refresh chats: %w", err)) })
		return err
	}
	s.postWait(func() {
		s.list.set(chats)
		s.notify()
	})
	return nil
}

// ============================================================================
// Conversation window
// ============================================================================

// SelectChat opens a conversation: joins its realtime room, loads the newest
// history page, resets its unread counter, and subscribes to its
// message-level events. Selecting a new chat closes the previous one first.
func (s *Session) SelectChat(ctx context.Context, chatID string) error {
	if err := s.conn.JoinChat(ctx, chatID); err != nil {
		// History still loads over HTTP; realtime resumes on reconnect.
		s.post(func() { s.emitError(fmt.Errorf("join chat: %w", err)) })
	}

	history, err := s.api.GetMessages(ctx, chatID, s.cfg.UserID, &HistoryOptions{Limit: s.cfg.HistoryLimit})
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	s.postWait(func() {
		s.closeChatLocked()
		s.stream.open(chatID, history)
		if len(history) < s.cfg.HistoryLimit {
			s.stream.hasMore = false
		}
		s.list.markRead(chatID)
		s.subscribeChatLocked(chatID)
		s.notify()
	})

	go func() { _ = s.conn.MarkChatRead(context.Background(), chatID) }()
	return nil
}

// CloseChat closes the open conversation. Its handlers are removed
// synchronously, so no further message events apply to the stale window.
func (s *Session) CloseChat() {
	s.postWait(func() {
		if s.stream.chatID == "" {
			return
		}
		s.conn.LeaveChat(s.stream.chatID)
		s.closeChatLocked()
		s.notify()
	})
}

// closeChatLocked runs on the event loop.
func (s *Session) closeChatLocked() {
	for _, off := range s.chatOffs {
		off()
	}
	s.chatOffs = nil
	s.stream.close()
	s.presence = make(map[string]PresenceInfo)
	s.loading = false
}

// subscribeChatLocked runs on the event loop.
func (s *Session) subscribeChatLocked(chatID string) {
	s.chatOffs = []func(){
		s.conn.On(EventMessageUpdated, func(_ string, payload json.RawMessage) {
			var p MessageUpdatedPayload
			if json.Unmarshal(payload, &p) != nil || p.ChatID != chatID {
				return
			}
			s.post(func() {
				if s.stream.applyEdit(p) {
					s.notify()
				}
			})
		}),
		s.conn.On(EventMessageDeleted, func(_ string, payload json.RawMessage) {
			var p MessageDeletedPayload
			if json.Unmarshal(payload, &p) != nil || p.ChatID != chatID {
				return
			}
			s.post(func() {
				if s.stream.applyDelete(p) {
					s.notify()
				}
			})
		}),
	}
}

// handleNewMessage runs on the event loop.
func (s *Session) handleNewMessage(msg Message) {
	changed := s.list.applyNewMessage(msg, s.stream.chatID)
	if s.stream.openFor(msg.ChatID) {
		if s.stream.applyNew(msg) {
			changed = true
		}
	}
	if changed {
		s.notify()
	}
}

// MarkRead resets the unread counter of a conversation locally and tells the
// backend to do the same.
func (s *Session) MarkRead(ctx context.Context, chatID string) {
	s.postWait(func() {
		if s.list.markRead(chatID) {
			s.notify()
		}
	})
	_ = s.conn.MarkChatRead(ctx, chatID)
}

// ============================================================================
// Sending
// ============================================================================

const errCannotSend = "Cannot send message"

// Send submits a message to the open conversation. It validates synchronously
// and, on acceptance, renders an optimistic entry immediately; delivery
// continues in the background and is reflected on the entry's Status.
//
// Empty content and a disconnected transport are rejected up front, without
// creating an entry.
func (s *Session) Send(content string) SendResult {
	return s.submit(content, "")
}

// SendReply is Send with a reply-to reference.
func (s *Session) SendReply(content, replyToID string) SendResult {
	return s.submit(content, replyToID)
}

func (s *Session) submit(content, replyToID string) SendResult {
	res := SendResult{Error: errCannotSend}
	s.postWait(func() {
		if strings.TrimSpace(content) == "" {
			return
		}
		if s.stream.chatID == "" || !s.conn.Connected() {
			return
		}
		res = s.enqueueLocked(content, replyToID)
	})
	return res
}

// enqueueLocked runs on the event loop. The caller has already validated.
func (s *Session) enqueueLocked(content, replyToID string) SendResult {
	localID := newLocalID()
	chatID := s.stream.chatID
	s.stream.appendOptimistic(Message{
		ChatID:    chatID,
		AuthorID:  s.cfg.UserID,
		Content:   content,
		CreatedAt: time.Now(),
		ReplyToID: replyToID,
		Kind:      KindOptimistic,
		LocalID:   localID,
		Status:    StatusSending,
	})
	s.notify()

	go s.deliver(localID, SendMessagePayload{
		ChatID:    chatID,
		Content:   content,
		AuthorID:  s.cfg.UserID,
		ReplyToID: replyToID,
	})

	return SendResult{Success: true, LocalID: localID}
}

func (s *Session) deliver(localID string, payload SendMessagePayload) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()

	ack, err := s.conn.SendMessage(ctx, payload)
	s.post(func() {
		if err != nil || !ack.Success {
			if err == nil {
				err = fmt.Errorf("%s", ack.Error)
			}
			if s.stream.setStatus(localID, StatusError) {
				s.notify()
			}
			s.emitError(fmt.Errorf("send message: %w", err))
			return
		}

		if ack.Message != nil {
			// The ack carries the confirmed message; reconcile immediately.
			// A later echo of the same id is dropped by the processed set.
			if s.stream.applyNew(*ack.Message) {
				s.notify()
			}
			return
		}

		// Acknowledged without a body. Hold the optimistic entry through a
		// short grace window so the text never vanishes before its echo.
		if s.stream.setStatus(localID, StatusSent) {
			s.notify()
		}
		time.AfterFunc(s.cfg.AckGrace, func() {
			s.post(func() {
				if s.stream.removeIfConfirmed(localID) {
					s.notify()
				}
			})
		})
	})
}

// Retry resubmits a failed message under a fresh local id. While disconnected
// it is rejected and the errored entry stays in place, so the content is
// never lost.
func (s *Session) Retry(localID string) SendResult {
	res := SendResult{Error: errCannotSend}
	s.postWait(func() {
		i := s.stream.findLocal(localID)
		if i < 0 {
			res = SendResult{Error: "message not found"}
			return
		}
		if !s.conn.Connected() {
			return
		}
		msg, _ := s.stream.removeLocal(localID)
		res = s.enqueueLocked(msg.Content, msg.ReplyToID)
	})
	return res
}

// ============================================================================
// Pagination
// ============================================================================

// LoadOlder fetches the page preceding the oldest loaded message and prepends
// it. At most one load runs at a time; when the conversation's history is
// exhausted or a fetch fails, further calls are no-ops until the chat is
// reopened.
func (s *Session) LoadOlder(ctx context.Context) error {
	var (
		chatID string
		before time.Time
		start  bool
	)
	s.postWait(func() {
		if s.loading || s.stream.chatID == "" || !s.stream.hasMore {
			return
		}
		oldest, ok := s.stream.oldest()
		if !ok {
			return
		}
		s.loading = true
		chatID = s.stream.chatID
		before = oldest.CreatedAt
		start = true
		s.notify()
	})
	if !start {
		return nil
	}

	page, err := s.api.GetMessages(ctx, chatID, s.cfg.UserID, &HistoryOptions{
		Limit:  s.cfg.HistoryLimit,
		Before: before,
	})

	s.postWait(func() {
		s.loading = false
		if !s.stream.openFor(chatID) {
			s.notify()
			return
		}
		if err != nil {
			// Loaded messages stay intact; reopening the chat resets paging.
			s.stream.hasMore = false
			s.emitError(fmt.Errorf("load older messages: %w", err))
			s.notify()
			return
		}
		s.stream.prependHistory(page)
		if len(page) < s.cfg.HistoryLimit {
			s.stream.hasMore = false
		}
		s.notify()
	})
	return err
}

// ============================================================================
// Helpers
// ============================================================================

func newLocalID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("temp-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

func decodeReason(payload json.RawMessage) string {
	var p struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(payload, &p) == nil && p.Reason != "" {
		return p.Reason
	}
	return "unknown"
}
