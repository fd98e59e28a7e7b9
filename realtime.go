package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime connection.
type RealtimeConfig struct {
	UserID               string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	DialTimeout          time.Duration
	AckTimeout           time.Duration
	HTTPClient           *http.Client
}

func (c *RealtimeConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 1 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// ConnState represents the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// EventHandler is the raw event callback type.
type EventHandler func(event string, payload json.RawMessage)

// eventDispatcher fans events out to registered handlers. Dispatch is
// synchronous so transport-delivery order is preserved end to end.
type eventDispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]EventHandler
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{handlers: make(map[string]map[int]EventHandler)}
}

func (d *eventDispatcher) on(event string, h EventHandler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.handlers[event] == nil {
		d.handlers[event] = make(map[int]EventHandler)
	}
	d.handlers[event][id] = h
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.handlers[event], id)
		d.mu.Unlock()
	}
}

func (d *eventDispatcher) dispatch(event string, payload json.RawMessage) {
	d.mu.RLock()
	hs := make([]EventHandler, 0, len(d.handlers[event]))
	for _, h := range d.handlers[event] {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(event, payload)
	}
}

func (d *eventDispatcher) removeAll() {
	d.mu.Lock()
	d.handlers = make(map[string]map[int]EventHandler)
	d.mu.Unlock()
}

// ============================================================================
// Conn
// ============================================================================

// Conn owns the single realtime connection for one user session. All other
// components read from its event stream via On and write through its emit
// primitives; none of them touch the socket directly.
//
// Connection loss triggers bounded automatic reconnection; once attempts are
// exhausted the connection stays disconnected until Connect is called again.
type Conn struct {
	baseURL string
	config  *RealtimeConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	attempt          int
	reconnecting     bool
	activeChat       string
	cancelFn         context.CancelFunc

	dispatcher *eventDispatcher

	ackCounter  int
	pendingAcks map[string]chan AckPayload
	ackMu       sync.Mutex
}

// NewConn creates a realtime connection manager bound to the given user.
// Call Connect to establish the connection.
func NewConn(baseURL string, config *RealtimeConfig) *Conn {
	cfg := *config
	cfg.defaults()
	return &Conn{
		baseURL:     strings.TrimRight(baseURL, "/"),
		config:      &cfg,
		state:       StateDisconnected,
		dispatcher:  newEventDispatcher(),
		pendingAcks: make(map[string]chan AckPayload),
	}
}

// On registers a handler for the named event and returns a function that
// removes exactly that registration. A removed subscription stops delivering
// immediately.
func (c *Conn) On(event string, h EventHandler) func() {
	return c.dispatcher.on(event, h)
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the connection is established.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// wsURL builds the websocket endpoint annotated with the user id.
func (c *Conn) wsURL() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?userId=" + c.config.UserID
}

// Connect establishes the connection. Calling it while connected, already
// connecting, or while the reconnect cycle is running is a no-op, so at most
// one connection exists per user session. A fresh Connect after exhausted
// reconnect attempts starts a new cycle.
//
// With AutoReconnect set, dial failures are swallowed: they surface as
// connect_error events and the bounded retry cycle takes over.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentionalClose = false
	c.attempt = 0
	c.mu.Unlock()

	err := c.dial(ctx)
	if err != nil && c.config.AutoReconnect {
		c.startReconnect()
		return nil
	}
	return err
}

func (c *Conn) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.wsURL(), &websocket.DialOptions{
		HTTPClient: c.config.HTTPClient,
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.dispatcher.dispatch(EventConnectError, errorPayload(err))
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.attempt = 0
	active := c.activeChat
	c.mu.Unlock()

	c.dispatcher.dispatch(EventConnect, nil)

	// Resume conversation-scoped event delivery after a reconnect.
	if active != "" {
		_ = c.JoinChat(context.Background(), active)
	}

	connCtx, cancelRead := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelFn = cancelRead
	c.mu.Unlock()

	go c.readLoop(connCtx, conn)
	return nil
}

// Disconnect gracefully closes the connection and suppresses reconnection.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.clearPendingAcks()

	if conn != nil {
		err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.dispatcher.dispatch(EventDisconnect, reasonPayload("client disconnect"))
		return err
	}
	c.dispatcher.dispatch(EventDisconnect, reasonPayload("client disconnect"))
	return nil
}

// JoinChat subscribes the connection to conversation-scoped events and
// records the chat as active so a reconnect rejoins it.
func (c *Conn) JoinChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	c.activeChat = chatID
	c.mu.Unlock()
	return c.Emit(ctx, &Command{Type: CmdJoinChat, Payload: map[string]string{"chatId": chatID}})
}

// LeaveChat clears the active chat without emitting anything; the server
// stops routing once the next join overrides the room.
func (c *Conn) LeaveChat(chatID string) {
	c.mu.Lock()
	if c.activeChat == chatID {
		c.activeChat = ""
	}
	c.mu.Unlock()
}

// MarkChatRead tells the backend to reset the viewer's unread counter.
func (c *Conn) MarkChatRead(ctx context.Context, chatID string) error {
	return c.Emit(ctx, &Command{Type: CmdMarkChatRead, Payload: map[string]string{"chat_id": chatID}})
}

// SendMessage emits a send_message command and waits for the server
// acknowledgement. The returned ack carries either the confirmed message or
// an error string.
func (c *Conn) SendMessage(ctx context.Context, payload SendMessagePayload) (*AckPayload, error) {
	c.ackMu.Lock()
	c.ackCounter++
	requestID := fmt.Sprintf("send-%d", c.ackCounter)
	ch := make(chan AckPayload, 1)
	c.pendingAcks[requestID] = ch
	c.ackMu.Unlock()

	err := c.Emit(ctx, &Command{Type: CmdSendMessage, Payload: payload, RequestID: requestID})
	if err != nil {
		c.dropPendingAck(requestID)
		return nil, err
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		return &ack, nil
	case <-time.After(c.config.AckTimeout):
		c.dropPendingAck(requestID)
		return nil, fmt.Errorf("ack timeout")
	case <-ctx.Done():
		c.dropPendingAck(requestID)
		return nil, ctx.Err()
	}
}

// Emit sends a raw command over the connection.
func (c *Conn) Emit(ctx context.Context, cmd *Command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.mu.Unlock()
			if intentional {
				return
			}

			c.mu.Lock()
			c.state = StateDisconnected
			c.conn = nil
			c.mu.Unlock()

			c.clearPendingAcks()
			c.dispatcher.dispatch(EventDisconnect, reasonPayload(err.Error()))

			if c.config.AutoReconnect {
				c.startReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		if env.Type == "ack" {
			var ack AckPayload
			if json.Unmarshal(env.Payload, &ack) == nil && ack.RequestID != "" {
				c.ackMu.Lock()
				ch, ok := c.pendingAcks[ack.RequestID]
				if ok {
					delete(c.pendingAcks, ack.RequestID)
				}
				c.ackMu.Unlock()
				if ok {
					ch <- ack
				}
			}
			continue
		}

		c.dispatcher.dispatch(env.Type, env.Payload)
	}
}

// startReconnect launches the reconnect cycle unless one is already running.
// The reconnecting flag is owned here and cleared when the loop exits; while
// it is set, Connect is a no-op, so the loop is the only dialer.
func (c *Conn) startReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.intentionalClose {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()
	go c.reconnectLoop()
}

// reconnectLoop retries with a fixed delay until connected, attempts are
// exhausted, or the caller disconnects. Exhaustion leaves the connection in a
// terminal disconnected state; the caller may retry manually via Connect.
func (c *Conn) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.intentionalClose || c.state == StateConnected {
			c.mu.Unlock()
			return
		}
		if c.attempt >= c.config.MaxReconnectAttempts {
			c.state = StateDisconnected
			c.mu.Unlock()
			c.dispatcher.dispatch(EventConnectError, reasonPayload("reconnect attempts exhausted"))
			return
		}
		c.attempt++
		c.state = StateReconnecting
		c.mu.Unlock()

		time.Sleep(c.config.ReconnectDelay)

		c.mu.Lock()
		if c.intentionalClose || c.state == StateConnected {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.dial(context.Background()); err == nil {
			return
		}
	}
}

func (c *Conn) dropPendingAck(requestID string) {
	c.ackMu.Lock()
	delete(c.pendingAcks, requestID)
	c.ackMu.Unlock()
}

func (c *Conn) clearPendingAcks() {
	c.ackMu.Lock()
	for k, ch := range c.pendingAcks {
		close(ch)
		delete(c.pendingAcks, k)
	}
	c.ackMu.Unlock()
}

func errorPayload(err error) json.RawMessage {
	return reasonPayload(err.Error())
}

func reasonPayload(reason string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"reason": reason})
	return b
}
