package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// PresenceAPI is the slice of the data-access layer the tracker needs.
// *Client implements it.
type PresenceAPI interface {
	UpdatePresence(ctx context.Context, userID string, online bool) error
}

// PresenceConfig configures the presence tracker.
type PresenceConfig struct {
	HeartbeatInterval time.Duration
	OfflineDelay      time.Duration
	CallTimeout       time.Duration
	// OnError receives best-effort failures (heartbeat, subscription setup).
	// Presence degrades to "unknown" without blocking messaging.
	OnError func(error)
}

func (c *PresenceConfig) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.OfflineDelay == 0 {
		c.OfflineDelay = 2 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
}

// PresenceTracker maintains the current user's online signal (heartbeat +
// visibility) and fans out presence changes of other chat participants.
//
// The subscription registry is owned by the tracker instance, so independent
// sessions and tests cannot cross-contaminate each other's guards.
type PresenceTracker struct {
	api  PresenceAPI
	conn *Conn
	cfg  *PresenceConfig

	mu           sync.Mutex
	userID       string
	running      bool
	visible      bool
	wentOffline  bool
	offlineTimer *time.Timer
	stopCh       chan struct{}
	subs         map[string]func()
}

// NewPresenceTracker creates a tracker. conn may be nil, in which case
// Subscribe fails and only the heartbeat side works.
func NewPresenceTracker(api PresenceAPI, conn *Conn, config *PresenceConfig) *PresenceTracker {
	cfg := PresenceConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &PresenceTracker{
		api:  api,
		conn: conn,
		cfg:  &cfg,
		subs: make(map[string]func()),
	}
}

// Start marks the user online and begins the heartbeat. Idempotent.
func (t *PresenceTracker) Start(userID string) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.visible = true
	t.wentOffline = false
	t.userID = userID
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.mu.Unlock()

	t.mark(true)
	go t.heartbeatLoop(stopCh)
}

// Stop emits one final offline marking synchronously, halts the heartbeat,
// and then releases presence subscriptions asynchronously.
func (t *PresenceTracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	if t.offlineTimer != nil {
		t.offlineTimer.Stop()
		t.offlineTimer = nil
	}
	subs := t.subs
	t.subs = make(map[string]func())
	t.mu.Unlock()

	// The final offline transition must fire before resources are released.
	t.mark(false)

	go func() {
		for _, off := range subs {
			off()
		}
	}()
}

// SetVisible reports page visibility. Losing visibility defers the offline
// transition by the configured delay so a quick tab switch never flickers;
// regaining it inside the window cancels the pending transition outright.
func (t *PresenceTracker) SetVisible(visible bool) {
	t.mu.Lock()
	if !t.running || t.visible == visible {
		t.mu.Unlock()
		return
	}
	t.visible = visible

	if !visible {
		t.offlineTimer = time.AfterFunc(t.cfg.OfflineDelay, func() {
			t.mu.Lock()
			if !t.running || t.visible {
				t.mu.Unlock()
				return
			}
			t.wentOffline = true
			t.mu.Unlock()
			t.mark(false)
		})
		t.mu.Unlock()
		return
	}

	if t.offlineTimer != nil {
		t.offlineTimer.Stop()
		t.offlineTimer = nil
	}
	wentOffline := t.wentOffline
	t.wentOffline = false
	t.mu.Unlock()

	if wentOffline {
		t.mark(true)
	}
}

// Subscribe registers for presence changes of chatID's other participants.
// At most one subscription exists per (chat, user) pair; duplicates are
// no-ops. The tracker must be started first, since the pair key and the
// self-filter need the user id. The returned function removes the
// subscription.
func (t *PresenceTracker) Subscribe(chatID string, onChange func(PresenceInfo)) (func(), error) {
	if t.conn == nil {
		return nil, fmt.Errorf("presence subscription requires a realtime connection")
	}

	t.mu.Lock()
	if t.userID == "" {
		t.mu.Unlock()
		return nil, fmt.Errorf("presence tracker is not started")
	}
	key := chatID + "|" + t.userID
	if _, ok := t.subs[key]; ok {
		t.mu.Unlock()
		return func() {}, nil
	}

	self := t.userID
	off := t.conn.On(EventPresenceChanged, func(_ string, payload json.RawMessage) {
		var p PresenceChangedPayload
		if json.Unmarshal(payload, &p) != nil {
			return
		}
		if p.ChatID != chatID || p.UserID == self {
			return
		}
		onChange(p.Info())
	})
	t.subs[key] = off
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		if stored, ok := t.subs[key]; ok {
			delete(t.subs, key)
			t.mu.Unlock()
			stored()
			return
		}
		t.mu.Unlock()
	}, nil
}

func (t *PresenceTracker) heartbeatLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.mu.Lock()
			visible := t.visible
			t.mu.Unlock()
			if visible {
				t.mark(true)
			}
		}
	}
}

func (t *PresenceTracker) mark(online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CallTimeout)
	defer cancel()
	if err := t.api.UpdatePresence(ctx, t.userID, online); err != nil && t.cfg.OnError != nil {
		t.cfg.OnError(fmt.Errorf("presence update: %w", err))
	}
}
