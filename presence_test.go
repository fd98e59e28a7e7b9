package chatsync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type fakePresenceAPI struct {
	mu    sync.Mutex
	calls []bool
}

func (f *fakePresenceAPI) UpdatePresence(_ context.Context, _ string, online bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, online)
	f.mu.Unlock()
	return nil
}

func (f *fakePresenceAPI) snapshot() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.calls...)
}

func (f *fakePresenceAPI) last(t *testing.T) bool {
	t.Helper()
	calls := f.snapshot()
	if len(calls) == 0 {
		t.Fatal("expected at least one presence call")
	}
	return calls[len(calls)-1]
}

func quietPresenceConfig() *PresenceConfig {
	// Long heartbeat keeps ticks out of visibility tests.
	return &PresenceConfig{
		HeartbeatInterval: time.Hour,
		OfflineDelay:      30 * time.Millisecond,
	}
}

func TestPresenceStartAndHeartbeat(t *testing.T) {
	api := &fakePresenceAPI{}
	tr := NewPresenceTracker(api, nil, &PresenceConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		OfflineDelay:      time.Hour,
	})

	tr.Start("me")
	defer tr.Stop()

	time.Sleep(70 * time.Millisecond)

	calls := api.snapshot()
	if len(calls) < 2 {
		t.Fatalf("expected initial marking plus heartbeats, got %d calls", len(calls))
	}
	for _, online := range calls {
		if !online {
			t.Fatal("expected only online markings while visible")
		}
	}
}

func TestPresenceVisibility(t *testing.T) {
	t.Run("hidden past the delay goes offline", func(t *testing.T) {
		api := &fakePresenceAPI{}
		tr := NewPresenceTracker(api, nil, quietPresenceConfig())
		tr.Start("me")
		defer tr.Stop()

		tr.SetVisible(false)
		time.Sleep(60 * time.Millisecond)

		if api.last(t) {
			t.Fatal("expected offline marking after the delay")
		}

		tr.SetVisible(true)
		time.Sleep(10 * time.Millisecond)
		if !api.last(t) {
			t.Fatal("expected online marking on return")
		}
	})

	t.Run("quick tab switch never flickers", func(t *testing.T) {
		api := &fakePresenceAPI{}
		tr := NewPresenceTracker(api, nil, quietPresenceConfig())
		tr.Start("me")
		defer tr.Stop()

		tr.SetVisible(false)
		time.Sleep(10 * time.Millisecond)
		tr.SetVisible(true)
		time.Sleep(60 * time.Millisecond)

		for _, online := range api.snapshot() {
			if !online {
				t.Fatal("expected no offline marking for a quick switch")
			}
		}
	})
}

func TestPresenceStop(t *testing.T) {
	api := &fakePresenceAPI{}
	tr := NewPresenceTracker(api, nil, quietPresenceConfig())
	tr.Start("me")

	tr.Stop()

	// The final offline call happens before Stop returns.
	if api.last(t) {
		t.Fatal("expected final marking to be offline")
	}

	before := len(api.snapshot())
	tr.Stop()
	if len(api.snapshot()) != before {
		t.Fatal("expected repeated Stop to be a no-op")
	}
}

func TestPresenceSubscribe(t *testing.T) {
	conn := NewConn("http://example.test", &RealtimeConfig{UserID: "me"})
	api := &fakePresenceAPI{}
	tr := NewPresenceTracker(api, conn, quietPresenceConfig())
	tr.Start("me")
	defer tr.Stop()

	var (
		mu  sync.Mutex
		got []PresenceInfo
	)
	off, err := tr.Subscribe("c1", func(info PresenceInfo) {
		mu.Lock()
		got = append(got, info)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	emit := func(chatID, userID string, online bool) {
		payload, _ := json.Marshal(PresenceChangedPayload{ChatID: chatID, UserID: userID, Online: online})
		conn.dispatcher.dispatch(EventPresenceChanged, payload)
	}

	emit("c1", "other", true)
	emit("c2", "other", false) // different chat
	emit("c1", "me", false)    // own presence

	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 1 || !got[0].Online || got[0].UserID != "other" {
		t.Fatalf("expected one update for the other participant, got %v", got)
	}

	t.Run("duplicate subscription is a no-op", func(t *testing.T) {
		off2, err := tr.Subscribe("c1", func(PresenceInfo) {
			t.Error("duplicate handler must not be registered")
		})
		if err != nil {
			t.Fatalf("duplicate subscribe failed: %v", err)
		}
		emit("c1", "other", false)
		off2()
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		off()
		emit("c1", "other", true)
		mu.Lock()
		defer mu.Unlock()
		if len(got) != 2 {
			t.Fatalf("expected no delivery after unsubscribe, got %d updates", len(got))
		}
	})

	t.Run("nil connection is rejected", func(t *testing.T) {
		bare := NewPresenceTracker(api, nil, nil)
		bare.Start("me")
		defer bare.Stop()
		if _, err := bare.Subscribe("c1", func(PresenceInfo) {}); err == nil {
			t.Fatal("expected error without a realtime connection")
		}
	})

	t.Run("unstarted tracker is rejected", func(t *testing.T) {
		idle := NewPresenceTracker(api, conn, quietPresenceConfig())
		if _, err := idle.Subscribe("c1", func(PresenceInfo) {}); err == nil {
			t.Fatal("expected error before Start sets the user id")
		}
	})
}
