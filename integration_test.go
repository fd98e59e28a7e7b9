//go:build integration

package chatsync_test

import (
	"context"
	"os"
	"testing"
	"time"

	chatsync "github.com/ergasialabs/chatsync"
)

// Integration tests run against a live chat backend:
//
//	CHATSYNC_TOKEN_TEST=...  CHATSYNC_USER_TEST=... go test -tags integration ./...
//
// CHATSYNC_BASE_URL_TEST overrides the production base URL.

func testToken(t *testing.T) string {
	t.Helper()
	token := os.Getenv("CHATSYNC_TOKEN_TEST")
	if token == "" {
		t.Fatal("CHATSYNC_TOKEN_TEST environment variable is required")
	}
	return token
}

func testUserID(t *testing.T) string {
	t.Helper()
	userID := os.Getenv("CHATSYNC_USER_TEST")
	if userID == "" {
		t.Fatal("CHATSYNC_USER_TEST environment variable is required")
	}
	return userID
}

func newLiveClient(t *testing.T) *chatsync.Client {
	t.Helper()
	if base := os.Getenv("CHATSYNC_BASE_URL_TEST"); base != "" {
		return chatsync.NewClient(testToken(t), chatsync.WithBaseURL(base))
	}
	return chatsync.NewClient(testToken(t))
}

func TestIntegrationGetChats(t *testing.T) {
	client := newLiveClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	chats, err := client.GetChats(ctx, testUserID(t))
	if err != nil {
		t.Fatalf("GetChats failed: %v", err)
	}
	for i := 1; i < len(chats); i++ {
		if chats[i].UpdatedAt.After(chats[i-1].UpdatedAt) {
			t.Fatalf("expected chats sorted newest-updated first at index %d", i)
		}
	}
}

func TestIntegrationRealtimeConnect(t *testing.T) {
	client := newLiveClient(t)
	conn := client.NewConn(&chatsync.RealtimeConfig{UserID: testUserID(t)})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Disconnect()

	if !conn.Connected() {
		t.Fatal("expected connected state")
	}
}

func TestIntegrationSessionStart(t *testing.T) {
	client := newLiveClient(t)
	userID := testUserID(t)
	conn := client.NewConn(&chatsync.RealtimeConfig{UserID: userID, AutoReconnect: true})
	session := chatsync.NewSession(client, conn, &chatsync.SessionConfig{UserID: userID})
	defer session.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st := session.Snapshot()
	if !st.Connected {
		t.Fatal("expected connected session")
	}

	if len(st.Chats) > 0 {
		chatID := st.Chats[0].ID
		if err := session.SelectChat(ctx, chatID); err != nil {
			t.Fatalf("SelectChat failed: %v", err)
		}
		if got := session.Snapshot().SelectedChatID; got != chatID {
			t.Fatalf("expected %s selected, got %s", chatID, got)
		}
	}
}
