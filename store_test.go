package chatsync

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreMessages(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.PutMessages([]Message{
				testMsg("m1", "c1", "a", "one", base),
				testMsg("m2", "c1", "a", "two", base.Add(time.Minute)),
				testMsg("m3", "c1", "b", "three", base.Add(2*time.Minute)),
				testMsg("m4", "c2", "a", "other chat", base),
				{ChatID: "c1", AuthorID: "me", Content: "pending", Kind: KindOptimistic, LocalID: "tmp-1"},
			})
			if err != nil {
				t.Fatalf("put failed: %v", err)
			}

			t.Run("newest page oldest-first", func(t *testing.T) {
				msgs, err := store.Messages("c1", 2, time.Time{})
				if err != nil {
					t.Fatal(err)
				}
				if got := streamIDs(msgs); len(got) != 2 || got[0] != "m2" || got[1] != "m3" {
					t.Fatalf("expected [m2 m3], got %v", got)
				}
				for _, m := range msgs {
					if m.Kind != KindConfirmed {
						t.Fatalf("expected confirmed messages, got %+v", m)
					}
				}
			})

			t.Run("before is exclusive", func(t *testing.T) {
				msgs, err := store.Messages("c1", 10, base.Add(time.Minute))
				if err != nil {
					t.Fatal(err)
				}
				if got := streamIDs(msgs); len(got) != 1 || got[0] != "m1" {
					t.Fatalf("expected [m1], got %v", got)
				}
			})

			t.Run("optimistic entries are not cached", func(t *testing.T) {
				msgs, err := store.Messages("c1", 10, time.Time{})
				if err != nil {
					t.Fatal(err)
				}
				for _, m := range msgs {
					if m.Content == "pending" {
						t.Fatal("expected optimistic entry to be skipped")
					}
				}
			})

			t.Run("upsert replaces", func(t *testing.T) {
				edited := testMsg("m1", "c1", "a", "one (fixed)", base)
				edited.Edited = true
				if err := store.PutMessages([]Message{edited}); err != nil {
					t.Fatal(err)
				}
				msgs, err := store.Messages("c1", 10, time.Time{})
				if err != nil {
					t.Fatal(err)
				}
				if msgs[0].Content != "one (fixed)" || !msgs[0].Edited {
					t.Fatalf("expected upserted content, got %+v", msgs[0])
				}
			})

			t.Run("delete removes", func(t *testing.T) {
				if err := store.DeleteMessage("m2"); err != nil {
					t.Fatal(err)
				}
				msgs, err := store.Messages("c1", 10, time.Time{})
				if err != nil {
					t.Fatal(err)
				}
				for _, m := range msgs {
					if m.ID == "m2" {
						t.Fatal("expected m2 removed")
					}
				}
			})
		})
	}
}

func TestStoreChats(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			last := testMsg("m9", "c2", "b", "latest", base.Add(time.Hour))
			err := store.PutChats([]Chat{
				{ID: "c1", Name: "old", UpdatedAt: base, Participants: []Participant{{UserID: "me"}}},
				{ID: "c2", Name: "new", UpdatedAt: base.Add(time.Hour), UnreadCount: 3, LastMessage: &last,
					Participants: []Participant{{UserID: "me"}, {UserID: "b"}}},
			})
			if err != nil {
				t.Fatalf("put failed: %v", err)
			}

			chats, err := store.Chats()
			if err != nil {
				t.Fatal(err)
			}
			if got := chatIDs(chats); len(got) != 2 || got[0] != "c2" {
				t.Fatalf("expected newest-updated first, got %v", got)
			}
			if chats[0].UnreadCount != 3 || len(chats[0].Participants) != 2 {
				t.Fatalf("expected fields round-tripped, got %+v", chats[0])
			}
			if chats[0].LastMessage == nil || chats[0].LastMessage.ID != "m9" {
				t.Fatalf("expected last message round-tripped, got %+v", chats[0].LastMessage)
			}

			// Upsert by id.
			if err := store.PutChats([]Chat{{ID: "c1", Name: "renamed", UpdatedAt: base.Add(2 * time.Hour)}}); err != nil {
				t.Fatal(err)
			}
			chats, err = store.Chats()
			if err != nil {
				t.Fatal(err)
			}
			if len(chats) != 2 || chats[0].Name != "renamed" {
				t.Fatalf("expected upserted chat on top, got %+v", chats)
			}
		})
	}
}
