package chatsync

import (
	"testing"
	"time"
)

var streamBase = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func confirmedMsgs(ids ...string) []Message {
	msgs := make([]Message, len(ids))
	for i, id := range ids {
		msgs[i] = Message{ID: id, ChatID: "c1", AuthorID: "other", Content: "msg " + id, CreatedAt: streamBase.Add(time.Duration(i) * time.Minute)}
	}
	return msgs
}

func streamIDs(msgs []Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestStreamApplyNew(t *testing.T) {
	t.Run("duplicate id is discarded", func(t *testing.T) {
		s := newMessageStream()
		s.open("c1", confirmedMsgs("m1", "m2"))

		if s.applyNew(testMsg("m1", "c1", "other", "msg m1", streamBase)) {
			t.Fatal("expected duplicate to be discarded")
		}
		if got := len(s.snapshot()); got != 2 {
			t.Fatalf("expected 2 messages, got %d", got)
		}
	})

	t.Run("echo replaces optimistic in place", func(t *testing.T) {
		s := newMessageStream()
		s.open("c1", confirmedMsgs("m1"))
		s.appendOptimistic(Message{ChatID: "c1", AuthorID: "me", Content: "hello", Kind: KindOptimistic, LocalID: "tmp-1", Status: StatusSending})
		s.applyNew(testMsg("m2", "c1", "other", "interleaved", streamBase.Add(time.Hour)))

		if !s.applyNew(testMsg("m3", "c1", "me", "hello", streamBase.Add(2*time.Hour))) {
			t.Fatal("expected echo to apply")
		}

		msgs := s.snapshot()
		want := []string{"m1", "m3", "m2"}
		got := streamIDs(msgs)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected order %v, got %v", want, got)
			}
		}
		if msgs[1].Optimistic() {
			t.Fatal("expected reconciled entry to be confirmed")
		}
		count := 0
		for _, m := range msgs {
			if m.Content == "hello" {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("expected exactly one entry for the sent content, got %d", count)
		}
	})

	t.Run("no match appends", func(t *testing.T) {
		s := newMessageStream()
		s.open("c1", nil)

		s.applyNew(testMsg("m1", "c1", "other", "hi", streamBase))

		if got := streamIDs(s.snapshot()); len(got) != 1 || got[0] != "m1" {
			t.Fatalf("expected [m1], got %v", got)
		}
	})

	t.Run("wrong chat is rejected", func(t *testing.T) {
		s := newMessageStream()
		s.open("c1", nil)

		if s.applyNew(testMsg("m1", "c2", "other", "hi", streamBase)) {
			t.Fatal("expected message for another chat to be rejected")
		}
	})

	t.Run("double submit reconciles one per echo", func(t *testing.T) {
		s := newMessageStream()
		s.open("c1", nil)
		s.appendOptimistic(Message{ChatID: "c1", AuthorID: "me", Content: "hey", Kind: KindOptimistic, LocalID: "tmp-1"})
		s.appendOptimistic(Message{ChatID: "c1", AuthorID: "me", Content: "hey", Kind: KindOptimistic, LocalID: "tmp-2"})

		s.applyNew(testMsg("m1", "c1", "me", "hey", streamBase))
		s.applyNew(testMsg("m2", "c1", "me", "hey", streamBase.Add(time.Second)))

		msgs := s.snapshot()
		if len(msgs) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(msgs))
		}
		for _, m := range msgs {
			if m.Optimistic() {
				t.Fatal("expected both optimistic entries reconciled")
			}
		}
	})
}

func TestStreamEdit(t *testing.T) {
	s := newMessageStream()
	s.open("c1", confirmedMsgs("m1", "m2", "m3"))

	editedAt := streamBase.Add(time.Hour)
	if !s.applyEdit(MessageUpdatedPayload{ID: "m2", ChatID: "c1", Content: "fixed", EditedAt: &editedAt}) {
		t.Fatal("expected edit to apply")
	}

	msgs := s.snapshot()
	if got := streamIDs(msgs); got[1] != "m2" {
		t.Fatalf("expected position preserved, got %v", got)
	}
	if msgs[1].Content != "fixed" || !msgs[1].Edited {
		t.Fatalf("expected content patched in place, got %+v", msgs[1])
	}

	if s.applyEdit(MessageUpdatedPayload{ID: "ghost", ChatID: "c1", Content: "x"}) {
		t.Fatal("expected edit of unknown message to be a no-op")
	}
}

func TestStreamDelete(t *testing.T) {
	s := newMessageStream()
	s.open("c1", confirmedMsgs("m1", "m2"))

	if !s.applyDelete(MessageDeletedPayload{ID: "m1", ChatID: "c1"}) {
		t.Fatal("expected delete to apply")
	}

	msgs := s.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected entry retained, got %d messages", len(msgs))
	}
	if !msgs[0].Deleted || msgs[0].Content == "" {
		t.Fatalf("expected soft delete with content retained, got %+v", msgs[0])
	}
}

func TestStreamRemoveIfConfirmed(t *testing.T) {
	t.Run("kept without echo", func(t *testing.T) {
		s := newMessageStream()
		s.open("c1", nil)
		s.appendOptimistic(Message{ChatID: "c1", AuthorID: "me", Content: "hello", Kind: KindOptimistic, LocalID: "tmp-1", Status: StatusSent})

		if s.removeIfConfirmed("tmp-1") {
			t.Fatal("expected entry kept until its echo lands")
		}
		if len(s.snapshot()) != 1 {
			t.Fatal("expected optimistic entry still present")
		}
	})

	t.Run("dropped once confirmed duplicate exists", func(t *testing.T) {
		s := newMessageStream()
		s.open("c1", nil)
		s.appendOptimistic(Message{ChatID: "c1", AuthorID: "me", Content: "hello", Kind: KindOptimistic, LocalID: "tmp-1", Status: StatusSent})
		s.messages = append(s.messages, testMsg("m1", "c1", "me", "hello", streamBase))
		s.processed["m1"] = struct{}{}

		if !s.removeIfConfirmed("tmp-1") {
			t.Fatal("expected redundant optimistic entry removed")
		}
		if got := streamIDs(s.snapshot()); len(got) != 1 || got[0] != "m1" {
			t.Fatalf("expected only the confirmed entry, got %v", got)
		}
	})
}

func TestStreamPrependHistory(t *testing.T) {
	s := newMessageStream()
	s.open("c1", confirmedMsgs("m3", "m4"))

	added := s.prependHistory([]Message{
		testMsg("m1", "c1", "other", "one", streamBase.Add(-2*time.Hour)),
		testMsg("m2", "c1", "other", "two", streamBase.Add(-time.Hour)),
		testMsg("m3", "c1", "other", "dup", streamBase),
	})
	if added != 2 {
		t.Fatalf("expected 2 fresh messages, got %d", added)
	}

	got := streamIDs(s.snapshot())
	want := []string{"m1", "m2", "m3", "m4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestStreamOldest(t *testing.T) {
	s := newMessageStream()
	s.open("c1", nil)
	s.appendOptimistic(Message{ChatID: "c1", AuthorID: "me", Content: "pending", Kind: KindOptimistic, LocalID: "tmp-1"})

	if _, ok := s.oldest(); ok {
		t.Fatal("expected no cursor with only optimistic entries")
	}

	s.applyNew(testMsg("m1", "c1", "other", "hi", streamBase))
	oldest, ok := s.oldest()
	if !ok || oldest.ID != "m1" {
		t.Fatalf("expected m1 as cursor, got %+v (%v)", oldest, ok)
	}
}
