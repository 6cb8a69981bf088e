package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/golaco/internal/bus"
)

func TestSendOnlineInsertsDirectly(t *testing.T) {
	h := newHarness(t, true)
	body := "hello"

	res, err := h.s.Send(context.Background(), Draft{ConversationID: "c1", Content: &body})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Sent || res.Queued || res.TempID == "" {
		t.Errorf("result = %+v", res)
	}
	if n, _ := h.db.PendingCount(); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestSendOnlineFailureQueues(t *testing.T) {
	h := newHarness(t, true)
	h.be.failOn["flaky"] = true
	body := "flaky"

	res, err := h.s.Send(context.Background(), Draft{TempID: "tmp-1", ConversationID: "c1", Content: &body})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued || res.Sent || res.TempID != "tmp-1" {
		t.Errorf("result = %+v", res)
	}
	if ids := h.pendingIDs(t); !equal(ids, []string{"tmp-1"}) {
		t.Errorf("queue = %v", ids)
	}
	if st := h.s.State(); st.PendingCount != 1 {
		t.Errorf("state = %+v, want pending 1", st)
	}
}

func TestSendOfflineQueuesWithoutBackend(t *testing.T) {
	h := newHarness(t, false)
	url, kind := "https://cdn/x.jpg", "image"

	res, err := h.s.Send(context.Background(), Draft{ConversationID: "c1", MediaURL: &url, MediaType: &kind})
	if err != nil || !res.Queued {
		t.Fatalf("Send = %+v, %v", res, err)
	}
	if got := h.be.calls(); len(got) != 0 {
		t.Errorf("backend called while offline: %v", got)
	}
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t, true)
	blankText := "   "

	if _, err := h.s.Send(context.Background(), Draft{Content: &blankText}); !errors.Is(err, ErrNoConversation) {
		t.Errorf("no conversation: err = %v", err)
	}
	if _, err := h.s.Send(context.Background(), Draft{ConversationID: "c1", Content: &blankText}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank message: err = %v", err)
	}

	signedOut := NewSyncer(h.db, h.be, fakeIdentity{}, h.net, h.bus, nil)
	text := "hi"
	if _, err := signedOut.Send(context.Background(), Draft{ConversationID: "c1", Content: &text}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("signed out: err = %v", err)
	}
}

func TestSendReportsQueueFailure(t *testing.T) {
	h := newHarness(t, false)
	body := "x"
	if _, err := h.s.Send(context.Background(), Draft{TempID: "dup", ConversationID: "c1", Content: &body}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.s.Send(context.Background(), Draft{TempID: "dup", ConversationID: "c1", Content: &body}); err == nil {
		t.Error("expected error when the queue rejects the entry")
	}
}

func TestSendOnlineQueuesBehindPendingEntries(t *testing.T) {
	h := newHarness(t, true)
	h.enqueue(t, "t1", "older")
	h.be.setFail("older", true)
	events, unsub := h.bus.Subscribe(bus.KindSyncPartialFailure, 5)
	defer unsub()

	body := "newer"
	res, err := h.s.Send(context.Background(), Draft{TempID: "t2", ConversationID: "c1", Content: &body})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued || res.Sent {
		t.Fatalf("result = %+v, want queued behind older entry", res)
	}

	// The drain scheduled by Send keeps queue order: older is tried first.
	waitEvent(t, events, bus.KindSyncPartialFailure)
	if got := h.be.calls(); len(got) < 2 || got[0] != "older" || got[1] != "newer" {
		t.Errorf("inserts = %v, want older before newer", got)
	}
}

func TestSendFailureSchedulesDrain(t *testing.T) {
	h := newHarness(t, true)
	h.be.setFail("first", true)
	events, unsub := h.bus.Subscribe(bus.KindSyncPartialFailure, 5)
	defer unsub()

	first := "first"
	r1, err := h.s.Send(context.Background(), Draft{TempID: "t1", ConversationID: "c1", Content: &first})
	if err != nil || !r1.Queued {
		t.Fatalf("first = %+v, %v", r1, err)
	}
	waitEvent(t, events, bus.KindSyncPartialFailure)
	h.be.setFail("first", false)

	second := "second"
	r2, err := h.s.Send(context.Background(), Draft{TempID: "t2", ConversationID: "c1", Content: &second})
	if err != nil || !r2.Queued {
		t.Fatalf("second = %+v, %v; want queued behind first", r2, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := h.db.PendingCount(); n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never drained: %v", h.pendingIDs(t))
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := h.be.calls()
	last := map[string]int{}
	for i, body := range got {
		last[body] = i
	}
	if last["first"] > last["second"] {
		t.Errorf("inserts = %v, want first delivered before second", got)
	}
}
