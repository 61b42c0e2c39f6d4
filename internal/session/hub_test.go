package session

import (
	"testing"
	"time"
)

func TestHubDeliversToSubscriber(t *testing.T) {
	h := NewHub(10)
	_, ch, history := h.Subscribe()
	if len(history) != 0 {
		t.Fatalf("fresh hub delivered history: %d events", len(history))
	}

	h.Publish(makeEvent(1))
	select {
	case ev := <-ch:
		if ev.Text != "line-1" {
			t.Errorf("got %q, want line-1", ev.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestHubReplaysHistory(t *testing.T) {
	h := NewHub(10)
	for i := 0; i < 3; i++ {
		h.Publish(makeEvent(i))
	}

	_, _, history := h.Subscribe()
	if len(history) != 3 {
		t.Fatalf("history = %d events, want 3", len(history))
	}
	if history[0].Text != "line-0" || history[2].Text != "line-2" {
		t.Errorf("history out of order: %q .. %q", history[0].Text, history[2].Text)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(10)
	_, ch, _ := h.Subscribe()

	// Publish well past the subscriber buffer without draining. This
	// must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultSubscriberCap+50; i++ {
			h.Publish(makeEvent(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > defaultSubscriberCap {
		t.Errorf("received %d events, want 1..%d", received, defaultSubscriberCap)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(10)
	id, ch, _ := h.Subscribe()
	h.Unsubscribe(id)

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing after the unsubscribe must not panic.
	h.Publish(makeEvent(1))
}

func TestHubClose(t *testing.T) {
	h := NewHub(10)
	_, ch, _ := h.Subscribe()
	h.Close()

	if _, open := <-ch; open {
		t.Error("channel still open after hub close")
	}

	_, late, _ := h.Subscribe()
	if _, open := <-late; open {
		t.Error("subscription after close returned an open channel")
	}
}
