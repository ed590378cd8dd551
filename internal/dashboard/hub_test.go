package dashboard

import (
	"strings"
	"testing"
)

func TestHub_BroadcastReachesClients(t *testing.T) {
	h := NewHub()
	_, ch1 := h.Register()
	_, ch2 := h.Register()

	h.Broadcast("entry", map[string]string{"text": "hello"})

	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case msg := <-ch:
			s := string(msg)
			if !strings.HasPrefix(s, "event: entry\n") {
				t.Errorf("unexpected event framing: %q", s)
			}
			if !strings.Contains(s, `"text":"hello"`) {
				t.Errorf("payload missing from event: %q", s)
			}
			if !strings.HasSuffix(s, "\n\n") {
				t.Errorf("event not terminated by blank line: %q", s)
			}
		default:
			t.Fatal("client did not receive broadcast")
		}
	}
}

func TestHub_SlowClientDropsEvents(t *testing.T) {
	h := NewHub()
	h.Register()

	for i := 0; i < clientBufferSize+10; i++ {
		h.Broadcast("entry", i)
	}
	// No deadlock and the hub is still usable.
	if h.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", h.ClientCount())
	}
}

func TestHub_Unregister(t *testing.T) {
	h := NewHub()
	id, ch := h.Register()
	h.Unregister(id)

	if h.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", h.ClientCount())
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}

	// Double unregister is harmless.
	h.Unregister(id)
}
