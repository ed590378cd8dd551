package worker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"

	"github.com/cchambers/director/internal/config"
)

func testWorkerConfig() *config.Config {
	return &config.Config{
		JobType:           livekit.JobType_JT_ROOM,
		MaxConcurrentJobs: 1,
		DrainTimeout:      time.Second,
	}
}

// dialTestServer upgrades an httptest server to a websocket and hands the
// worker the client side.
func dialTestServer(t *testing.T, handler func(*websocket.Conn)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial test server: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRegister_TimesOutOnSilentServer(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	conn := dialTestServer(t, func(c *websocket.Conn) {
		// Accept the registration but never answer.
		c.ReadMessage()
		<-hold
	})

	w := NewWorker(testWorkerConfig(), nil)
	w.conn = conn
	w.registerTimeout = 100 * time.Millisecond

	err := w.register()
	if err == nil || !strings.Contains(err.Error(), "registration timeout") {
		t.Fatalf("expected registration timeout, got %v", err)
	}
}

func TestRegister_AcceptsResponse(t *testing.T) {
	conn := dialTestServer(t, func(c *websocket.Conn) {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		resp := &livekit.ServerMessage{
			Message: &livekit.ServerMessage_Register{
				Register: &livekit.RegisterWorkerResponse{WorkerId: "worker-1"},
			},
		}
		data, err := proto.Marshal(resp)
		if err != nil {
			return
		}
		c.WriteMessage(websocket.BinaryMessage, data)
	})

	w := NewWorker(testWorkerConfig(), nil)
	w.conn = conn

	if err := w.register(); err != nil {
		t.Fatalf("register: %v", err)
	}
	if w.workerID != "worker-1" {
		t.Errorf("expected worker ID from response, got %q", w.workerID)
	}
}
