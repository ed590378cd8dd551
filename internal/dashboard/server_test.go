package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cchambers/director/internal/transcript"
)

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestServer_NoSessionAnswers503(t *testing.T) {
	s := NewServer("127.0.0.1:0")

	if w := serve(s, http.MethodGet, "/api/transcript", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a session, got %d", w.Code)
	}
	if w := serve(s, http.MethodPatch, "/api/transcript/0", `{"text":"x"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a session, got %d", w.Code)
	}
}

func TestServer_TranscriptAndEdit(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	buf := transcript.NewBuffer(8, 0)
	s.AttachSession(buf)

	buf.Append("p1", "Alice", "hello everyone")

	w := serve(s, http.MethodGet, "/api/transcript", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Entries []transcript.Entry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Text != "hello everyone" {
		t.Fatalf("unexpected entries: %+v", resp.Entries)
	}

	w = serve(s, http.MethodPatch, "/api/transcript/0", `{"text":"hello, everyone"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on edit, got %d: %s", w.Code, w.Body.String())
	}
	if got := buf.FullLog()[0].Text; got != "hello, everyone" {
		t.Errorf("edit not applied, text is %q", got)
	}
}

func TestServer_EditOutOfRange(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	s.AttachSession(transcript.NewBuffer(8, 0))

	if w := serve(s, http.MethodPatch, "/api/transcript/5", `{"text":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing entry, got %d", w.Code)
	}
	if w := serve(s, http.MethodPatch, "/api/transcript/abc", `{"text":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-integer index, got %d", w.Code)
	}
}

func TestServer_Healthz(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	if w := serve(s, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
