package stt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTranscriber_Upload(t *testing.T) {
	var gotModel, gotAuth, gotFilename string
	var gotAudio []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			gotFilename = hdr.Filename
			gotAudio, _ = io.ReadAll(f)
			f.Close()
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "  hello there  "})
	}))
	defer srv.Close()

	tr, err := NewHTTPTranscriber(srv.URL, "secret", "whisper-1")
	if err != nil {
		t.Fatalf("new transcriber: %v", err)
	}
	pcm := []int16{1, 2, 3, 4}
	text, err := tr.Transcribe(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello there" {
		t.Errorf("expected trimmed text, got %q", text)
	}
	if gotModel != "whisper-1" {
		t.Errorf("expected model field, got %q", gotModel)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotFilename != "turn.wav" {
		t.Errorf("expected turn.wav upload, got %q", gotFilename)
	}
	if len(gotAudio) != 44+len(pcm)*2 {
		t.Errorf("expected %d audio bytes, got %d", 44+len(pcm)*2, len(gotAudio))
	}
}

func TestHTTPTranscriber_EmptyAudio(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tr, _ := NewHTTPTranscriber(srv.URL, "", "")
	text, err := tr.Transcribe(context.Background(), nil, 16000)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("expected empty text, got %q", text)
	}
	if called {
		t.Error("service should not be called for empty audio")
	}
}

func TestHTTPTranscriber_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr, _ := NewHTTPTranscriber(srv.URL, "", "")
	if _, err := tr.Transcribe(context.Background(), []int16{1}, 16000); err == nil {
		t.Fatal("expected error on http 503")
	}
}

func TestNewHTTPTranscriber_RequiresURL(t *testing.T) {
	if _, err := NewHTTPTranscriber("", "", ""); err == nil {
		t.Fatal("expected error for empty url")
	}
}
