package tts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestHTTPSynthesizer_StreamsFrames(t *testing.T) {
	// One and a half frames of audio.
	samples := make([]int16, FrameSamples+FrameSamples/2)
	for i := range samples {
		samples[i] = int16(i % 100)
	}

	var gotReq synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write(pcmBytes(samples))
	}))
	defer srv.Close()

	s, err := NewHTTPSynthesizer(srv.URL)
	if err != nil {
		t.Fatalf("new synthesizer: %v", err)
	}
	stream, err := s.Synthesize(context.Background(), "hello", "nova")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	defer stream.Close()

	if gotReq.Text != "hello" || gotReq.Voice != "nova" {
		t.Errorf("unexpected request payload: %+v", gotReq)
	}

	first, err := stream.NextFrame()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if len(first) != FrameSamples {
		t.Fatalf("expected %d samples, got %d", FrameSamples, len(first))
	}
	if first[1] != 1 {
		t.Errorf("expected sample value 1, got %d", first[1])
	}

	// Partial tail is zero-padded to a full frame.
	second, err := stream.NextFrame()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if len(second) != FrameSamples {
		t.Fatalf("expected padded frame of %d samples, got %d", FrameSamples, len(second))
	}
	if second[FrameSamples-1] != 0 {
		t.Errorf("expected zero padding at tail, got %d", second[FrameSamples-1])
	}

	if _, err := stream.NextFrame(); err != io.EOF {
		t.Fatalf("expected EOF after stream drained, got %v", err)
	}
}

func TestHTTPSynthesizer_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer srv.Close()

	s, _ := NewHTTPSynthesizer(srv.URL)
	if _, err := s.Synthesize(context.Background(), "hello", "unknown"); err == nil {
		t.Fatal("expected error on http 400")
	}
}

func TestNewHTTPSynthesizer_RequiresURL(t *testing.T) {
	if _, err := NewHTTPSynthesizer(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}
