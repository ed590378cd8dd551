// Package tts renders text to speech through an external synthesis service
// and adapts the result into paced PCM frame streams for playback.
package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cchambers/director/internal/playback"
)

const (
	// OutputSampleRate is the rate of synthesized audio written to the room.
	OutputSampleRate = 48000
	// FrameSamples is one 20ms frame at OutputSampleRate.
	FrameSamples = 960
)

// HTTPSynthesizer posts text to a synthesis endpoint that answers with a raw
// s16le mono PCM stream at OutputSampleRate.
type HTTPSynthesizer struct {
	url    string
	client *http.Client
}

// NewHTTPSynthesizer creates a synthesizer for the given endpoint.
func NewHTTPSynthesizer(url string) (*HTTPSynthesizer, error) {
	if url == "" {
		return nil, fmt.Errorf("synthesizer url is required")
	}
	return &HTTPSynthesizer{
		url: url,
		// The whole response is streamed, not buffered; allow long clips.
		client: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize renders text and returns the playable stream, or an error when
// the service produced none.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice string) (playback.FrameStream, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call synthesis service: %w", err)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("synthesis http %d: %s", resp.StatusCode, b)
	}

	return &pcmStream{body: resp.Body}, nil
}

// pcmStream frames a raw s16le byte stream. The final partial frame is
// zero-padded so the sink always sees full frames.
type pcmStream struct {
	body io.ReadCloser
}

func (p *pcmStream) NextFrame() ([]int16, error) {
	raw := make([]byte, FrameSamples*2)
	n, err := io.ReadFull(p.body, raw)
	if n == 0 {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	frame := make([]int16, FrameSamples)
	for i := 0; i < n/2; i++ {
		frame[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return frame, nil
}

func (p *pcmStream) Close() error {
	return p.body.Close()
}
