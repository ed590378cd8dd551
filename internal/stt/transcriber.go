// Package stt sends captured turn audio to a speech-to-text service.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// HTTPTranscriber posts turn audio as a WAV upload to a whisper-style
// transcription endpoint.
type HTTPTranscriber struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewHTTPTranscriber creates a transcriber for the given endpoint. apiKey may
// be empty for unauthenticated local services.
func NewHTTPTranscriber(url, apiKey, model string) (*HTTPTranscriber, error) {
	if url == "" {
		return nil, fmt.Errorf("transcriber url is required")
	}
	return &HTTPTranscriber{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the turn's PCM and returns the recognized text, "" when
// the service heard nothing.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if t.model != "" {
		if err := mw.WriteField("model", t.model); err != nil {
			return "", fmt.Errorf("write model field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "turn.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(EncodeWAV(pcm, sampleRate)); err != nil {
		return "", fmt.Errorf("write audio payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call transcription service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription http %d: %s", resp.StatusCode, b)
	}

	var tr transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(tr.Text), nil
}
