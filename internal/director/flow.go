package director

import (
	"context"
	"strings"

	"github.com/cchambers/director/internal/logging"
	"github.com/cchambers/director/internal/transcript"
)

// Suggester is the subset of Client the flows need; narrowed for tests.
type Suggester interface {
	Suggest(ctx context.Context, entries []transcript.Entry) (string, error)
	ExtractClaims(ctx context.Context, entries []transcript.Entry) ([]string, error)
}

// Speaker enqueues synthesized speech for playback.
type Speaker interface {
	Speak(text, voice string)
}

// Flow glues the transcript windows to the director services. Delivery is
// at-least-once: a window is reset only after a successful call, so a failed
// call leaves its entries for the next trigger.
type Flow struct {
	client Suggester
	buffer *transcript.Buffer
	voice  string
	out    Speaker
}

// NewFlow creates the flow. out may be nil when playback is detached.
func NewFlow(client Suggester, buffer *transcript.Buffer, voice string, out Speaker) *Flow {
	return &Flow{client: client, buffer: buffer, voice: voice, out: out}
}

// RequestSuggestion runs the director-suggestion flow once: take the recent
// context, call the external service, speak the suggestion. Failures are
// logged, never propagated.
func (f *Flow) RequestSuggestion(ctx context.Context) {
	entries := f.buffer.RecentForDirector()
	if len(entries) == 0 {
		return
	}
	suggestion, err := f.client.Suggest(ctx, entries)
	if err != nil {
		logging.Warning(logging.CategoryDirector, "suggestion call failed, window kept for retry: %v", err)
		return
	}
	f.buffer.ResetDirectorWindow()
	if strings.TrimSpace(suggestion) == "" {
		return
	}
	logging.Info(logging.CategoryDirector, "suggestion received chars=%d", len(suggestion))
	if f.out != nil {
		f.out.Speak(suggestion, f.voice)
	}
}

// ExtractClaims runs the claim-extraction flow once over the pending claim
// window. Invoked from the transcript's length-threshold hook and by
// explicit operator request.
func (f *Flow) ExtractClaims(ctx context.Context) []string {
	entries := f.buffer.RecentForClaims()
	if len(entries) == 0 {
		return nil
	}
	claims, err := f.client.ExtractClaims(ctx, entries)
	if err != nil {
		logging.Warning(logging.CategoryDirector, "claim extraction failed, window kept for retry: %v", err)
		return nil
	}
	f.buffer.ResetClaimWindow()
	if len(claims) > 0 {
		logging.Info(logging.CategoryDirector, "claims extracted count=%d", len(claims))
	}
	return claims
}
