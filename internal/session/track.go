package session

import (
	"context"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/cchambers/director/internal/capture"
	"github.com/cchambers/director/internal/logging"
)

// trackReader owns one participant's audio track: it reads RTP, detects turn
// boundaries from the platform's packet flow, and feeds the opus payloads to
// the participant's capture pipeline. Silence is the absence of voiced
// packets for the configured timeout; when it fires, the open turn is
// flushed. A later packet opens a fresh turn.
type trackReader struct {
	participantID string
	newDecoder    func() (capture.Decoder, error)
	newPipeline   func(dec capture.Decoder) *capture.Pipeline

	silenceTimeout time.Duration

	mu           sync.Mutex
	pipeline     *capture.Pipeline
	silenceTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	firstRTPLogged bool
}

func (t *trackReader) start(track *webrtc.TrackRemote) {
	t.wg.Add(1)
	go t.processTrack(track)
	logging.Info(logging.CategorySession, "started track reader participant=%s", t.participantID)
}

func (t *trackReader) stop() {
	t.cancel()
	t.mu.Lock()
	if t.silenceTimer != nil {
		t.silenceTimer.Stop()
		t.silenceTimer = nil
	}
	pipeline := t.pipeline
	t.pipeline = nil
	t.mu.Unlock()

	if pipeline != nil && pipeline.Active() {
		pipeline.ForceClose()
	}
	t.wg.Wait()
}

func (t *trackReader) processTrack(track *webrtc.TrackRemote) {
	defer t.wg.Done()

	buf := make([]byte, 1500)
	rtpPacket := &rtp.Packet{}

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			n, _, err := track.Read(buf)
			if err != nil {
				if t.ctx.Err() == nil {
					logging.Warning(logging.CategorySession, "failed to read RTP packet participant=%s: %v", t.participantID, err)
				}
				return
			}

			if !t.firstRTPLogged {
				t.firstRTPLogged = true
				logging.Info(logging.CategorySession, "received first RTP packet participant=%s size=%d", t.participantID, n)
			}

			if err := rtpPacket.Unmarshal(buf[:n]); err != nil {
				logging.Warning(logging.CategorySession, "failed to unmarshal RTP packet participant=%s: %v", t.participantID, err)
				continue
			}

			payload := rtpPacket.Payload
			if len(payload) == 0 {
				continue // DTX packet
			}

			t.handlePayload(payload)
		}
	}
}

// handlePayload routes one opus payload into the open turn, opening a new
// turn when none is active. A "start speaking" for an already active turn is
// just more audio for it.
func (t *trackReader) handlePayload(payload []byte) {
	t.mu.Lock()
	if t.pipeline == nil || !t.pipeline.Active() {
		dec, err := t.newDecoder()
		if err != nil {
			t.mu.Unlock()
			logging.Error(logging.CategoryCodec, "failed to create turn decoder participant=%s: %v", t.participantID, err)
			return
		}
		t.pipeline = t.newPipeline(dec)
	}
	pipeline := t.pipeline

	if t.silenceTimer != nil {
		t.silenceTimer.Stop()
	}
	t.silenceTimer = time.AfterFunc(t.silenceTimeout, func() {
		pipeline.Flush()
	})
	t.mu.Unlock()

	pipeline.PushPacket(payload)
}
