package capture

import (
	"context"
	"sync"
	"time"

	"github.com/cchambers/director/internal/director"
	"github.com/cchambers/director/internal/logging"
	"github.com/cchambers/director/internal/transcript"
)

// State is the lifecycle state of one capture turn.
type State int

const (
	StateCapturing State = iota
	StateDraining
	StateTranscribing
	StateClosed
)

// Decoder converts one turn's compressed audio packets into PCM at the
// transcription sample rate.
type Decoder interface {
	// Decode decodes one compressed packet, returning zero or more samples.
	Decode(packet []byte) ([]int16, error)
	// Flush drains any samples still buffered inside the decoder. It signals
	// end-of-turn: no further Decode calls are made after Flush.
	Flush() ([]int16, error)
	// SampleRate is the rate of the returned PCM.
	SampleRate() int
	// Close releases decoder resources. Safe to call more than once.
	Close()
}

// Transcriber converts a turn's PCM buffer to text. An empty string means no
// speech was recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}

// PipelineConfig carries the per-session settings a pipeline needs.
type PipelineConfig struct {
	ParticipantID   string
	DisplayName     string
	HostIdentity    string
	HostLabel       string
	TriggerPhrases  []string
	MinTurnDuration time.Duration
	MaxTurnDuration time.Duration
}

// Pipeline captures one speaking turn for one participant: it decodes
// incoming packets while the platform reports speech, hands the accumulated
// buffer to transcription when the turn ends, and appends the result to the
// transcript. A max-turn timer force-closes the pipeline if the stream never
// ends, so the participant can start a fresh turn.
type Pipeline struct {
	cfg         PipelineConfig
	decoder     Decoder
	transcriber Transcriber
	registry    *Registry
	buffer      *transcript.Buffer
	onTrigger   func()

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	pcm       []int16
	startedAt time.Time
	maxTimer  *time.Timer

	removeOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
}

// NewPipeline opens a capture turn: the participant is added to the speaking
// registry and the max-turn guard is armed. onTrigger is invoked
// fire-and-forget when the host's turn exactly matches a trigger phrase; it
// may be nil.
func NewPipeline(cfg PipelineConfig, dec Decoder, tr Transcriber, reg *Registry, buf *transcript.Buffer, onTrigger func()) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:         cfg,
		decoder:     dec,
		transcriber: tr,
		registry:    reg,
		buffer:      buf,
		onTrigger:   onTrigger,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateCapturing,
		startedAt:   time.Now(),
		done:        make(chan struct{}),
	}
	reg.Add(cfg.ParticipantID)
	p.maxTimer = time.AfterFunc(cfg.MaxTurnDuration, func() {
		logging.Warning(logging.CategoryCapture, "turn exceeded max duration, force-closing participant=%s", cfg.ParticipantID)
		p.ForceClose()
	})
	logging.Debug(logging.CategoryCapture, "turn opened participant=%s", cfg.ParticipantID)
	return p
}

// Active reports whether the pipeline is still processing its turn. A new
// turn for the same participant must not start while Active.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != StateClosed
}

// Done is closed when the pipeline reaches Closed, whichever path got it
// there.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// PushPacket feeds one compressed audio packet. Packets arriving outside the
// Capturing state are dropped. A decode error aborts the turn with no entry.
func (p *Pipeline) PushPacket(packet []byte) {
	p.mu.Lock()
	if p.state != StateCapturing {
		p.mu.Unlock()
		return
	}
	samples, err := p.decoder.Decode(packet)
	if err != nil {
		p.mu.Unlock()
		logging.Warning(logging.CategoryCapture, "decode failed, aborting turn participant=%s: %v", p.cfg.ParticipantID, err)
		p.ForceClose()
		return
	}
	p.pcm = append(p.pcm, samples...)
	p.mu.Unlock()
}

// Flush is the platform's hang-up signal: sustained silence ended the turn.
// The decoder is drained and the buffer handed to transcription
// asynchronously.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	if p.state != StateCapturing {
		p.mu.Unlock()
		return
	}
	p.state = StateDraining
	tail, err := p.decoder.Flush()
	if err != nil {
		p.mu.Unlock()
		logging.Warning(logging.CategoryCapture, "decoder flush failed, aborting turn participant=%s: %v", p.cfg.ParticipantID, err)
		p.ForceClose()
		return
	}
	p.pcm = append(p.pcm, tail...)
	p.state = StateTranscribing
	pcm := p.pcm
	p.mu.Unlock()

	// Leaving Draining: the participant is no longer speaking.
	p.removeOnce.Do(func() { p.registry.Remove(p.cfg.ParticipantID) })
	p.decoder.Close()

	go p.transcribe(pcm)
}

func (p *Pipeline) transcribe(pcm []int16) {
	rate := p.decoder.SampleRate()
	durationMs := int64(0)
	if rate > 0 {
		durationMs = int64(len(pcm)) * 1000 / int64(rate)
	}
	if time.Duration(durationMs)*time.Millisecond < p.cfg.MinTurnDuration {
		logging.Debug(logging.CategoryCapture, "turn too short, skipping transcription participant=%s durationMs=%d", p.cfg.ParticipantID, durationMs)
		p.close()
		return
	}

	text, err := p.transcriber.Transcribe(p.ctx, pcm, rate)
	if err != nil {
		logging.Warning(logging.CategoryCapture, "transcription failed participant=%s: %v", p.cfg.ParticipantID, err)
		p.close()
		return
	}

	// The Closed check and the append must hold the same lock: a force close
	// racing in between would land an entry for a discarded turn.
	p.mu.Lock()
	if p.state == StateClosed { // force-closed while the call was in flight
		p.mu.Unlock()
		return
	}
	_, ok := p.buffer.Append(p.cfg.ParticipantID, p.speakerLabel(), text)
	p.mu.Unlock()

	if ok {
		logging.Info(logging.CategoryCapture, "turn transcribed participant=%s chars=%d durationMs=%d", p.cfg.ParticipantID, len(text), durationMs)
		if p.isHost() && p.onTrigger != nil && director.MatchesTrigger(text, p.cfg.TriggerPhrases) {
			go p.fireTrigger()
		}
	}
	p.close()
}

func (p *Pipeline) fireTrigger() {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(logging.CategoryCapture, "trigger flow panicked participant=%s: %v", p.cfg.ParticipantID, r)
		}
	}()
	p.onTrigger()
}

func (p *Pipeline) isHost() bool {
	return p.cfg.HostIdentity != "" && p.cfg.ParticipantID == p.cfg.HostIdentity
}

func (p *Pipeline) speakerLabel() string {
	if p.isHost() {
		return p.cfg.HostLabel
	}
	if p.cfg.DisplayName != "" {
		return p.cfg.DisplayName
	}
	return p.cfg.ParticipantID
}

// ForceClose closes the pipeline from any state, discarding the turn. It is
// the only cancellation path: the decoder is released and the participant
// leaves the speaking set exactly once.
func (p *Pipeline) ForceClose() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateClosed
	p.pcm = nil
	p.mu.Unlock()

	p.cancel()
	p.decoder.Close()
	p.removeOnce.Do(func() { p.registry.Remove(p.cfg.ParticipantID) })
	p.maxTimer.Stop()
	p.doneOnce.Do(func() { close(p.done) })
}

// close finishes a turn that ran to completion.
func (p *Pipeline) close() {
	p.mu.Lock()
	alreadyClosed := p.state == StateClosed
	p.state = StateClosed
	p.pcm = nil
	p.mu.Unlock()

	if !alreadyClosed {
		p.maxTimer.Stop()
		p.cancel()
	}
	p.doneOnce.Do(func() { close(p.done) })
}
