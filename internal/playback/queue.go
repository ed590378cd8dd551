// Package playback serializes synthesized speech and audio clips into the
// room, deferring playback while anyone is speaking so the assistant never
// talks over a live speaker.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cchambers/director/internal/logging"
)

// FrameStream yields fixed PCM frames of rendered audio. NextFrame returns
// io.EOF when the stream is exhausted.
type FrameStream interface {
	NextFrame() ([]int16, error)
	Close() error
}

// Synthesizer renders text to an audio stream. A nil stream or an error
// drops the item.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (FrameStream, error)
}

// Sink receives rendered PCM frames, one frame per FrameDuration.
type Sink interface {
	WriteFrame(frame []int16) error
}

// SpeakingStatus reports whether any participant is mid-turn.
// *capture.Registry satisfies it.
type SpeakingStatus interface {
	IsAnyoneSpeaking() bool
}

// FrameDuration is the pacing interval between sink writes.
const FrameDuration = 20 * time.Millisecond

type itemKind int

const (
	itemSpeak itemKind = iota
	itemClip
)

type item struct {
	kind  itemKind
	text  string
	voice string
	path  string
}

// Queue is the playback queue. Producers push with Speak and PlayClip; a
// single scheduler goroutine is the only consumer. An item is dequeued only
// after the channel has been silent for a full confirmation cycle: poll
// until the speaking set is empty, wait the grace period, then re-check
// before playing. Activity signals flicker at word boundaries; a single
// check would cause audible talk-overs.
type Queue struct {
	status   SpeakingStatus
	synth    Synthesizer
	openClip func(path string) (FrameStream, error)
	poll     time.Duration
	grace    time.Duration

	mu      sync.Mutex
	items   []item
	sink    Sink
	playing bool
	gen     int // bumped on Detach so in-flight rendering is abandoned

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates the queue and starts its scheduler. openClip loads a
// local audio resource for PlayClip; it may be nil if clips are unused.
func NewQueue(status SpeakingStatus, synth Synthesizer, openClip func(string) (FrameStream, error), poll, grace time.Duration) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		status:   status,
		synth:    synth,
		openClip: openClip,
		poll:     poll,
		grace:    grace,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Speak queues synthesized speech. Fire-and-forget.
func (q *Queue) Speak(text, voice string) {
	q.mu.Lock()
	q.items = append(q.items, item{kind: itemSpeak, text: text, voice: voice})
	q.mu.Unlock()
	q.notify()
}

// PlayClip queues playback of a local audio resource.
func (q *Queue) PlayClip(path string) {
	q.mu.Lock()
	q.items = append(q.items, item{kind: itemClip, path: path})
	q.mu.Unlock()
	q.notify()
}

// Attach connects the output sink. Queued items start draining once the
// channel is silent.
func (q *Queue) Attach(sink Sink) {
	q.mu.Lock()
	q.sink = sink
	q.mu.Unlock()
	q.notify()
}

// Detach disconnects the output and clears the queue immediately. Rendering
// in flight is abandoned at the next frame boundary.
func (q *Queue) Detach() {
	q.mu.Lock()
	q.sink = nil
	q.items = nil
	q.gen++
	q.mu.Unlock()
}

// Len returns the number of queued items, excluding any item being rendered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the scheduler and discards the queue.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
		q.tryDequeue()
	}
}

// tryDequeue runs the two-stage silence check and plays at most one item.
func (q *Queue) tryDequeue() {
	q.mu.Lock()
	ready := !q.playing && len(q.items) > 0 && q.sink != nil
	q.mu.Unlock()
	if !ready {
		return
	}

	// Stage one: bail while anyone is speaking; the poll ticker re-checks.
	if q.status.IsAnyoneSpeaking() {
		return
	}

	// Stage two: silence-confirmation grace, then re-check. The item stays at
	// the head until the cycle completes.
	select {
	case <-q.ctx.Done():
		return
	case <-time.After(q.grace):
	}
	if q.status.IsAnyoneSpeaking() {
		return
	}

	q.mu.Lock()
	if q.playing || len(q.items) == 0 || q.sink == nil {
		q.mu.Unlock()
		return
	}
	next := q.items[0]
	q.items = q.items[1:]
	q.playing = true
	sink := q.sink
	gen := q.gen
	q.mu.Unlock()

	q.render(next, sink, gen)

	q.mu.Lock()
	q.playing = false
	q.mu.Unlock()
	// Output device just became idle; attempt the next item.
	q.notify()
}

func (q *Queue) render(it item, sink Sink, gen int) {
	var (
		stream FrameStream
		err    error
	)
	switch it.kind {
	case itemSpeak:
		if q.synth == nil {
			logging.Warning(logging.CategoryPlayback, "speech requested with no synthesizer configured")
			return
		}
		stream, err = q.synth.Synthesize(q.ctx, it.text, it.voice)
	case itemClip:
		if q.openClip == nil {
			logging.Warning(logging.CategoryPlayback, "clip playback requested with no clip opener path=%s", it.path)
			return
		}
		stream, err = q.openClip(it.path)
	}
	if err != nil || stream == nil {
		// Dropped item; the scheduler immediately tries the next one.
		logging.Warning(logging.CategoryPlayback, "failed to render item, skipping: %v", err)
		return
	}
	defer stream.Close()

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	frames := 0
	for {
		frame, err := stream.NextFrame()
		if err != nil {
			if frames > 0 {
				logging.Debug(logging.CategoryPlayback, "item finished frames=%d", frames)
			}
			return
		}

		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
		}

		q.mu.Lock()
		stale := gen != q.gen
		q.mu.Unlock()
		if stale {
			return // detached mid-item
		}

		if err := sink.WriteFrame(frame); err != nil {
			logging.Warning(logging.CategoryPlayback, "sink write failed, abandoning item: %v", err)
			return
		}
		frames++
	}
}
