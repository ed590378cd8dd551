package playback

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStatus struct {
	speaking atomic.Bool
}

func (s *fakeStatus) IsAnyoneSpeaking() bool { return s.speaking.Load() }

type fakeStream struct {
	frames int
	served int
}

func (s *fakeStream) NextFrame() ([]int16, error) {
	if s.served >= s.frames {
		return nil, io.EOF
	}
	s.served++
	return make([]int16, 960), nil
}

func (s *fakeStream) Close() error { return nil }

type fakeSynth struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voice string) (FrameStream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if text == f.failOn {
		return nil, errors.New("synthesis failed")
	}
	return &fakeStream{frames: 2}, nil
}

func (f *fakeSynth) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeSink struct {
	mu         sync.Mutex
	frames     int
	firstWrite time.Time
}

func (s *fakeSink) WriteFrame(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == 0 {
		s.firstWrite = time.Now()
	}
	s.frames++
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func newTestQueue(status *fakeStatus, synth Synthesizer) (*Queue, *fakeSink) {
	sink := &fakeSink{}
	q := NewQueue(status, synth, nil, 10*time.Millisecond, 20*time.Millisecond)
	q.Attach(sink)
	return q, sink
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestQueue_PlaysQueuedItemsInFIFOOrder(t *testing.T) {
	status := &fakeStatus{}
	synth := &fakeSynth{}
	q, sink := newTestQueue(status, synth)
	defer q.Close()

	q.Speak("one", "")
	q.Speak("two", "")

	eventually(t, 2*time.Second, func() bool {
		return len(synth.callList()) == 2 && sink.count() == 4
	}, "expected both items rendered")

	calls := synth.callList()
	if calls[0] != "one" || calls[1] != "two" {
		t.Errorf("expected FIFO order, got %v", calls)
	}
}

func TestQueue_WithholdsWhileSpeaking(t *testing.T) {
	status := &fakeStatus{}
	status.speaking.Store(true)
	synth := &fakeSynth{}
	q, sink := newTestQueue(status, synth)
	defer q.Close()

	q.Speak("held", "")

	time.Sleep(150 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatal("expected no playback while someone is speaking")
	}
	if q.Len() != 1 {
		t.Fatalf("expected item to remain at head of queue, got len %d", q.Len())
	}

	status.speaking.Store(false)
	eventually(t, 2*time.Second, func() bool { return sink.count() > 0 },
		"expected playback after silence confirm.")
}

func TestQueue_GraceRecheckCatchesNewSpeaker(t *testing.T) {
	status := &fakeStatus{}
	synth := &fakeSynth{}
	sink := &fakeSink{}
	// Long grace so we can reliably flip the speaking state inside it.
	q := NewQueue(status, synth, nil, 10*time.Millisecond, 100*time.Millisecond)
	q.Attach(sink)
	defer q.Close()

	q.Speak("careful", "")

	// Someone starts speaking during the confirmation wait.
	time.Sleep(30 * time.Millisecond)
	status.speaking.Store(true)
	clearedAt := time.Now().Add(200 * time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	if sink.count() != 0 {
		t.Fatal("expected the grace re-check to withhold playback")
	}

	status.speaking.Store(false)
	eventually(t, 2*time.Second, func() bool { return sink.count() > 0 },
		"expected playback once truly silent")

	sink.mu.Lock()
	first := sink.firstWrite
	sink.mu.Unlock()
	if first.Before(clearedAt) {
		t.Error("expected first frame only after the speaker stopped")
	}
}

func TestQueue_FailedSynthesisSkipsToNextItem(t *testing.T) {
	status := &fakeStatus{}
	synth := &fakeSynth{failOn: "bad"}
	q, sink := newTestQueue(status, synth)
	defer q.Close()

	q.Speak("bad", "")
	q.Speak("good", "")

	eventually(t, 2*time.Second, func() bool { return sink.count() == 2 },
		"expected only the good item's frames")

	calls := synth.callList()
	if len(calls) != 2 || calls[0] != "bad" || calls[1] != "good" {
		t.Errorf("expected both items attempted in order, got %v", calls)
	}
}

func TestQueue_DetachClearsQueue(t *testing.T) {
	status := &fakeStatus{}
	status.speaking.Store(true)
	synth := &fakeSynth{}
	q, sink := newTestQueue(status, synth)
	defer q.Close()

	q.Speak("one", "")
	q.Speak("two", "")
	q.Detach()

	if q.Len() != 0 {
		t.Fatalf("expected queue cleared on detach, got %d", q.Len())
	}

	status.speaking.Store(false)
	time.Sleep(150 * time.Millisecond)
	if sink.count() != 0 {
		t.Error("expected nothing to play after detach")
	}
}

func TestQueue_PlayClipUsesClipOpener(t *testing.T) {
	status := &fakeStatus{}
	synth := &fakeSynth{}
	sink := &fakeSink{}
	var opened atomic.Int32
	open := func(path string) (FrameStream, error) {
		opened.Add(1)
		if path != "chime.wav" {
			t.Errorf("unexpected clip path %q", path)
		}
		return &fakeStream{frames: 3}, nil
	}
	q := NewQueue(status, synth, open, 10*time.Millisecond, 20*time.Millisecond)
	q.Attach(sink)
	defer q.Close()

	q.PlayClip("chime.wav")

	eventually(t, 2*time.Second, func() bool { return sink.count() == 3 },
		"expected clip frames rendered")
	if opened.Load() != 1 {
		t.Errorf("expected clip opened once, got %d", opened.Load())
	}
	if len(synth.callList()) != 0 {
		t.Error("clip playback must not call the synthesizer")
	}
}
