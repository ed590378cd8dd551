package audio

import (
	"bytes"
	"testing"

	soxr "github.com/zaf/resample"
)

// resampleOnlyDecoder builds a TurnDecoder around a real resampler so the
// resample, framing and flush paths run without an opus stream.
func resampleOnlyDecoder(t *testing.T) *TurnDecoder {
	t.Helper()
	buf := &bytes.Buffer{}
	rs, err := soxr.New(buf, float64(PlatformSampleRate), float64(CaptureSampleRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		t.Fatalf("create resampler: %v", err)
	}
	d := &TurnDecoder{
		resampler:    rs,
		resamplerBuf: buf,
		remainder:    make([]int16, 0, FrameSize),
	}
	t.Cleanup(d.Close)
	return d
}

func TestFlushDrainsResamplerTail(t *testing.T) {
	d := resampleOnlyDecoder(t)

	// One second of audio in 20ms packets.
	const packets = 50
	packet := make([]int16, maxPacketSamples)
	total := 0
	for i := 0; i < packets; i++ {
		resampled, err := d.resample(packet)
		if err != nil {
			t.Fatalf("resample: %v", err)
		}
		total += len(d.frame(resampled))
	}

	// The resampler's filter delay holds back the end of the turn until the
	// flush; without it the final samples never reach transcription.
	expected := packets * maxPacketSamples * CaptureSampleRate / PlatformSampleRate
	if total >= expected {
		t.Fatalf("expected filter delay to hold back samples, got %d of %d before flush", total, expected)
	}

	tail, err := d.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(tail) == 0 {
		t.Fatal("expected flush to return the held-back tail")
	}
	total += len(tail)

	if total < expected-32 || total > expected+32 {
		t.Errorf("expected about %d samples after flush, got %d", expected, total)
	}
}

func TestFlushIncludesCarriedRemainder(t *testing.T) {
	d := resampleOnlyDecoder(t)
	d.remainder = []int16{1, 2, 3}

	out, err := d.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(out) < 3 || out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Errorf("carried remainder not at the head of the flush output: %v", out)
	}
	if d.remainder != nil {
		t.Error("remainder not cleared by flush")
	}
}

func TestFrameCarriesPartialTail(t *testing.T) {
	d := &TurnDecoder{remainder: make([]int16, 0, FrameSize)}

	out := d.frame(make([]int16, FrameSize+5))
	if len(out) != FrameSize {
		t.Fatalf("expected one aligned frame, got %d samples", len(out))
	}
	if len(d.remainder) != 5 {
		t.Fatalf("expected 5 carried samples, got %d", len(d.remainder))
	}

	out = d.frame(make([]int16, FrameSize-5))
	if len(out) != FrameSize {
		t.Fatalf("expected carry to complete a frame, got %d samples", len(out))
	}
	if len(d.remainder) != 0 {
		t.Errorf("expected empty carry, got %d samples", len(d.remainder))
	}
}
