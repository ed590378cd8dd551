// Package audio decodes one speaking turn's compressed audio into PCM at the
// transcription sample rate.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	soxr "github.com/zaf/resample"
	opus "gopkg.in/hraban/opus.v2"
)

const (
	// PlatformSampleRate is the rate of decoded platform audio.
	PlatformSampleRate = 48000
	// CaptureSampleRate is the rate handed to transcription.
	CaptureSampleRate = 16000
	// FrameSize is the fixed frame the decoder emits: 20ms at 16kHz.
	FrameSize = 320

	maxPacketSamples = 960 // 20ms @ 48kHz
)

// TurnDecoder converts one turn's Opus packets to 16kHz mono PCM, framed at
// FrameSize with the remainder carried between calls. One instance per turn;
// not safe for concurrent use except Close.
type TurnDecoder struct {
	decoder      *opus.Decoder
	resampler    *soxr.Resampler
	resamplerBuf *bytes.Buffer
	packetBuf    []int16
	remainder    []int16

	closeOnce sync.Once
}

// NewTurnDecoder creates a decoder for one turn.
func NewTurnDecoder() (*TurnDecoder, error) {
	decoder, err := opus.NewDecoder(PlatformSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	// The resampler writes into the same buffer we read output from.
	resamplerBuf := &bytes.Buffer{}
	resampler, err := soxr.New(resamplerBuf, float64(PlatformSampleRate), float64(CaptureSampleRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	return &TurnDecoder{
		decoder:      decoder,
		resampler:    resampler,
		resamplerBuf: resamplerBuf,
		packetBuf:    make([]int16, maxPacketSamples),
		remainder:    make([]int16, 0, FrameSize),
	}, nil
}

// SampleRate returns the output sample rate.
func (d *TurnDecoder) SampleRate() int { return CaptureSampleRate }

// Decode decodes one Opus packet and returns complete FrameSize frames.
// Empty packets (DTX) yield no samples and no error.
func (d *TurnDecoder) Decode(packet []byte) ([]int16, error) {
	if len(packet) == 0 {
		return nil, nil
	}
	n, err := d.decoder.Decode(packet, d.packetBuf)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	resampled, err := d.resample(d.packetBuf[:n])
	if err != nil {
		return nil, err
	}
	return d.frame(resampled), nil
}

// Flush ends the turn: closing the resampler makes it emit its internal
// filter tail, which is returned along with the carried partial frame.
func (d *TurnDecoder) Flush() ([]int16, error) {
	d.resamplerBuf.Reset()
	d.closeResampler()

	out := d.remainder
	d.remainder = nil

	tailBytes := d.resamplerBuf.Bytes()
	if len(tailBytes) >= 2 {
		tail := make([]int16, len(tailBytes)/2)
		for i := range tail {
			tail[i] = int16(binary.LittleEndian.Uint16(tailBytes[i*2:]))
		}
		out = append(out, tail...)
	}
	return out, nil
}

// Close releases the resampler. Safe to call more than once.
func (d *TurnDecoder) Close() {
	d.closeResampler()
}

func (d *TurnDecoder) closeResampler() {
	d.closeOnce.Do(func() {
		if d.resampler != nil {
			d.resampler.Close()
		}
	})
}

// frame splits samples into FrameSize-aligned output, carrying the partial
// tail to the next call.
func (d *TurnDecoder) frame(samples []int16) []int16 {
	combined := append(d.remainder, samples...)
	aligned := (len(combined) / FrameSize) * FrameSize
	out := make([]int16, aligned)
	copy(out, combined[:aligned])
	d.remainder = append([]int16(nil), combined[aligned:]...)
	return out
}

func (d *TurnDecoder) resample(samples []int16) ([]int16, error) {
	inputBytes := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(inputBytes[i*2:], uint16(sample))
	}

	d.resamplerBuf.Reset()
	if _, err := d.resampler.Write(inputBytes); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	outputBytes := d.resamplerBuf.Bytes()
	if len(outputBytes) == 0 {
		return nil, nil // resampler is buffering
	}
	out := make([]int16, len(outputBytes)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(outputBytes[i*2:]))
	}
	return out, nil
}
