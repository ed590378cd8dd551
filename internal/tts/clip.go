package tts

import (
	"fmt"
	"io"
	"os"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"

	"github.com/cchambers/director/internal/playback"
)

// OpenClip decodes a local WAV resource into a playback stream at
// OutputSampleRate, resampling if the file was authored at another rate.
func OpenClip(path string) (playback.FrameStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open clip: %w", err)
	}
	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode clip %s: %w", path, err)
	}

	var src beep.Streamer = streamer
	if format.SampleRate != beep.SampleRate(OutputSampleRate) {
		src = beep.Resample(4, format.SampleRate, beep.SampleRate(OutputSampleRate), streamer)
	}

	return &clipStream{src: src, closer: streamer, buf: make([][2]float64, FrameSamples)}, nil
}

type clipStream struct {
	src    beep.Streamer
	closer beep.StreamSeekCloser
	buf    [][2]float64
}

func (c *clipStream) NextFrame() ([]int16, error) {
	n, ok := c.src.Stream(c.buf)
	if n == 0 && !ok {
		return nil, io.EOF
	}
	frame := make([]int16, FrameSamples)
	for i := 0; i < n; i++ {
		// Mix stereo down to mono.
		v := (c.buf[i][0] + c.buf[i][1]) / 2
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		frame[i] = int16(v * 32767)
	}
	return frame, nil
}

func (c *clipStream) Close() error {
	return c.closer.Close()
}
