package session

import (
	"fmt"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"

	"github.com/cchambers/director/internal/logging"
)

// roomSink publishes the assistant's audio into the room as a 48kHz PCM
// track. It is the playback queue's output device.
type roomSink struct {
	mu    sync.Mutex
	track *lkmedia.PCMLocalTrack
	pub   *lksdk.LocalTrackPublication

	firstWriteLogged bool
}

// newRoomSink creates and publishes the output track.
func newRoomSink(room *lksdk.Room, name string) (*roomSink, error) {
	track, err := lkmedia.NewPCMLocalTrack(48000, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("create PCM track: %w", err)
	}

	pub, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   name,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		track.Close()
		return nil, fmt.Errorf("publish track: %w", err)
	}
	pub.SetMuted(false)

	return &roomSink{track: track, pub: pub}, nil
}

// WriteFrame writes one 20ms frame to the published track.
func (s *roomSink) WriteFrame(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return fmt.Errorf("output track is closed")
	}
	if err := s.track.WriteSample(frame); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	if !s.firstWriteLogged {
		s.firstWriteLogged = true
		logging.Info(logging.CategorySession, "wrote first playback frame to room size=%d", len(frame))
	}
	return nil
}

// Close stops the published track.
func (s *roomSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track != nil {
		s.track.Close()
		s.track = nil
	}
	s.pub = nil
}
