// Package session owns one room's live state: the speaking registry, the
// transcript, the playback queue and the per-participant capture pipelines.
// Everything a component shares is created here and passed by handle, so a
// session tears down deterministically and multiple sessions stay
// independent.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/cchambers/director/internal/audio"
	"github.com/cchambers/director/internal/capture"
	"github.com/cchambers/director/internal/config"
	"github.com/cchambers/director/internal/dashboard"
	"github.com/cchambers/director/internal/director"
	"github.com/cchambers/director/internal/logging"
	"github.com/cchambers/director/internal/playback"
	"github.com/cchambers/director/internal/stt"
	"github.com/cchambers/director/internal/transcript"
	"github.com/cchambers/director/internal/tts"
)

const suggestionTimeout = 30 * time.Second

// Session is one room's capture/transcript/playback core.
type Session struct {
	ID       string
	RoomName string
	Token    string
	URL      string

	cfg *config.Config

	registry    *capture.Registry
	buffer      *transcript.Buffer
	queue       *playback.Queue
	writer      *transcript.SessionWriter
	flow        *director.Flow
	transcriber capture.Transcriber
	dash        *dashboard.Server

	mu     sync.Mutex
	tracks map[string]*trackReader // participant identity -> reader
	sink   *roomSink
}

// New assembles a session's components. dash may be nil when the dashboard
// is disabled.
func New(roomName, token string, cfg *config.Config, dash *dashboard.Server) (*Session, error) {
	transcriber, err := stt.NewHTTPTranscriber(cfg.STTURL, cfg.STTAPIKey, cfg.STTModel)
	if err != nil {
		return nil, err
	}

	buffer := transcript.NewBuffer(cfg.DirectorContextSize, cfg.ClaimAutoThreshold)

	var synth playback.Synthesizer
	if cfg.TTSURL != "" {
		hs, err := tts.NewHTTPSynthesizer(cfg.TTSURL)
		if err != nil {
			return nil, err
		}
		synth = hs
	}

	s := &Session{
		ID:          uuid.NewString(),
		RoomName:    roomName,
		Token:       token,
		URL:         cfg.LiveKitURL,
		cfg:         cfg,
		registry:    capture.NewRegistry(),
		buffer:      buffer,
		transcriber: transcriber,
		dash:        dash,
		tracks:      make(map[string]*trackReader),
	}
	s.queue = playback.NewQueue(s.registry, synth, tts.OpenClip, cfg.PlaybackPollInterval, cfg.SilenceGracePeriod)

	if cfg.DirectorURL != "" {
		s.flow = director.NewFlow(director.NewClient(cfg.DirectorURL), buffer, "", s.queue)
		buffer.OnClaimThreshold(func() {
			ctx, cancel := context.WithTimeout(context.Background(), suggestionTimeout)
			defer cancel()
			s.flow.ExtractClaims(ctx)
		})
	}

	if writer, err := transcript.NewSessionWriter(cfg.SessionLogDir, s.ID); err != nil {
		// Persistence is best-effort; the session runs without it.
		logging.Warning(logging.CategorySession, "session files unavailable: %v", err)
	} else {
		s.writer = writer
		buffer.OnAppend(writer.Write)
	}

	return s, nil
}

// Run connects to the room and processes audio until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	logging.Info(logging.CategorySession, "starting session sessionID=%s room=%s", s.ID, s.RoomName)

	callbacks := &lksdk.RoomCallback{
		OnDisconnected: func() {
			logging.Info(logging.CategorySession, "disconnected from room sessionID=%s", s.ID)
		},
		OnParticipantDisconnected: func(participant *lksdk.RemoteParticipant) {
			s.removeTrack(participant.Identity())
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() == webrtc.RTPCodecTypeAudio {
					s.handleTrack(rp, track)
				}
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() == webrtc.RTPCodecTypeAudio {
					s.removeTrack(rp.Identity())
				}
			},
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(s.URL, s.Token, callbacks)
	if err != nil {
		s.teardown()
		return err
	}
	defer room.Disconnect()

	logging.Info(logging.CategorySession, "connected to room room=%s identity=%s", room.Name(), room.LocalParticipant.Identity())

	if sink, err := newRoomSink(room, "assistant-audio"); err != nil {
		logging.Error(logging.CategorySession, "failed to publish output track, playback disabled: %v", err)
	} else {
		s.mu.Lock()
		s.sink = sink
		s.mu.Unlock()
		s.queue.Attach(sink)
	}

	if s.dash != nil {
		s.dash.AttachSession(s.buffer)
	}

	// Handle tracks of participants already in the room.
	for _, p := range room.GetRemoteParticipants() {
		for _, pub := range p.TrackPublications() {
			if pub.Kind() != lksdk.TrackKindAudio {
				continue
			}
			remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			if !remotePub.IsSubscribed() {
				remotePub.SetSubscribed(true)
			}
			if track := remotePub.Track(); track != nil {
				if remoteTrack, ok := track.(*webrtc.TrackRemote); ok {
					s.handleTrack(p, remoteTrack)
				}
			}
		}
	}

	<-ctx.Done()
	logging.Info(logging.CategorySession, "context cancelled, closing session sessionID=%s", s.ID)
	s.teardown()
	return nil
}

// handleTrack starts a capture reader for one participant's audio track.
func (s *Session) handleTrack(participant *lksdk.RemoteParticipant, track *webrtc.TrackRemote) {
	identity := participant.Identity()
	if s.suppressed(identity) {
		logging.Debug(logging.CategorySession, "skipping non-human participant identity=%s", identity)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tracks[identity]; exists {
		logging.Warning(logging.CategorySession, "track reader already exists participant=%s", identity)
		return
	}

	reader := s.newTrackReader(identity, participant.Name())
	s.tracks[identity] = reader
	reader.start(track)
}

func (s *Session) newTrackReader(identity, displayName string) *trackReader {
	ctx, cancel := context.WithCancel(context.Background())
	pipelineCfg := capture.PipelineConfig{
		ParticipantID:   identity,
		DisplayName:     displayName,
		HostIdentity:    s.cfg.HostIdentity,
		HostLabel:       s.cfg.HostLabel,
		TriggerPhrases:  s.cfg.TriggerPhrases,
		MinTurnDuration: s.cfg.MinTurnDuration,
		MaxTurnDuration: s.cfg.MaxTurnDuration,
	}
	return &trackReader{
		participantID:  identity,
		silenceTimeout: s.cfg.SilenceTimeout,
		ctx:            ctx,
		cancel:         cancel,
		newDecoder: func() (capture.Decoder, error) {
			return audio.NewTurnDecoder()
		},
		newPipeline: func(dec capture.Decoder) *capture.Pipeline {
			return capture.NewPipeline(pipelineCfg, dec, s.transcriber, s.registry, s.buffer, s.onTrigger)
		},
	}
}

// onTrigger runs the director-suggestion flow, fired when the host speaks a
// trigger phrase.
func (s *Session) onTrigger() {
	if s.flow == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), suggestionTimeout)
	defer cancel()
	s.flow.RequestSuggestion(ctx)
}

// suppressed reports whether a participant's audio must not be captured: the
// assistant's own output and other agent participants.
func (s *Session) suppressed(identity string) bool {
	if strings.HasPrefix(identity, "agent-") {
		return true
	}
	return s.cfg.AgentName != "" && identity == s.cfg.AgentName
}

func (s *Session) removeTrack(identity string) {
	s.mu.Lock()
	reader, exists := s.tracks[identity]
	if exists {
		delete(s.tracks, identity)
	}
	s.mu.Unlock()

	if exists {
		reader.stop()
		logging.Info(logging.CategorySession, "removed track reader participant=%s", identity)
	}
}

func (s *Session) teardown() {
	// A departed connection abandons pending playback immediately.
	s.queue.Detach()
	s.queue.Close()

	s.mu.Lock()
	readers := make([]*trackReader, 0, len(s.tracks))
	for _, r := range s.tracks {
		readers = append(readers, r)
	}
	s.tracks = make(map[string]*trackReader)
	sink := s.sink
	s.sink = nil
	s.mu.Unlock()

	for _, r := range readers {
		r.stop()
	}
	if sink != nil {
		sink.Close()
	}
	if s.writer != nil {
		s.writer.Close()
	}
	logging.Info(logging.CategorySession, "session closed sessionID=%s entries=%d", s.ID, s.buffer.Len())
}
