package media

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/user/parley/internal/greeting"
	"github.com/user/parley/internal/types"
)

// ParticipantSession tracks the media state of one joined participant.
// latestFrame holds only the most recent video frame; intermediate frames
// are dropped. Overwrite is the backpressure policy.
type ParticipantSession struct {
	ID types.ParticipantID

	Greeting greeting.Guard

	audioActive atomic.Bool
	videoActive atomic.Bool
	latestFrame atomic.Pointer[types.Frame]

	mu          sync.Mutex
	cancelVideo context.CancelFunc
}

// AudioActive reports whether the participant's audio track is subscribed.
func (s *ParticipantSession) AudioActive() bool { return s.audioActive.Load() }

// VideoActive reports whether the participant's video track is subscribed.
func (s *ParticipantSession) VideoActive() bool { return s.videoActive.Load() }

// LatestFrame returns the most recent video frame, or nil if none arrived.
func (s *ParticipantSession) LatestFrame() *types.Frame {
	return s.latestFrame.Load()
}

func (s *ParticipantSession) stopVideo() {
	s.mu.Lock()
	cancel := s.cancelVideo
	s.cancelVideo = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Coordinator owns the per-participant track state machines. Audio
// subscription triggers the greeting hook; video subscription starts a
// frame consumption loop that runs until the track ends or the
// participant departs.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[types.ParticipantID]*ParticipantSession

	// onAudioSubscribed fires on each audio subscription; the orchestrator
	// uses it to attempt the greeting.
	onAudioSubscribed func(*ParticipantSession)
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{sessions: make(map[types.ParticipantID]*ParticipantSession)}
}

// OnAudioSubscribed registers the audio-subscription hook. Must be set
// before any events arrive.
func (c *Coordinator) OnAudioSubscribed(fn func(*ParticipantSession)) {
	c.onAudioSubscribed = fn
}

// Session returns the participant's session if one exists.
func (c *Coordinator) Session(p types.ParticipantID) (*ParticipantSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[p]
	return s, ok
}

// getOrCreate returns the participant's session, creating it on the first
// track-subscribed event.
func (c *Coordinator) getOrCreate(p types.ParticipantID) *ParticipantSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[p]; ok {
		return s
	}
	s := &ParticipantSession{ID: p}
	c.sessions[p] = s
	return s
}

// TrackSubscribed handles a track-subscribed event. For video tracks,
// track must be non-nil; its frames are consumed until the channel closes.
func (c *Coordinator) TrackSubscribed(ctx context.Context, p types.ParticipantID, kind types.TrackKind, track types.VideoTrack) {
	s := c.getOrCreate(p)

	switch kind {
	case types.TrackAudio:
		s.audioActive.Store(true)
		slog.Info("audio track subscribed", "participant", string(p))
		if c.onAudioSubscribed != nil {
			c.onAudioSubscribed(s)
		}

	case types.TrackVideo:
		if track == nil {
			slog.Warn("video subscription without track", "participant", string(p))
			return
		}
		s.videoActive.Store(true)
		slog.Info("video track subscribed", "participant", string(p))

		videoCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		if s.cancelVideo != nil {
			s.cancelVideo()
		}
		s.cancelVideo = cancel
		s.mu.Unlock()

		go c.consumeFrames(videoCtx, s, track)
	}
}

// consumeFrames overwrites the session's latest frame for every frame the
// track delivers. It never blocks chat-turn processing and exits when the
// track channel closes or the context is cancelled.
func (c *Coordinator) consumeFrames(ctx context.Context, s *ParticipantSession, track types.VideoTrack) {
	frames := track.Frames()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				c.TrackEnded(s.ID, types.TrackVideo)
				return
			}
			f := frame
			s.latestFrame.Store(&f)
		case <-ctx.Done():
			return
		}
	}
}

// TrackEnded handles a track-ended event, clearing the active flag.
func (c *Coordinator) TrackEnded(p types.ParticipantID, kind types.TrackKind) {
	s, ok := c.Session(p)
	if !ok {
		return
	}
	switch kind {
	case types.TrackAudio:
		s.audioActive.Store(false)
	case types.TrackVideo:
		s.videoActive.Store(false)
		s.stopVideo()
	}
	slog.Info("track ended", "participant", string(p), "kind", string(kind))
}

// ParticipantLeft clears both tracks and cancels the frame loop. The
// session itself is removed by a later Sweep.
func (c *Coordinator) ParticipantLeft(p types.ParticipantID) {
	s, ok := c.Session(p)
	if !ok {
		return
	}
	s.audioActive.Store(false)
	s.videoActive.Store(false)
	s.stopVideo()
	slog.Info("participant left", "participant", string(p))
}

// Sweep removes sessions whose tracks are all inactive and returns the
// removed participant IDs. Called periodically; teardown is eventual, not
// synchronous with departure.
func (c *Coordinator) Sweep() []types.ParticipantID {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []types.ParticipantID
	for id, s := range c.sessions {
		if !s.audioActive.Load() && !s.videoActive.Load() {
			delete(c.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}
