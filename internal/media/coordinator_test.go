package media

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/parley/internal/types"
)

// chanTrack is a VideoTrack backed by a plain channel.
type chanTrack struct {
	ch chan types.Frame
}

func (t *chanTrack) Frames() <-chan types.Frame { return t.ch }

func TestAudioSubscribedFiresHook(t *testing.T) {
	c := NewCoordinator()
	var fired int32
	c.OnAudioSubscribed(func(s *ParticipantSession) {
		atomic.AddInt32(&fired, 1)
	})

	c.TrackSubscribed(context.Background(), "p1", types.TrackAudio, nil)

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected hook fired once, got %d", fired)
	}
	s, ok := c.Session("p1")
	if !ok || !s.AudioActive() {
		t.Error("expected audio active session")
	}
}

func TestVideoFramesLastWriterWins(t *testing.T) {
	c := NewCoordinator()
	track := &chanTrack{ch: make(chan types.Frame)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.TrackSubscribed(ctx, "p1", types.TrackVideo, track)

	// Deliver 50 frames in quick succession.
	for i := 0; i < 50; i++ {
		track.ch <- types.Frame{MimeType: "image/jpeg", Data: []byte{byte(i)}}
	}

	s, _ := c.Session("p1")
	deadline := time.After(time.Second)
	for {
		f := s.LatestFrame()
		if f != nil && f.Data[0] == 49 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("latest frame never reached frame 49")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Only one frame is retained; there is no backlog to drain.
	if f := s.LatestFrame(); f.Data[0] != 49 {
		t.Errorf("expected frame 49, got %d", f.Data[0])
	}
}

func TestVideoTrackEndedOnChannelClose(t *testing.T) {
	c := NewCoordinator()
	track := &chanTrack{ch: make(chan types.Frame, 1)}

	c.TrackSubscribed(context.Background(), "p1", types.TrackVideo, track)
	close(track.ch)

	s, _ := c.Session("p1")
	deadline := time.After(time.Second)
	for s.VideoActive() {
		select {
		case <-deadline:
			t.Fatal("video still active after track channel closed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSweepRemovesInactiveSessions(t *testing.T) {
	c := NewCoordinator()
	c.TrackSubscribed(context.Background(), "p1", types.TrackAudio, nil)
	c.TrackSubscribed(context.Background(), "p2", types.TrackAudio, nil)

	c.ParticipantLeft("p1")

	removed := c.Sweep()
	if len(removed) != 1 || removed[0] != "p1" {
		t.Fatalf("expected [p1] removed, got %v", removed)
	}
	if _, ok := c.Session("p1"); ok {
		t.Error("p1 session should be gone")
	}
	if _, ok := c.Session("p2"); !ok {
		t.Error("p2 session should remain")
	}
}

func TestParticipantLeftCancelsFrameLoop(t *testing.T) {
	c := NewCoordinator()
	track := &chanTrack{ch: make(chan types.Frame)}
	c.TrackSubscribed(context.Background(), "p1", types.TrackVideo, track)

	c.ParticipantLeft("p1")

	// The loop should have exited; a send now blocks forever, so try a
	// non-blocking send after a grace period.
	time.Sleep(20 * time.Millisecond)
	select {
	case track.ch <- types.Frame{Data: []byte{1}}:
		t.Error("frame loop still consuming after departure")
	default:
	}
}
