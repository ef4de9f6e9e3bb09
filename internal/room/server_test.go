package room

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/parley/internal/types"
)

type sinkEvent struct {
	kind  string
	track types.TrackKind
	text  string
}

// recordingSink captures orchestrator events for inspection.
type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
	video  types.VideoTrack
}

func (r *recordingSink) OnTrackSubscribed(p types.ParticipantID, kind types.TrackKind, track types.VideoTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{kind: "subscribed", track: kind})
	if kind == types.TrackVideo {
		r.video = track
	}
}

func (r *recordingSink) OnTrackEnded(p types.ParticipantID, kind types.TrackKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{kind: "ended", track: kind})
}

func (r *recordingSink) OnTextMessage(p types.ParticipantID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{kind: "text", text: text})
	return nil
}

func (r *recordingSink) OnParticipantLeft(p types.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{kind: "left"})
}

func (r *recordingSink) snapshot() []sinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sinkEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSink) waitFor(t *testing.T, kind string) sinkEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		for _, ev := range r.snapshot() {
			if ev.kind == kind {
				return ev
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %q event, have %v", kind, r.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func dialParticipant(t *testing.T, srv *httptest.Server, participant string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/room/ws/" + participant
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestTrackAndTextEvents(t *testing.T) {
	sink := &recordingSink{}
	server := NewServer(sink)
	srv := httptest.NewServer(server.Router())
	defer srv.Close()

	conn := dialParticipant(t, srv, "p1")

	if err := conn.WriteJSON(map[string]any{"type": "track_subscribed", "kind": "audio"}); err != nil {
		t.Fatal(err)
	}
	ev := sink.waitFor(t, "subscribed")
	if ev.track != types.TrackAudio {
		t.Errorf("expected audio subscription, got %v", ev.track)
	}

	if err := conn.WriteJSON(map[string]any{"type": "text", "text": "hello there"}); err != nil {
		t.Fatal(err)
	}
	ev = sink.waitFor(t, "text")
	if ev.text != "hello there" {
		t.Errorf("expected text forwarded, got %q", ev.text)
	}
}

func TestVideoFramesReachTrack(t *testing.T) {
	sink := &recordingSink{}
	server := NewServer(sink)
	srv := httptest.NewServer(server.Router())
	defer srv.Close()

	conn := dialParticipant(t, srv, "p1")

	if err := conn.WriteJSON(map[string]any{"type": "track_subscribed", "kind": "video"}); err != nil {
		t.Fatal(err)
	}
	sink.waitFor(t, "subscribed")

	sink.mu.Lock()
	track := sink.video
	sink.mu.Unlock()
	if track == nil {
		t.Fatal("expected a video track")
	}

	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF})
	if err := conn.WriteJSON(map[string]any{
		"type":  "frame",
		"frame": map[string]any{"mime_type": "image/jpeg", "data": payload},
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-track.Frames():
		if frame.MimeType != "image/jpeg" {
			t.Errorf("unexpected mime type %q", frame.MimeType)
		}
		if len(frame.Data) != 3 || frame.Data[0] != 0xFF {
			t.Errorf("frame data not decoded: %v", frame.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never reached the track")
	}

	// Ending the video track closes the frame channel.
	if err := conn.WriteJSON(map[string]any{"type": "track_ended", "kind": "video"}); err != nil {
		t.Fatal(err)
	}
	sink.waitFor(t, "ended")
	select {
	case _, open := <-track.Frames():
		if open {
			t.Error("expected frame channel closed after track end")
		}
	case <-time.After(time.Second):
		t.Fatal("frame channel not closed")
	}
}

func TestPushFrameKeepsNewestUnderPressure(t *testing.T) {
	// No consumer while 40 frames arrive on a 16-slot buffer; the buffer
	// must end up holding the newest frames, not the oldest.
	pc := &participantConn{}
	track := pc.openVideo()

	for i := 0; i < 40; i++ {
		pc.pushFrame(types.Frame{MimeType: "image/jpeg", Data: []byte{byte(i)}})
	}

	var last types.Frame
	drained := 0
drain:
	for {
		select {
		case f := <-track.Frames():
			last = f
			drained++
		default:
			break drain
		}
	}
	if drained == 0 {
		t.Fatal("no frames buffered")
	}
	if last.Data[0] != 39 {
		t.Errorf("expected newest frame (39) last, got %d", last.Data[0])
	}
}

func TestUtteranceDelivery(t *testing.T) {
	sink := &recordingSink{}
	server := NewServer(sink)
	srv := httptest.NewServer(server.Router())
	defer srv.Close()

	conn := dialParticipant(t, srv, "p1")

	// The connection registers synchronously during upgrade; poll until
	// delivery succeeds.
	deadline := time.After(time.Second)
	for {
		err := server.SendUtterance(context.Background(), "p1", "welcome")
		if err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("utterance never delivered: %v", err)
		case <-time.After(5 * time.Millisecond):
		}
	}

	var ev outboundEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "utterance" || ev.Text != "welcome" {
		t.Errorf("unexpected outbound event %+v", ev)
	}
}

func TestSendToUnknownParticipant(t *testing.T) {
	server := NewServer(&recordingSink{})
	if err := server.SendUtterance(context.Background(), "ghost", "hello?"); err == nil {
		t.Fatal("expected delivery error for unknown participant")
	}
}

func TestLeaveTriggersDeparture(t *testing.T) {
	sink := &recordingSink{}
	server := NewServer(sink)
	srv := httptest.NewServer(server.Router())
	defer srv.Close()

	conn := dialParticipant(t, srv, "p1")
	if err := conn.WriteJSON(map[string]any{"type": "leave"}); err != nil {
		t.Fatal(err)
	}
	sink.waitFor(t, "left")
}

func TestDisconnectTriggersDeparture(t *testing.T) {
	sink := &recordingSink{}
	server := NewServer(sink)
	srv := httptest.NewServer(server.Router())
	defer srv.Close()

	conn := dialParticipant(t, srv, "p1")
	conn.Close()
	sink.waitFor(t, "left")
}
