// Package room bridges a media room's websocket transport to the session
// orchestrator. Each participant connects over one websocket and exchanges
// JSON events: track lifecycle and chat messages inbound, utterances
// outbound. Video frames arrive as base64 payloads on the same connection.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/user/parley/internal/types"
)

// EventSink receives participant events from the transport. The session
// orchestrator is the production implementation.
type EventSink interface {
	OnTrackSubscribed(p types.ParticipantID, kind types.TrackKind, track types.VideoTrack)
	OnTrackEnded(p types.ParticipantID, kind types.TrackKind)
	OnTextMessage(p types.ParticipantID, text string) error
	OnParticipantLeft(p types.ParticipantID)
}

type inboundEvent struct {
	Type  string `json:"type"`
	Kind  string `json:"kind,omitempty"`
	Text  string `json:"text,omitempty"`
	Frame *struct {
		MimeType string `json:"mime_type"`
		Data     []byte `json:"data"`
		Width    int    `json:"width,omitempty"`
		Height   int    `json:"height,omitempty"`
	} `json:"frame,omitempty"`
}

type outboundEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Server upgrades participant websockets and routes their events into the
// sink. It also implements types.Utterer for the reverse direction.
type Server struct {
	id       types.RoomID
	sink     EventSink
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[types.ParticipantID]*participantConn
}

type participantConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	// video frame fan-in for the currently subscribed video track
	frameMu sync.Mutex
	frames  chan types.Frame
}

func NewServer(sink EventSink) *Server {
	return &Server{
		id:   types.NewRoomID(),
		sink: sink,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[types.ParticipantID]*participantConn),
	}
}

// Router builds the HTTP routes for the room transport.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/room/ws/{participantID}", s.handleWebSocket)
	return r
}

// SendUtterance delivers assistant text to a connected participant.
func (s *Server) SendUtterance(_ context.Context, p types.ParticipantID, text string) error {
	s.mu.Lock()
	pc, ok := s.conns[p]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("participant %s not connected", p)
	}
	return pc.send(outboundEvent{
		Type:      "utterance",
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (pc *participantConn) send(ev outboundEvent) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	return pc.conn.WriteJSON(ev)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	participant := types.ParticipantID(chi.URLParam(r, "participantID"))
	if participant == "" {
		http.Error(w, "participantID is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "participant", string(participant), "error", err)
		return
	}
	defer conn.Close()

	pc := &participantConn{conn: conn}
	s.mu.Lock()
	if _, exists := s.conns[participant]; exists {
		s.mu.Unlock()
		pc.send(outboundEvent{Type: "error", Error: "participant already connected", Timestamp: time.Now().UnixMilli()})
		return
	}
	s.conns[participant] = pc
	s.mu.Unlock()

	slog.Info("participant connected", "room", string(s.id), "participant", string(participant))
	defer s.disconnect(participant, pc)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.pingLoop(ctx, pc)

	for {
		var ev inboundEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "participant", string(participant), "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		if leaving := s.handleEvent(participant, pc, &ev); leaving {
			return
		}
	}
}

// handleEvent dispatches one inbound event. Returns true when the
// participant announced departure and the connection should close.
func (s *Server) handleEvent(participant types.ParticipantID, pc *participantConn, ev *inboundEvent) bool {
	switch ev.Type {
	case "track_subscribed":
		kind, ok := parseTrackKind(ev.Kind)
		if !ok {
			pc.send(outboundEvent{Type: "error", Error: "unknown track kind: " + ev.Kind, Timestamp: time.Now().UnixMilli()})
			return false
		}
		var track types.VideoTrack
		if kind == types.TrackVideo {
			track = pc.openVideo()
		}
		s.sink.OnTrackSubscribed(participant, kind, track)

	case "track_ended":
		kind, ok := parseTrackKind(ev.Kind)
		if !ok {
			pc.send(outboundEvent{Type: "error", Error: "unknown track kind: " + ev.Kind, Timestamp: time.Now().UnixMilli()})
			return false
		}
		if kind == types.TrackVideo {
			pc.closeVideo()
		}
		s.sink.OnTrackEnded(participant, kind)

	case "frame":
		if ev.Frame == nil {
			pc.send(outboundEvent{Type: "error", Error: "frame event without frame payload", Timestamp: time.Now().UnixMilli()})
			return false
		}
		pc.pushFrame(types.Frame{
			MimeType: ev.Frame.MimeType,
			Data:     ev.Frame.Data,
			Width:    ev.Frame.Width,
			Height:   ev.Frame.Height,
		})

	case "text":
		if err := s.sink.OnTextMessage(participant, ev.Text); err != nil {
			slog.Warn("text message rejected", "participant", string(participant), "error", err)
			pc.send(outboundEvent{Type: "error", Error: "message not accepted", Timestamp: time.Now().UnixMilli()})
		}

	case "leave":
		return true

	default:
		pc.send(outboundEvent{Type: "error", Error: "unsupported event type: " + ev.Type, Timestamp: time.Now().UnixMilli()})
	}
	return false
}

func (s *Server) disconnect(participant types.ParticipantID, pc *participantConn) {
	s.mu.Lock()
	if s.conns[participant] == pc {
		delete(s.conns, participant)
	}
	s.mu.Unlock()
	pc.closeVideo()
	s.sink.OnParticipantLeft(participant)
	slog.Info("participant disconnected", "participant", string(participant))
}

func (s *Server) pingLoop(ctx context.Context, pc *participantConn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pc.writeMu.Lock()
			err := pc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			pc.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func parseTrackKind(s string) (types.TrackKind, bool) {
	switch s {
	case "audio":
		return types.TrackAudio, true
	case "video":
		return types.TrackVideo, true
	}
	return "", false
}

// wsTrack adapts the connection's frame events into a types.VideoTrack.
type wsTrack struct {
	frames chan types.Frame
}

func (t *wsTrack) Frames() <-chan types.Frame { return t.frames }

func (pc *participantConn) openVideo() types.VideoTrack {
	pc.frameMu.Lock()
	defer pc.frameMu.Unlock()
	if pc.frames != nil {
		close(pc.frames)
	}
	pc.frames = make(chan types.Frame, 16)
	return &wsTrack{frames: pc.frames}
}

func (pc *participantConn) closeVideo() {
	pc.frameMu.Lock()
	defer pc.frameMu.Unlock()
	if pc.frames != nil {
		close(pc.frames)
		pc.frames = nil
	}
}

func (pc *participantConn) pushFrame(f types.Frame) {
	pc.frameMu.Lock()
	ch := pc.frames
	pc.frameMu.Unlock()
	if ch == nil {
		return
	}
	// When the consumer lags, discard the oldest buffered frame to make
	// room; the newest frame always gets through and the read loop never
	// stalls.
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
