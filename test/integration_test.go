//go:build integration

package test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/parley/internal/convo"
	"github.com/user/parley/internal/dispatch"
	"github.com/user/parley/internal/greeting"
	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/room"
	"github.com/user/parley/internal/session"
	"github.com/user/parley/pkg/llm"
)

type cannedProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	call      int
}

func (p *cannedProvider) Complete(_ context.Context, _ []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.call < len(p.responses) {
		r := p.responses[p.call]
		p.call++
		return r, nil
	}
	return &llm.Response{Content: "ok"}, nil
}

func (p *cannedProvider) Stream(_ context.Context, _ []llm.Message, _ []llm.Tool) (<-chan llm.Delta, error) {
	return nil, nil
}

type inlinePersona struct{}

func (inlinePersona) LoadPersonaText() (string, error) {
	return "You are a helpful voice assistant.", nil
}

// TestRoomEndToEnd drives a full participant session over the websocket
// transport: connect, subscribe audio, receive a greeting, exchange one
// chat turn, then leave.
func TestRoomEndToEnd(t *testing.T) {
	provider := &cannedProvider{responses: []*llm.Response{{Content: "Nice to meet you!"}}}

	registry := dispatch.NewRegistry()
	registry.Seal()

	builder, err := prompt.New("gpt-4", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}
	greeter, err := greeting.NewPicker("")
	if err != nil {
		t.Fatal(err)
	}

	orch := session.New(
		provider,
		builder,
		dispatch.NewDispatcher(registry, time.Second),
		convo.New(50),
		nil,
		inlinePersona{},
		greeter,
		session.Options{},
	)
	roomServer := room.NewServer(orch)
	orch.SetUtterer(roomServer)

	if err := orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer orch.Stop()

	srv := httptest.NewServer(roomServer.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/room/ws/alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "track_subscribed", "kind": "audio"}); err != nil {
		t.Fatal(err)
	}

	// First outbound event is the greeting.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var greetingEv struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := conn.ReadJSON(&greetingEv); err != nil {
		t.Fatal(err)
	}
	if greetingEv.Type != "utterance" || greetingEv.Text == "" {
		t.Fatalf("expected greeting utterance, got %+v", greetingEv)
	}

	if err := conn.WriteJSON(map[string]any{"type": "text", "text": "hi there"}); err != nil {
		t.Fatal(err)
	}

	var replyEv struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := conn.ReadJSON(&replyEv); err != nil {
		t.Fatal(err)
	}
	if replyEv.Text != "Nice to meet you!" {
		t.Errorf("unexpected reply %+v", replyEv)
	}

	if err := conn.WriteJSON(map[string]any{"type": "leave"}); err != nil {
		t.Fatal(err)
	}
}
