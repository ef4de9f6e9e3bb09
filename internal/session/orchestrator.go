package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/parley/internal/convo"
	"github.com/user/parley/internal/dispatch"
	"github.com/user/parley/internal/greeting"
	"github.com/user/parley/internal/media"
	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// ErrToolRoundsExceeded marks a turn that hit the tool-call round bound.
var ErrToolRoundsExceeded = errors.New("max tool rounds exceeded")

// fallbackUtterance is what the participant hears when a turn fails. Raw
// errors never reach the participant.
const fallbackUtterance = "Sorry, something went wrong processing your message."

// Options configures an Orchestrator.
type Options struct {
	MaxToolRounds      int
	MaxConcurrentTurns int64
	ModelTimeout       time.Duration
	SweepSchedule      string
}

func (o *Options) withDefaults() {
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = 5
	}
	if o.MaxConcurrentTurns <= 0 {
		o.MaxConcurrentTurns = 2
	}
	if o.ModelTimeout <= 0 {
		o.ModelTimeout = 60 * time.Second
	}
	if o.SweepSchedule == "" {
		o.SweepSchedule = "@every 30s"
	}
}

// Orchestrator is the central coordinator for one room session. It routes
// transport events into the media coordinator and conversation context,
// serializes chat turns per participant, and drives the model/tool
// response pipeline.
type Orchestrator struct {
	provider   llm.Provider
	builder    *prompt.Builder
	dispatcher *dispatch.Dispatcher
	convo      *convo.Context
	media      *media.Coordinator
	utterer    types.Utterer
	persona    types.PersonaSource
	greeter    *greeting.Picker
	queue      *turnQueue
	janitor    *cron.Cron
	opts       Options

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Orchestrator. All collaborators are injected; nothing is
// resolved from ambient globals.
func New(
	provider llm.Provider,
	builder *prompt.Builder,
	dispatcher *dispatch.Dispatcher,
	conversation *convo.Context,
	utterer types.Utterer,
	persona types.PersonaSource,
	greeter *greeting.Picker,
	opts Options,
) *Orchestrator {
	opts.withDefaults()
	o := &Orchestrator{
		provider:   provider,
		builder:    builder,
		dispatcher: dispatcher,
		convo:      conversation,
		media:      media.NewCoordinator(),
		utterer:    utterer,
		persona:    persona,
		greeter:    greeter,
		queue:      newTurnQueue(opts.MaxConcurrentTurns),
		janitor:    cron.New(),
		opts:       opts,
	}
	o.media.OnAudioSubscribed(o.tryGreet)
	o.queue.setProcessor(o.runTurn)
	return o
}

// Media exposes the coordinator for transport adapters that feed it
// directly in tests.
func (o *Orchestrator) Media() *media.Coordinator { return o.media }

// SetUtterer installs the utterance transport. The room server needs the
// orchestrator as its event sink, so the two are wired in stages; call
// this before Start.
func (o *Orchestrator) SetUtterer(u types.Utterer) { o.utterer = u }

// Start loads the persona and begins accepting events. A missing or
// unreadable persona is fatal; the session must not start without it.
func (o *Orchestrator) Start(ctx context.Context) error {
	personaText, err := o.persona.LoadPersonaText()
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}

	o.ctx, o.cancel = context.WithCancel(ctx)

	o.convo.AppendPersona(personaText)
	// Evictable, unlike the persona message.
	o.convo.Append(types.RoleSystem, fmt.Sprintf(
		"The current date and time is %s",
		time.Now().Format("Monday, January 02, 2006 3:04 PM"),
	))

	o.queue.start(o.ctx)

	if _, err := o.janitor.AddFunc(o.opts.SweepSchedule, o.sweep); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	o.janitor.Start()

	slog.Info("orchestrator started",
		"max_tool_rounds", o.opts.MaxToolRounds,
		"max_concurrent_turns", o.opts.MaxConcurrentTurns,
		"model_timeout", o.opts.ModelTimeout,
	)
	return nil
}

// Stop shuts down the janitor, lets in-flight turns drain briefly, then
// cancels everything still running.
func (o *Orchestrator) Stop() {
	<-o.janitor.Stop().Done()
	o.queue.waitIdle(5 * time.Second)
	if o.cancel != nil {
		o.cancel()
	}
	o.queue.stop()
}

// OnTrackSubscribed handles a track-subscribed transport event.
func (o *Orchestrator) OnTrackSubscribed(p types.ParticipantID, kind types.TrackKind, track types.VideoTrack) {
	o.media.TrackSubscribed(o.ctx, p, kind, track)
}

// OnTrackEnded handles a track-ended transport event.
func (o *Orchestrator) OnTrackEnded(p types.ParticipantID, kind types.TrackKind) {
	o.media.TrackEnded(p, kind)
}

// OnParticipantLeft cancels the participant's outstanding turn and frame
// loop. Session teardown itself is handled by the periodic sweep.
func (o *Orchestrator) OnParticipantLeft(p types.ParticipantID) {
	o.media.ParticipantLeft(p)
	o.queue.closeLane(p)
}

// OnTextMessage appends the user's message to the conversation and
// schedules a response turn. Messages arriving while a turn is in flight
// queue behind it in arrival order.
func (o *Orchestrator) OnTextMessage(p types.ParticipantID, text string) error {
	if text == "" {
		return nil
	}
	slog.Info("received chat message", "participant", string(p), "text", text)
	o.convo.Append(types.RoleUser, text)
	return o.queue.enqueue(NewTurn(p, text))
}

// tryGreet says the initial greeting at most once per participant session.
// Racing audio/video subscription events all funnel through the guard.
func (o *Orchestrator) tryGreet(s *media.ParticipantSession) {
	if !s.Greeting.TryStart() {
		return
	}
	go func() {
		defer s.Greeting.Finish()
		text := o.greeter.Pick()
		slog.Info("saying greeting", "participant", string(s.ID))
		o.convo.Append(types.RoleAssistant, text)
		if err := o.utterer.SendUtterance(o.ctx, s.ID, text); err != nil {
			slog.Warn("greeting delivery failed", "participant", string(s.ID), "error", err)
		}
	}()
}

// beforeModelCall folds the participant's latest video frame into the
// conversation and returns the snapshot for the model. No-op when no frame
// has arrived.
func (o *Orchestrator) beforeModelCall(p types.ParticipantID) []convo.Message {
	if s, ok := o.media.Session(p); ok {
		if frame := s.LatestFrame(); frame != nil {
			o.convo.ReplaceLatestImage(frame.Attachment())
		}
	}
	return o.convo.Snapshot()
}

// runTurn drives one turn through the model/tool pipeline. Failures mark
// only this turn Failed; the session remains usable for the next one.
func (o *Orchestrator) runTurn(t *Turn) error {
	tools := o.dispatcher.Registry().AsLLMTools()

	for round := 0; round < o.opts.MaxToolRounds; round++ {
		t.Status = TurnModelInvoking
		snapshot := o.beforeModelCall(t.Participant)
		messages := o.builder.Build(snapshot)

		callCtx, cancel := context.WithTimeout(t.Ctx, o.opts.ModelTimeout)
		resp, err := o.provider.Complete(callCtx, messages, tools)
		cancel()
		if err != nil {
			o.failTurn(t, fmt.Errorf("model call: %w", err))
			return t.Err
		}

		if len(resp.ToolCalls) > 0 {
			t.Status = TurnToolInvoking
			o.convo.AppendToolCall(resp.ToolCalls)
			if err := o.runToolCalls(t, resp.ToolCalls); err != nil {
				o.failTurn(t, err)
				return t.Err
			}
			continue
		}

		if resp.Content != "" {
			o.convo.Append(types.RoleAssistant, resp.Content)
			t.Status = TurnEmitting
			if err := o.utterer.SendUtterance(t.Ctx, t.Participant, resp.Content); err != nil {
				// DeliveryFailure: logged, not retried, turn still completes.
				slog.Warn("utterance delivery failed",
					"participant", string(t.Participant), "error", err)
			}
		}
		t.end(TurnDone, nil)
		return nil
	}

	o.failTurn(t, ErrToolRoundsExceeded)
	return t.Err
}

// runToolCalls executes the model's tool requests sequentially. Validation
// and capability failures become tool-result error strings so the model
// can adapt; a timeout fails the whole turn.
func (o *Orchestrator) runToolCalls(t *Turn, calls []llm.ToolCall) error {
	for _, tc := range calls {
		name := tc.Function.Name
		args, err := decodeArgs(tc.Function.Arguments)
		if err != nil {
			o.convo.AppendToolResult(tc.ID, fmt.Sprintf("error: invalid arguments: %v", err))
			continue
		}

		result, err := o.dispatcher.Invoke(t.Ctx, name, args)
		if err != nil {
			var te *dispatch.ToolError
			if errors.As(err, &te) && te.Kind == dispatch.KindTimeout {
				return fmt.Errorf("tool %s: %w", name, err)
			}
			slog.Warn("tool invocation failed", "tool", name, "error", err)
			result = fmt.Sprintf("error: %v", err)
		}
		o.convo.AppendToolResult(tc.ID, result)
	}
	return nil
}

func (o *Orchestrator) failTurn(t *Turn, err error) {
	t.end(TurnFailed, err)
	slog.Error("turn failed",
		"turn_id", string(t.ID),
		"participant", string(t.Participant),
		"error", err,
	)
	// A cancelled lane means the participant departed; there is nobody
	// left to hear the apology.
	if t.Ctx != nil && t.Ctx.Err() != nil {
		return
	}
	if uttErr := o.utterer.SendUtterance(o.ctx, t.Participant, fallbackUtterance); uttErr != nil {
		slog.Warn("fallback delivery failed", "participant", string(t.Participant), "error", uttErr)
	}
}

// sweep tears down participant sessions whose tracks have all gone
// inactive.
func (o *Orchestrator) sweep() {
	for _, p := range o.media.Sweep() {
		o.queue.closeLane(p)
		slog.Info("participant session removed", "participant", string(p))
	}
}

// decodeArgs parses tool-call arguments. OpenAI-compatible APIs deliver
// arguments as a JSON-encoded string; accept both that and a bare object.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args, nil
	}
	var wrapped string
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	if wrapped == "" {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal([]byte(wrapped), &args); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	return args, nil
}
