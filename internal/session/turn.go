package session

import (
	"context"
	"time"

	"github.com/user/parley/internal/types"
)

// TurnStatus represents the lifecycle state of a chat turn.
type TurnStatus string

const (
	TurnQueued        TurnStatus = "queued"
	TurnModelInvoking TurnStatus = "model_invoking"
	TurnToolInvoking  TurnStatus = "tool_invoking"
	TurnEmitting      TurnStatus = "emitting"
	TurnDone          TurnStatus = "done"
	TurnFailed        TurnStatus = "failed"
)

// Turn tracks a single request/response cycle for a participant's chat
// message, including any tool-call rounds.
type Turn struct {
	ID          types.TurnID
	Participant types.ParticipantID
	Text        string
	Status      TurnStatus
	CreatedAt   time.Time
	EndedAt     *time.Time
	Err         error
	Ctx         context.Context
}

// NewTurn creates a Turn in the Queued state.
func NewTurn(participant types.ParticipantID, text string) *Turn {
	return &Turn{
		ID:          types.NewTurnID(),
		Participant: participant,
		Text:        text,
		Status:      TurnQueued,
		CreatedAt:   time.Now(),
	}
}

func (t *Turn) end(status TurnStatus, err error) {
	now := time.Now()
	t.Status = status
	t.EndedAt = &now
	t.Err = err
}
