package types

import "github.com/google/uuid"

type ParticipantID string
type TurnID string
type RoomID string

func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}

func NewRoomID() RoomID {
	return RoomID(uuid.New().String())
}
