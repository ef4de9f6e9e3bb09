package types

import "context"

// Utterer delivers assistant utterances to a participant. Delivery failures
// are reported but never retried by the caller.
type Utterer interface {
	SendUtterance(ctx context.Context, participant ParticipantID, text string) error
}

// VideoTrack exposes the decoded frames of a subscribed video track.
// The channel is closed when the track ends.
type VideoTrack interface {
	Frames() <-chan Frame
}

// PersonaSource provides the persona text read once at session start.
type PersonaSource interface {
	LoadPersonaText() (string, error)
}
