package types

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// TrackKind distinguishes media track types on a participant.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// AttachmentKind tags the variant of an Attachment. Only images occur here.
type AttachmentKind string

const AttachmentImage AttachmentKind = "image"

// Attachment is an opaque binary payload carried on a message.
type Attachment struct {
	Kind     AttachmentKind
	MimeType string
	Data     []byte
}

// Frame is a single decoded video frame from a participant's video track.
type Frame struct {
	MimeType string
	Data     []byte
	Width    int
	Height   int
}

// Attachment converts the frame into an image attachment.
func (f *Frame) Attachment() Attachment {
	return Attachment{
		Kind:     AttachmentImage,
		MimeType: f.MimeType,
		Data:     f.Data,
	}
}
