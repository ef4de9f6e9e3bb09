package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/parley/internal/convo"
	"github.com/user/parley/pkg/llm"
)

// Builder converts a conversation snapshot into a token-budgeted prompt.
type Builder struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates a prompt builder. model selects the tokenizer (e.g. "gpt-4o"),
// maxTokens is the model context window, reserve is held back for the
// model's response.
func New(model string, maxTokens, reserve int) (*Builder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Builder{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

func (b *Builder) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

func (b *Builder) messageTokens(msg llm.Message) int {
	n := b.countTokens(msg.Content)
	for _, tc := range msg.Tools {
		n += b.countTokens(tc.Function.Name)
		n += b.countTokens(string(tc.Function.Arguments))
	}
	return n
}

// Build assembles the prompt from a snapshot. The pinned persona message is
// always included; the remaining budget is filled with the most recent
// messages, walking backward from the tail so older history is dropped
// first.
func (b *Builder) Build(snapshot []convo.Message) []llm.Message {
	budget := b.maxTokens - b.reserve

	var pinned []llm.Message
	var rest []llm.Message
	for _, m := range snapshot {
		wire := toWire(m)
		if m.Pinned() {
			pinned = append(pinned, wire)
			budget -= b.messageTokens(wire)
		} else {
			rest = append(rest, wire)
		}
	}

	// Newest-first accumulation within the remaining budget.
	used := 0
	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := b.messageTokens(rest[i])
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	out := make([]llm.Message, 0, len(pinned)+len(rest)-start)
	out = append(out, pinned...)
	out = append(out, rest[start:]...)
	return out
}

func toWire(m convo.Message) llm.Message {
	wire := llm.Message{
		Role:       string(m.Role),
		Content:    m.Text,
		Tools:      m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
	for _, att := range m.Attachments {
		wire.Images = append(wire.Images, llm.Image{
			MimeType: att.MimeType,
			Data:     att.Data,
		})
	}
	return wire
}
