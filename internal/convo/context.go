package convo

import (
	"sync"
	"time"

	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// Message is one entry in the conversation history. Immutable once appended.
type Message struct {
	Role        types.Role
	Text        string
	Attachments []types.Attachment
	// ToolCalls carries any tool invocations requested in an assistant
	// message; ToolCallID correlates a tool-role result to its request.
	ToolCalls  []llm.ToolCall
	ToolCallID string
	At         time.Time

	pinned bool
}

// Pinned reports whether the message is exempt from capacity eviction.
func (m Message) Pinned() bool { return m.pinned }

// cameraMessageText marks the synthetic user message that carries the
// current video snapshot.
const cameraMessageText = "camera image"

// Context is the bounded, role-tagged conversation history shared by all
// producers. The orchestrator's turn executor is the single logical writer;
// Snapshot copies under the lock so concurrent readers never observe torn
// state.
type Context struct {
	mu       sync.Mutex
	messages []Message
	capacity int
}

// New creates a conversation context holding at most capacity messages.
func New(capacity int) *Context {
	if capacity < 2 {
		capacity = 2
	}
	return &Context{capacity: capacity}
}

// AppendPersona inserts the pinned persona message. It must be the first
// append; the persona message is never evicted.
func (c *Context) AppendPersona(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := Message{Role: types.RoleSystem, Text: text, At: time.Now(), pinned: true}
	c.messages = append([]Message{msg}, c.messages...)
	c.enforceCapacity()
}

// Append inserts a message at the tail and enforces the capacity bound.
func (c *Context) Append(role types.Role, text string, attachments ...types.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{
		Role:        role,
		Text:        text,
		Attachments: attachments,
		At:          time.Now(),
	})
	c.enforceCapacity()
}

// AppendToolCall records an assistant message requesting tool invocations.
func (c *Context) AppendToolCall(calls []llm.ToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{
		Role:      types.RoleAssistant,
		ToolCalls: calls,
		At:        time.Now(),
	})
	c.enforceCapacity()
}

// AppendToolResult records a tool-role message carrying an invocation result.
func (c *Context) AppendToolResult(callID, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{
		Role:       types.RoleTool,
		Text:       result,
		ToolCallID: callID,
		At:         time.Now(),
	})
	c.enforceCapacity()
}

// enforceCapacity evicts the oldest non-pinned messages until the history
// fits. An assistant message carrying tool calls is evicted together with
// its tool-result messages; a tool message must never lead the history.
// Callers must hold the mutex.
func (c *Context) enforceCapacity() {
	for len(c.messages) > c.capacity {
		idx := -1
		for i, msg := range c.messages {
			if !msg.pinned {
				idx = i
				break
			}
		}
		if idx == -1 {
			return
		}
		end := idx + 1
		if len(c.messages[idx].ToolCalls) > 0 {
			for end < len(c.messages) && c.messages[end].Role == types.RoleTool {
				end++
			}
		}
		c.messages = append(c.messages[:idx], c.messages[end:]...)
	}
}

func isCameraMessage(m Message) bool {
	return m.Role == types.RoleUser && m.Text == cameraMessageText && len(m.Attachments) > 0
}

// cameraInsertPos returns the index where a camera message can be inserted
// without separating an assistant tool-call message from its tool results.
// Walking back from the tail, tool results and the tool-call messages that
// requested them are skipped; the camera slot is just before the newest
// ordinary message. Callers must hold the mutex.
func (c *Context) cameraInsertPos() int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == types.RoleTool || len(m.ToolCalls) > 0 {
			continue
		}
		if m.pinned {
			return i + 1
		}
		return i
	}
	return 0
}

// ReplaceLatestImage folds the freshest video frame into the history. If a
// prior fold of the same turn already left a camera message at the
// insertion slot, its attachment is replaced in place; otherwise stale
// camera messages are dropped and a synthetic user message is inserted
// just before the newest ordinary message, never between a tool-call
// message and its results. Repeated calls keep exactly one image-bearing
// message in the history.
func (c *Context) ReplaceLatestImage(att types.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.cameraInsertPos()
	if pos > 0 && isCameraMessage(c.messages[pos-1]) {
		replaced := c.messages[pos-1]
		replaced.Attachments = []types.Attachment{att}
		replaced.At = time.Now()
		c.messages[pos-1] = replaced
		return
	}

	// A stale camera message from an earlier turn carries an outdated
	// frame; drop it before inserting the fresh one.
	for i := 0; i < len(c.messages); i++ {
		if isCameraMessage(c.messages[i]) {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			i--
		}
	}

	camera := Message{
		Role:        types.RoleUser,
		Text:        cameraMessageText,
		Attachments: []types.Attachment{att},
		At:          time.Now(),
	}
	pos = c.cameraInsertPos()
	c.messages = append(c.messages[:pos], append([]Message{camera}, c.messages[pos:]...)...)
	c.enforceCapacity()
}

// Snapshot returns a copy of the history for the response pipeline. The
// copy is taken under the lock and released immediately.
func (c *Context) Snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the current number of messages.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
