package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrThreadMismatch is returned when a message is appended to a thread whose
// ID does not match the message's ThreadID.
var ErrThreadMismatch = errors.New("message thread id does not match thread")

// Thread is an ordered conversation history keyed by an opaque identifier.
// Appends preserve insertion order; reads return copies so callers can never
// mutate the underlying log.
type Thread struct {
	id        string
	createdAt time.Time

	mu       sync.RWMutex
	messages []Message
}

// NewThread creates an empty thread.
func NewThread(id string) *Thread {
	return &Thread{
		id:        id,
		createdAt: time.Now().UTC(),
	}
}

// ID returns the thread identifier.
func (t *Thread) ID() string {
	return t.id
}

// CreatedAt returns when the thread was created.
func (t *Thread) CreatedAt() time.Time {
	return t.createdAt
}

// AddMessage appends a message to the thread.
func (t *Thread) AddMessage(msg Message) error {
	if msg.ThreadID != t.id {
		return fmt.Errorf("%w: got %q, want %q", ErrThreadMismatch, msg.ThreadID, t.id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
	return nil
}

// Messages returns a copy of all messages in append order.
func (t *Thread) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// LastN returns the last n messages in append order. If the thread holds
// fewer than n messages, all of them are returned.
func (t *Thread) LastN(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := len(t.messages) - n
	if start < 0 {
		start = 0
	}

	out := make([]Message, len(t.messages)-start)
	copy(out, t.messages[start:])
	return out
}

// MessagesBySender returns the messages sent by the given sender, in order.
func (t *Thread) MessagesBySender(sender string) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Message
	for _, msg := range t.messages {
		if msg.Sender == sender {
			out = append(out, msg)
		}
	}
	return out
}

// Len returns the number of messages in the thread.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
