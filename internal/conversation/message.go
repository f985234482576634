package conversation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is a single message within a conversation thread. Once created it
// is never mutated; repositories only append messages to a thread's log.
type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Sender    string         `json:"sender"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds a message with a generated ID and a UTC timestamp.
func NewMessage(threadID, sender, content string, metadata map[string]any) Message {
	return Message{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// String returns a compact representation used in logs and summaries.
func (m Message) String() string {
	return fmt.Sprintf("Message(thread=%s sender=%s content=%q)", m.ThreadID, m.Sender, m.Content)
}
