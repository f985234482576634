package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/montycloud/moya/internal/conversation"
)

var (
	// ErrThreadNotFound indicates an operation on a thread that was never
	// written to.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrThreadExists indicates an explicit create for a thread that already
	// exists.
	ErrThreadExists = errors.New("thread already exists")
)

// Repository stores per-thread conversation history. Threads are created
// lazily on first append; CreateThread exists for callers that want to claim
// a thread ID up front.
type Repository interface {
	// CreateThread creates an empty thread. Fails with ErrThreadExists if the
	// thread is already present.
	CreateThread(ctx context.Context, threadID string) error

	// GetThread returns the full thread, or ErrThreadNotFound.
	GetThread(ctx context.Context, threadID string) (*conversation.Thread, error)

	// ThreadExists reports whether the thread has been written to.
	ThreadExists(ctx context.Context, threadID string) (bool, error)

	// AppendMessage appends a message to its thread, creating the thread on
	// first write.
	AppendMessage(ctx context.Context, msg conversation.Message) error

	// GetLastNMessages returns the last n messages of a thread in append
	// order. A missing thread yields an empty slice, not an error.
	GetLastNMessages(ctx context.Context, threadID string, n int) ([]conversation.Message, error)

	// GetThreadSummary returns a naive textual summary of the thread.
	GetThreadSummary(ctx context.Context, threadID string) (string, error)

	// DeleteThread removes a thread and all its messages.
	DeleteThread(ctx context.Context, threadID string) error

	// ListThreadIDs returns the IDs of all known threads.
	ListThreadIDs(ctx context.Context) ([]string, error)
}

// Summarize builds the naive "who said what" summary shared by all
// repository implementations.
func Summarize(threadID string, messages []conversation.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary of thread %s:\n", threadID)
	for i, msg := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s said: %s", msg.Sender, msg.Content)
	}
	return b.String()
}
