package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/montycloud/moya/internal/conversation"
)

// InMemoryRepository keeps threads in process memory. It is the default
// ephemeral store used by the CLI examples and by tests.
type InMemoryRepository struct {
	mu      sync.RWMutex
	threads map[string]*conversation.Thread
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		threads: make(map[string]*conversation.Thread),
	}
}

// CreateThread creates an empty thread.
func (r *InMemoryRepository) CreateThread(ctx context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.threads[threadID]; exists {
		return fmt.Errorf("%w: %s", ErrThreadExists, threadID)
	}
	r.threads[threadID] = conversation.NewThread(threadID)
	return nil
}

// GetThread returns the thread, or ErrThreadNotFound.
func (r *InMemoryRepository) GetThread(ctx context.Context, threadID string) (*conversation.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	thread, exists := r.threads[threadID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return thread, nil
}

// ThreadExists reports whether the thread exists.
func (r *InMemoryRepository) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.threads[threadID]
	return exists, nil
}

// AppendMessage appends a message, creating the thread on first write.
func (r *InMemoryRepository) AppendMessage(ctx context.Context, msg conversation.Message) error {
	r.mu.Lock()
	thread, exists := r.threads[msg.ThreadID]
	if !exists {
		thread = conversation.NewThread(msg.ThreadID)
		r.threads[msg.ThreadID] = thread
	}
	r.mu.Unlock()

	return thread.AddMessage(msg)
}

// GetLastNMessages returns the last n messages in append order.
func (r *InMemoryRepository) GetLastNMessages(ctx context.Context, threadID string, n int) ([]conversation.Message, error) {
	r.mu.RLock()
	thread, exists := r.threads[threadID]
	r.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	return thread.LastN(n), nil
}

// GetThreadSummary returns the naive thread summary.
func (r *InMemoryRepository) GetThreadSummary(ctx context.Context, threadID string) (string, error) {
	r.mu.RLock()
	thread, exists := r.threads[threadID]
	r.mu.RUnlock()

	if !exists {
		return "", nil
	}
	msgs := thread.Messages()
	if len(msgs) == 0 {
		return "", nil
	}
	return Summarize(threadID, msgs), nil
}

// DeleteThread removes a thread and its messages.
func (r *InMemoryRepository) DeleteThread(ctx context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.threads[threadID]; !exists {
		return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	delete(r.threads, threadID)
	return nil
}

// ListThreadIDs returns all thread IDs, sorted for deterministic output.
func (r *InMemoryRepository) ListThreadIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.threads))
	for id := range r.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
