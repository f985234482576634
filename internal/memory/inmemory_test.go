package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montycloud/moya/internal/conversation"
)

func TestInMemory_LazyThreadCreation(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	exists, err := repo.ThreadExists(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, exists)

	msg := conversation.NewMessage("t1", "user", "hello", nil)
	require.NoError(t, repo.AppendMessage(ctx, msg))

	exists, err = repo.ThreadExists(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, exists, "append must create the thread lazily")
}

func TestInMemory_CreateThreadTwice(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateThread(ctx, "t1"))
	err := repo.CreateThread(ctx, "t1")
	assert.ErrorIs(t, err, ErrThreadExists)
}

func TestInMemory_OrderingPreserved(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		msg := conversation.NewMessage("t1", "user", fmt.Sprintf("m%d", i), nil)
		require.NoError(t, repo.AppendMessage(ctx, msg))
	}

	thread, err := repo.GetThread(ctx, "t1")
	require.NoError(t, err)

	msgs := thread.Messages()
	require.Len(t, msgs, 20)
	for i, msg := range msgs {
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.Content)
	}
}

func TestInMemory_GetLastNMessages(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		repo.AppendMessage(ctx, conversation.NewMessage("t1", "user", fmt.Sprintf("m%d", i), nil))
	}

	msgs, err := repo.GetLastNMessages(ctx, "t1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Content)
	assert.Equal(t, "m4", msgs[2].Content)

	// Missing thread yields no messages and no error.
	msgs, err = repo.GetLastNMessages(ctx, "missing", 3)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestInMemory_GetThreadSummary(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	repo.AppendMessage(ctx, conversation.NewMessage("t1", "user", "hi there", nil))
	repo.AppendMessage(ctx, conversation.NewMessage("t1", "helper", "hello", nil))

	summary, err := repo.GetThreadSummary(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Summary of thread t1:\nuser said: hi there\nhelper said: hello", summary)

	summary, err = repo.GetThreadSummary(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, summary)

	// An existing thread with no messages has no summary either.
	require.NoError(t, repo.CreateThread(ctx, "empty"))
	summary, err = repo.GetThreadSummary(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestInMemory_DeleteThread(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	repo.AppendMessage(ctx, conversation.NewMessage("t1", "user", "hello", nil))
	require.NoError(t, repo.DeleteThread(ctx, "t1"))

	_, err := repo.GetThread(ctx, "t1")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	err = repo.DeleteThread(ctx, "t1")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestInMemory_ListThreadIDs(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	repo.AppendMessage(ctx, conversation.NewMessage("beta", "user", "x", nil))
	repo.AppendMessage(ctx, conversation.NewMessage("alpha", "user", "y", nil))

	ids, err := repo.ListThreadIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)
}
