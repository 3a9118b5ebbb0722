package db

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RichardoC/Pad-i/internal/models"
)

// store is the method set shared by every record store in this package.
type store interface {
	CreateConversation(ctx context.Context, owner, title string) (models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListConversations(ctx context.Context, owner string) ([]models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	TouchConversation(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, convID string, role models.Role, content string) (models.Message, error)
	ListMessages(ctx context.Context, convID string) ([]models.Message, error)
	DeleteMessages(ctx context.Context, convID string) error
	Close() error
}

var (
	_ store = (*Database)(nil)
	_ store = (*Gorm)(nil)
)

// manualClock returns a controllable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

type storeFactory func(t *testing.T, clock *manualClock) store

func newSQLiteStore(t *testing.T, clock *manualClock) store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), WithClock(clock.Now), WithIDGenerator(sequentialIDs()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("create and get conversation", func(t *testing.T) {
		clock := newManualClock()
		s := newStore(t, clock)

		conv, err := s.CreateConversation(ctx, "alice", "New Chat")
		require.NoError(t, err)
		require.NotEmpty(t, conv.ID)
		require.Equal(t, "alice", conv.Owner)
		require.Equal(t, "New Chat", conv.Title)
		require.True(t, conv.CreatedAt.Equal(clock.Now()))
		require.True(t, conv.UpdatedAt.Equal(conv.CreatedAt))

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		require.Equal(t, conv, got)
	})

	t.Run("get missing conversation", func(t *testing.T) {
		s := newStore(t, newManualClock())
		_, err := s.GetConversation(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list conversations most recently updated first", func(t *testing.T) {
		clock := newManualClock()
		s := newStore(t, clock)

		first, err := s.CreateConversation(ctx, "alice", "first")
		require.NoError(t, err)
		clock.Advance(time.Second)
		second, err := s.CreateConversation(ctx, "alice", "second")
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, err = s.CreateConversation(ctx, "bob", "other owner")
		require.NoError(t, err)

		list, err := s.ListConversations(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, second.ID, list[0].ID)
		require.Equal(t, first.ID, list[1].ID)

		clock.Advance(time.Second)
		require.NoError(t, s.TouchConversation(ctx, first.ID))

		list, err = s.ListConversations(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, first.ID, list[0].ID)
	})

	t.Run("list conversations for unknown owner is empty", func(t *testing.T) {
		s := newStore(t, newManualClock())
		list, err := s.ListConversations(ctx, "ghost")
		require.NoError(t, err)
		require.NotNil(t, list)
		require.Empty(t, list)
	})

	t.Run("update title advances updated_at", func(t *testing.T) {
		clock := newManualClock()
		s := newStore(t, clock)
		conv, err := s.CreateConversation(ctx, "alice", "New Chat")
		require.NoError(t, err)

		clock.Advance(time.Minute)
		require.NoError(t, s.UpdateConversationTitle(ctx, conv.ID, "Renamed"))

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		require.Equal(t, "Renamed", got.Title)
		require.True(t, got.UpdatedAt.After(conv.UpdatedAt))
		require.True(t, got.CreatedAt.Equal(conv.CreatedAt))
	})

	t.Run("updated_at never moves backwards", func(t *testing.T) {
		clock := newManualClock()
		s := newStore(t, clock)
		conv, err := s.CreateConversation(ctx, "alice", "New Chat")
		require.NoError(t, err)

		clock.Advance(-time.Hour)
		require.NoError(t, s.TouchConversation(ctx, conv.ID))

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		require.True(t, got.UpdatedAt.Equal(conv.UpdatedAt))
	})

	t.Run("update missing conversation", func(t *testing.T) {
		s := newStore(t, newManualClock())
		require.ErrorIs(t, s.UpdateConversationTitle(ctx, "nope", "x"), ErrNotFound)
		require.ErrorIs(t, s.TouchConversation(ctx, "nope"), ErrNotFound)
	})

	t.Run("append keeps insertion order on equal timestamps", func(t *testing.T) {
		clock := newManualClock()
		s := newStore(t, clock)
		conv, err := s.CreateConversation(ctx, "alice", "New Chat")
		require.NoError(t, err)

		contents := []string{"one", "two", "three", "four"}
		for i, c := range contents {
			role := models.RoleUser
			if i%2 == 1 {
				role = models.RoleAssistant
			}
			msg, err := s.AppendMessage(ctx, conv.ID, role, c)
			require.NoError(t, err)
			require.Equal(t, conv.ID, msg.ConvID)
			require.Equal(t, role, msg.Role)
		}

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, len(contents))
		for i, c := range contents {
			require.Equal(t, c, msgs[i].Content)
		}
		require.Equal(t, models.RoleUser, msgs[0].Role)
		require.Equal(t, models.RoleAssistant, msgs[1].Role)
	})

	t.Run("created_at is non-decreasing when the clock steps back", func(t *testing.T) {
		clock := newManualClock()
		s := newStore(t, clock)
		conv, err := s.CreateConversation(ctx, "alice", "New Chat")
		require.NoError(t, err)

		_, err = s.AppendMessage(ctx, conv.ID, models.RoleUser, "first")
		require.NoError(t, err)
		clock.Advance(-time.Hour)
		_, err = s.AppendMessage(ctx, conv.ID, models.RoleAssistant, "second")
		require.NoError(t, err)
		clock.Advance(2 * time.Hour)
		_, err = s.AppendMessage(ctx, conv.ID, models.RoleUser, "third")
		require.NoError(t, err)

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		for i := 1; i < len(msgs); i++ {
			require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
		}
		require.Equal(t, []string{"first", "second", "third"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	})

	t.Run("append to missing conversation", func(t *testing.T) {
		s := newStore(t, newManualClock())
		_, err := s.AppendMessage(ctx, "nope", models.RoleUser, "hi")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("append rejects unknown role", func(t *testing.T) {
		s := newStore(t, newManualClock())
		conv, err := s.CreateConversation(ctx, "alice", "New Chat")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, conv.ID, models.Role("system"), "hi")
		require.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("list messages of empty conversation", func(t *testing.T) {
		s := newStore(t, newManualClock())
		conv, err := s.CreateConversation(ctx, "alice", "New Chat")
		require.NoError(t, err)

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.NotNil(t, msgs)
		require.Empty(t, msgs)
	})

	t.Run("messages are scoped to their conversation", func(t *testing.T) {
		s := newStore(t, newManualClock())
		a, err := s.CreateConversation(ctx, "alice", "a")
		require.NoError(t, err)
		b, err := s.CreateConversation(ctx, "alice", "b")
		require.NoError(t, err)

		_, err = s.AppendMessage(ctx, a.ID, models.RoleUser, "in a")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, b.ID, models.RoleUser, "in b")
		require.NoError(t, err)

		msgs, err := s.ListMessages(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, "in a", msgs[0].Content)
	})

	t.Run("delete conversation cascades to messages", func(t *testing.T) {
		s := newStore(t, newManualClock())
		conv, err := s.CreateConversation(ctx, "alice", "New Chat")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, conv.ID, models.RoleUser, "hi")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, conv.ID, models.RoleAssistant, "hello")
		require.NoError(t, err)

		require.NoError(t, s.DeleteConversation(ctx, conv.ID))

		_, err = s.GetConversation(ctx, conv.ID)
		require.ErrorIs(t, err, ErrNotFound)
		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Empty(t, msgs)

		require.ErrorIs(t, s.DeleteConversation(ctx, conv.ID), ErrNotFound)
	})

	t.Run("delete messages is idempotent", func(t *testing.T) {
		s := newStore(t, newManualClock())
		conv, err := s.CreateConversation(ctx, "alice", "New Chat")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, conv.ID, models.RoleUser, "hi")
		require.NoError(t, err)

		require.NoError(t, s.DeleteMessages(ctx, conv.ID))
		require.NoError(t, s.DeleteMessages(ctx, conv.ID))
		require.NoError(t, s.DeleteMessages(ctx, "never-existed"))

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Empty(t, msgs)
	})
}
