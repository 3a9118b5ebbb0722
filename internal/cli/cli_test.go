package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RichardoC/Pad-i/internal/chat"
	"github.com/RichardoC/Pad-i/internal/config"
	"github.com/RichardoC/Pad-i/internal/db"
	"github.com/RichardoC/Pad-i/internal/llm"
	"github.com/RichardoC/Pad-i/internal/metrics"
	"github.com/RichardoC/Pad-i/internal/models"
)

type upperBackend struct{}

func (upperBackend) Name() string    { return "upper" }
func (upperBackend) Available() bool { return true }

func (upperBackend) Attempt(_ context.Context, window []models.ChatMessage, msg string, _ llm.GenerationParams) (string, error) {
	return strings.ToUpper(msg), nil
}

func newChatService(t *testing.T) *chat.Service {
	t.Helper()
	store, err := openStore(context.Background(), config.Store{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "cli.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	responder := llm.New([]llm.Link{{Backend: upperBackend{}}}, llm.DefaultGenerationParams())
	svc, err := chat.NewService(store, responder, chat.Config{MaxContextMessages: 20}, nil)
	require.NoError(t, err)
	return svc
}

func TestChatSession(t *testing.T) {
	svc := newChatService(t)
	var out bytes.Buffer
	s := &chatSession{svc: svc, owner: "alice", out: &out}

	in := strings.NewReader("/history\nhello\n\n   \nhow are you\n/history\n/quit\nignored\n")
	require.NoError(t, s.run(context.Background(), in))

	got := out.String()
	require.Contains(t, got, "No messages yet.")
	require.Contains(t, got, "assistant: HELLO\n")
	require.Contains(t, got, "you: hello\nassistant: HELLO\nyou: how are you\nassistant: HOW ARE YOU\n")
	require.NotContains(t, got, "IGNORED")

	convs, err := svc.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, s.conversationID, convs[0].ID)
	require.Equal(t, "hello", convs[0].Title)
}

func TestChatSessionNewConversation(t *testing.T) {
	svc := newChatService(t)
	var out bytes.Buffer
	s := &chatSession{svc: svc, owner: "alice", out: &out}

	require.NoError(t, s.run(context.Background(), strings.NewReader("first\n/new\nsecond\n")))

	convs, err := svc.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, s.conversationID, convs[0].ID, "latest conversation is active")

	msgs, err := svc.ListMessages(context.Background(), s.conversationID, "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "second", msgs[0].Content)
}

func TestChatSessionReportsValidationErrors(t *testing.T) {
	svc := newChatService(t)
	var out bytes.Buffer
	s := &chatSession{svc: svc, owner: "alice", conversationID: "missing", out: &out}

	require.NoError(t, s.run(context.Background(), strings.NewReader("hi\n/quit\n")))
	require.Contains(t, out.String(), "error: conversation not found")
}

func TestListConversations(t *testing.T) {
	svc := newChatService(t)
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, listConversations(ctx, &out, svc, "bob"))
	require.Equal(t, "No conversations found.\n", out.String())

	sent, err := svc.SendMessage(ctx, chat.SendInput{Owner: "bob", Text: "plans for today", CreateIfAbsent: true})
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, listConversations(ctx, &out, svc, "bob"))
	require.Contains(t, out.String(), "Conversations (1):")
	require.Contains(t, out.String(), sent.Conversation.ID+"  plans for today")

	out.Reset()
	require.NoError(t, printHistory(ctx, &out, svc, "bob", sent.Conversation.ID))
	require.Contains(t, out.String(), "you: plans for today")
	require.Contains(t, out.String(), "assistant: PLANS FOR TODAY")

	out.Reset()
	require.NoError(t, deleteConversation(ctx, &out, svc, "bob", sent.Conversation.ID))
	err = deleteConversation(ctx, &out, svc, "bob", sent.Conversation.ID)
	require.True(t, chat.IsCode(err, chat.ErrorNotFound))
}

func TestPrintReply(t *testing.T) {
	var out bytes.Buffer
	err := printReply(&out, llm.Reply{
		Text:    "bonjour",
		Backend: "ollama",
		Failures: []llm.Failure{
			{Backend: "mistral", Class: llm.FailureTimeout, Duration: 1500 * time.Millisecond, Err: context.DeadlineExceeded},
		},
	})
	require.NoError(t, err)
	require.Contains(t, out.String(), "x mistral failed after 1.5s [timeout]")
	require.Contains(t, out.String(), "ollama answered:\nbonjour\n")

	out.Reset()
	err = printReply(&out, llm.Reply{Text: llm.ApologyMessage, Fallback: true})
	require.ErrorIs(t, err, errChainExhausted)
	require.Contains(t, out.String(), llm.ApologyMessage)
}

func TestTurnBudgetCoversAvailableChain(t *testing.T) {
	got := turnBudget([]llm.BackendStatus{
		{Name: "a", Available: true, Timeout: time.Minute},
		{Name: "b", Available: false, Timeout: time.Hour},
		{Name: "c", Available: true, Timeout: 2 * time.Minute},
	})
	require.Equal(t, 3*time.Minute+30*time.Second, got)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, ln, time.Second, zap.NewNop()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTeapot, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReportsListenerFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	err = serve(context.Background(), &http.Server{}, ln, time.Second, zap.NewNop())
	require.Error(t, err)
	require.False(t, errors.Is(err, http.ErrServerClosed))
}

// gatedBackend answers only once release is closed.
type gatedBackend struct {
	entered chan struct{}
	release chan struct{}
}

func (gatedBackend) Name() string    { return "gated" }
func (gatedBackend) Available() bool { return true }

func (b gatedBackend) Attempt(ctx context.Context, _ []models.ChatMessage, msg string, _ llm.GenerationParams) (string, error) {
	close(b.entered)
	select {
	case <-b.release:
		return "answer to " + msg, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestAppCloseCommitsTurnInFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shutdown.db")
	store, err := openStore(context.Background(), config.Store{Driver: config.DriverSQLite, SQLitePath: path}, zap.NewNop())
	require.NoError(t, err)

	backend := gatedBackend{entered: make(chan struct{}), release: make(chan struct{})}
	stats := metrics.NewCollector()
	responder := llm.New([]llm.Link{{Backend: backend, Timeout: time.Minute}}, llm.DefaultGenerationParams(), llm.WithRecorder(stats))
	svc, err := chat.NewService(store, responder, chat.Config{MaxContextMessages: 20}, nil)
	require.NoError(t, err)
	a := &app{store: store, responder: responder, stats: stats, chat: svc}

	conv, err := svc.CreateConversation(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sent := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(ctx, chat.SendInput{ConversationID: conv.ID, Owner: "alice", Text: "still there?"})
		sent <- err
	}()
	<-backend.entered
	cancel()

	closed := make(chan error, 1)
	go func() { closed <- a.Close() }()
	select {
	case err := <-closed:
		t.Fatalf("store closed while a turn was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.release)
	require.NoError(t, <-closed)
	require.NoError(t, <-sent)

	reopened, err := db.New(path)
	require.NoError(t, err)
	defer reopened.Close()
	msgs, err := reopened.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, models.RoleUser, msgs[0].Role)
	require.Equal(t, models.RoleAssistant, msgs[1].Role)
	require.Equal(t, "answer to still there?", msgs[1].Content)
}
