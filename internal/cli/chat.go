package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/RichardoC/Pad-i/internal/chat"
	"github.com/RichardoC/Pad-i/internal/models"
)

var (
	chatOwner        string
	chatConversation string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal",
	Long: `Start an interactive chat against the configured back ends.

Messages are stored like any other conversation and can be resumed with
--conversation.

Commands:
  /new      start a new conversation
  /history  print the current conversation
  /quit     leave (also /exit or end of input)`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatOwner, "owner", "o", defaultOwner(), "conversation owner")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "resume an existing conversation by id")
}

func runChat(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.Close()) }()

	s := &chatSession{
		svc:            a.chat,
		owner:          chatOwner,
		conversationID: chatConversation,
		out:            cmd.OutOrStdout(),
	}
	return s.run(cmd.Context(), cmd.InOrStdin())
}

// terminalChat is the part of chat.Service the terminal session drives.
type terminalChat interface {
	CreateConversation(ctx context.Context, owner string) (models.Conversation, error)
	ListMessages(ctx context.Context, id, owner string) ([]models.Message, error)
	SendMessage(ctx context.Context, in chat.SendInput) (chat.SendOutput, error)
}

type chatSession struct {
	svc            terminalChat
	owner          string
	conversationID string
	out            io.Writer
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "Type a message, /new, /history or /quit.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		var err error
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			err = s.newConversation(ctx)
		case "/history":
			err = s.history(ctx)
		default:
			err = s.send(ctx, line)
		}
		if err != nil {
			if chat.IsCode(err, chat.ErrorStorage) {
				return err
			}
			fmt.Fprintf(s.out, "error: %s\n", reasonOf(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *chatSession) newConversation(ctx context.Context) error {
	conv, err := s.svc.CreateConversation(ctx, s.owner)
	if err != nil {
		return err
	}
	s.conversationID = conv.ID
	fmt.Fprintf(s.out, "Started conversation %s\n", conv.ID)
	return nil
}

func (s *chatSession) history(ctx context.Context) error {
	if s.conversationID == "" {
		fmt.Fprintln(s.out, "No messages yet.")
		return nil
	}
	msgs, err := s.svc.ListMessages(ctx, s.conversationID, s.owner)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintln(s.out, "No messages yet.")
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintf(s.out, "%s: %s\n", speaker(m.Role), m.Content)
	}
	return nil
}

func (s *chatSession) send(ctx context.Context, text string) error {
	out, err := s.svc.SendMessage(ctx, chat.SendInput{
		ConversationID: s.conversationID,
		Owner:          s.owner,
		Text:           text,
		CreateIfAbsent: true,
	})
	if err != nil {
		return err
	}
	s.conversationID = out.Conversation.ID
	fmt.Fprintf(s.out, "%s: %s\n", speaker(models.RoleAssistant), out.AssistantMessage.Content)
	return nil
}

func speaker(r models.Role) string {
	if r == models.RoleUser {
		return "you"
	}
	return "assistant"
}

func reasonOf(err error) string {
	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		return strings.ReplaceAll(chatErr.Reason, "_", " ")
	}
	return err.Error()
}
