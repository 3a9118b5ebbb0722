package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/RichardoC/Pad-i/internal/models"
)

var (
	conversationsOwner   string
	conversationsDelete  string
	conversationsHistory string
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List an owner's conversations",
	Long: `List the owner's conversations, most recently active first.

Examples:
  padi conversations
  padi conversations --owner alice
  padi conversations --history <id>
  padi conversations --delete <id>`,
	Args: cobra.NoArgs,
	RunE: runConversations,
}

func init() {
	conversationsCmd.Flags().StringVarP(&conversationsOwner, "owner", "o", defaultOwner(), "conversation owner")
	conversationsCmd.Flags().StringVar(&conversationsHistory, "history", "", "print the messages of one conversation")
	conversationsCmd.Flags().StringVar(&conversationsDelete, "delete", "", "delete one conversation and its messages")
	conversationsCmd.MarkFlagsMutuallyExclusive("history", "delete")
}

type conversationAdmin interface {
	ListConversations(ctx context.Context, owner string) ([]models.Conversation, error)
	ListMessages(ctx context.Context, id, owner string) ([]models.Message, error)
	DeleteConversation(ctx context.Context, id, owner string) error
}

func runConversations(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.Close()) }()

	out := cmd.OutOrStdout()
	switch {
	case conversationsDelete != "":
		return deleteConversation(ctx, out, a.chat, conversationsOwner, conversationsDelete)
	case conversationsHistory != "":
		return printHistory(ctx, out, a.chat, conversationsOwner, conversationsHistory)
	default:
		return listConversations(ctx, out, a.chat, conversationsOwner)
	}
}

func listConversations(ctx context.Context, w io.Writer, svc conversationAdmin, owner string) error {
	convs, err := svc.ListConversations(ctx, owner)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations found.")
		return nil
	}

	fmt.Fprintf(w, "Conversations (%d):\n\n", len(convs))
	for _, c := range convs {
		fmt.Fprintf(w, "- %s  %s  (updated %s)\n", c.ID, c.Title, c.UpdatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func printHistory(ctx context.Context, w io.Writer, svc conversationAdmin, owner, id string) error {
	msgs, err := svc.ListMessages(ctx, id, owner)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages yet.")
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), speaker(m.Role), m.Content)
	}
	return nil
}

func deleteConversation(ctx context.Context, w io.Writer, svc conversationAdmin, owner, id string) error {
	if err := svc.DeleteConversation(ctx, id, owner); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	fmt.Fprintf(w, "Deleted conversation %s\n", id)
	return nil
}
