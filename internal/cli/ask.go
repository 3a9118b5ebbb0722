package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/RichardoC/Pad-i/internal/llm"
	"github.com/RichardoC/Pad-i/internal/metrics"
)

var errChainExhausted = errors.New("no backend produced a reply")

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send one prompt through the backend chain",
	Long: `Send a single prompt through the configured backend chain without touching
the conversation store, then print which backend answered and every failed
attempt before it.

Examples:
  padi ask
  padi ask "Say hello in French"
  PADI_BACKENDS=ollama padi ask`,
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		prompt = "Reply with a short greeting."
	}

	responder, err := newResponder(cfg.LLM, logger, metrics.NewCollector())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printBackends(out, responder.Backends())
	reply := responder.Respond(cmd.Context(), nil, prompt)
	return printReply(out, reply)
}

func printBackends(w io.Writer, backends []llm.BackendStatus) {
	fmt.Fprintf(w, "Backends (%d):\n", len(backends))
	for _, b := range backends {
		state := "available"
		if !b.Available {
			state = "not configured"
		}
		fmt.Fprintf(w, "- %s (%s, timeout %s)\n", b.Name, state, b.Timeout)
	}
	fmt.Fprintln(w)
}

func printReply(w io.Writer, reply llm.Reply) error {
	for _, f := range reply.Failures {
		fmt.Fprintf(w, "x %s failed after %s [%s]: %v\n", f.Backend, f.Duration.Round(time.Millisecond), f.Class, f.Err)
	}
	if reply.Fallback {
		fmt.Fprintf(w, "\nfallback reply: %s\n", reply.Text)
		return errChainExhausted
	}
	fmt.Fprintf(w, "\n%s answered:\n%s\n", reply.Backend, reply.Text)
	return nil
}
