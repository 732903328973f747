package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/georgesalapa/micro-cc/agentloop"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <directive>",
		Short: "Run a single directive and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events, err := app.engine.RunDirective(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return renderEvents(cmd.OutOrStdout(), events)
		},
	}
}

// renderEvents prints the directive's event stream and returns an error
// for terminal failures so the process exit code reflects them.
func renderEvents(w io.Writer, events <-chan agentloop.Event) error {
	for ev := range events {
		switch ev.Kind {
		case agentloop.EventThinking:
			fmt.Fprintf(w, "· thinking…\n")
		case agentloop.EventToolCall:
			fmt.Fprintf(w, "→ %s %s\n", ev.Data["name"], compactArgs(ev.Data["args"]))
		case agentloop.EventToolResult:
			if ev.Data["status"] == agentloop.StatusError {
				fmt.Fprintf(w, "  ✗ %s\n", firstLine(ev.Data["payload"]))
			}
		case agentloop.EventStatus:
			fmt.Fprintf(w, "· %s\n", ev.Data["message"])
		case agentloop.EventFinalText:
			fmt.Fprintf(w, "\n%s\n", ev.Data["text"])
		case agentloop.EventCancelled:
			fmt.Fprintln(w, "\ncancelled")
		case agentloop.EventMaxIterations:
			return fmt.Errorf("stopped after %v iterations without a final answer", ev.Data["iterations"])
		case agentloop.EventError:
			return fmt.Errorf("%v", ev.Data["error"])
		}
	}
	return nil
}

func compactArgs(v interface{}) string {
	raw, ok := v.(json.RawMessage)
	if !ok {
		return ""
	}
	s := string(raw)
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

func firstLine(v interface{}) string {
	s, _ := v.(string)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// promptApproval asks on the terminal before a dangerous tool runs.
func promptApproval(cmd *cobra.Command) agentloop.ApproveFunc {
	reader := bufio.NewReader(cmd.InOrStdin())
	return func(toolName string, args json.RawMessage) bool {
		fmt.Fprintf(cmd.OutOrStdout(), "allow %s %s? [y/N] ", toolName, compactArgs(json.RawMessage(args)))
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}
