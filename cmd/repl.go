package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newReplCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session: one directive per line, /clear resets, /exit quits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s in %s\n", app.store.SessionID(), app.store.ProjectDir())
			fmt.Fprintln(out, "type a directive, /clear to start a fresh session, /exit to quit")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/exit" || line == "/quit":
					return nil
				case line == "/clear":
					id, err := app.engine.Reset()
					if err != nil {
						fmt.Fprintf(out, "reset failed: %v\n", err)
						continue
					}
					fmt.Fprintf(out, "new session %s\n", id)
					continue
				}

				// SIGINT cancels the running directive, not the REPL.
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				events, err := app.engine.RunDirective(ctx, line)
				if err != nil {
					stop()
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				if err := renderEvents(out, events); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
				stop()
			}
		},
	}
}
