// Command agentctl drives a running route agent from the terminal and
// previews waypoint files with the client mirror FSM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"routeagent.ai/internal/protocol"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var url string
	root := &cobra.Command{
		Use:          "agentctl",
		Short:        "Talk to a route agent",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&url, "url", "ws://localhost:8080/v1/ws", "agent ws url")

	root.AddCommand(newSendCmd(&url), newWatchCmd(&url), newPreviewCmd())
	return root
}

func newSendCmd(url *string) *cobra.Command {
	var (
		routeID string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <COMMAND>",
		Short: "Send one command and print the events up to its reply",
		Long: `send connects, issues one command (HELLO, START_ROUTE, PAUSE, STOP,
STEP or any SET_*), prints every frame received until the matching ACK or
ERROR, and exits non-zero on ERROR.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ToUpper(strings.TrimSpace(args[0]))
			var payload any
			if name == protocol.CmdStartRoute && routeID != "" {
				payload = protocol.StartRoutePayload{RouteID: &routeID}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			reply, err := sendCommand(ctx, *url, name, payload, func(env protocol.Envelope) {
				printEnvelope(cmd.OutOrStdout(), env)
			})
			if err != nil {
				return err
			}
			if reply.Type == protocol.TypeError {
				return fmt.Errorf("%s rejected: %s", name, reply.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&routeID, "route", "", "route id for START_ROUTE")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "reply timeout")
	return cmd
}

func newWatchCmd(url *string) *cobra.Command {
	var perception bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print agent events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), *url, func(env protocol.Envelope) {
				if !perception && env.Name == protocol.EventPerceptionSnapshot {
					return
				}
				printEnvelope(cmd.OutOrStdout(), env)
			})
		},
	}
	cmd.Flags().BoolVar(&perception, "perception", false, "include PERCEPTION_SNAPSHOT frames")
	return cmd
}
