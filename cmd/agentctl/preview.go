package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"routeagent.ai/internal/geom"
	"routeagent.ai/internal/mirror"
	"routeagent.ai/internal/sim/tuning"
)

type waypointFile struct {
	Waypoints []geom.Waypoint `yaml:"waypoints"`
}

func loadWaypoints(path string) ([]geom.Waypoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f waypointFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(f.Waypoints) == 0 {
		return nil, fmt.Errorf("%s: no waypoints", path)
	}
	return f.Waypoints, nil
}

func newPreviewCmd() *cobra.Command {
	var (
		interval   time.Duration
		timeout    time.Duration
		tuningPath string
	)
	cmd := &cobra.Command{
		Use:   "preview <waypoints.yaml>",
		Short: "Run the mirror FSM over a waypoint file",
		Long: `preview loads a waypoint list, starts the mirror FSM and reports every
transition until the route finishes or the timeout expires. A waypoint counts
as reached when its relative position is within the centre threshold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wps, err := loadWaypoints(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				if interval, err = mirrorInterval(tuningPath); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			finished := preview(ctx, cmd.OutOrStdout(), wps, interval)
			if !finished {
				fmt.Fprintln(cmd.OutOrStdout(), "stopped before the route finished")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "mirror check interval (default: mirror.check_interval_ms from tuning)")
	cmd.Flags().StringVar(&tuningPath, "tuning", "./configs/tuning.yaml", "tuning file for the default check interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "give up after this long")
	return cmd
}

// mirrorInterval reads the check interval from the tuning file, falling back
// to the built-in defaults when the file does not exist.
func mirrorInterval(path string) (time.Duration, error) {
	tune, err := tuning.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		tune, err = tuning.Defaults(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("load tuning: %w", err)
	}
	return tune.MirrorInterval(), nil
}

// preview reports whether the mirror ran off the end of the list before ctx
// ended.
func preview(ctx context.Context, w io.Writer, wps []geom.Waypoint, interval time.Duration) bool {
	store := mirror.NewStore()
	store.Load(wps)
	store.Start()
	printView(w, store.View())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	finished := false
	store.Run(ctx, interval, func(tr mirror.Transition) {
		if tr.Finished {
			fmt.Fprintf(w, "%s reached, route finished\n", tr.From)
			finished = true
			cancel()
			return
		}
		fmt.Fprintf(w, "%s reached, next %s\n", tr.From, tr.To)
	})
	return finished
}

func printView(w io.Writer, views []mirror.WaypointView) {
	for i, v := range views {
		mark := " "
		if v.Active {
			mark = ">"
		}
		fmt.Fprintf(w, "%s %2d %-12s %-10s (%.4f, %.4f) d=%.4f reached=%t\n",
			mark, i+1, v.ID, v.Type, v.RX, v.RY, v.Distance, v.Reached)
	}
}
