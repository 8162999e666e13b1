// Command agent runs the mock route agent: the execution loop, its WebSocket
// endpoint, and the local timeline stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	rlog "routeagent.ai/internal/log"
	"routeagent.ai/internal/persistence/indexdb"
	persistlog "routeagent.ai/internal/persistence/log"
	"routeagent.ai/internal/sim/agent"
	"routeagent.ai/internal/sim/tuning"
	"routeagent.ai/internal/transport/ws"
)

type options struct {
	addr       string
	configDir  string
	tuningPath string
	dataDir    string
	disableDB  bool
	disableLog bool
	logLevel   string
	admin      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the mock route agent",
		Long: `agent serves the route execution protocol on /v1/ws.

Observers connect over WebSocket, drive the route FSM with START_ROUTE,
PAUSE, STOP and STEP, and receive state, timeline and perception events.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", ":8080", "http listen address")
	f.StringVar(&o.configDir, "configs", "./configs", "config directory")
	f.StringVar(&o.tuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	f.StringVar(&o.dataDir, "data", "./data", "runtime data directory")
	f.BoolVar(&o.disableDB, "disable-db", false, "disable the sqlite timeline index")
	f.BoolVar(&o.disableLog, "disable-log", false, "disable the compressed timeline log")
	f.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.BoolVar(&o.admin, "admin", true, "serve loopback-only /admin/v1 endpoints")
	return cmd
}

func run(ctx context.Context, o options) error {
	rlog.Configure(rlog.Config{Level: o.logLevel, Service: "routeagent"})
	logger := rlog.WithComponent("main")

	tune, err := loadTuning(o)
	if err != nil {
		return err
	}

	var (
		sinks multiSink
		index *indexdb.SQLiteIndex
	)
	if !o.disableLog {
		tl := persistlog.NewTimelineLogger(o.dataDir)
		defer tl.Close()
		sinks = append(sinks, tl)
	}
	if !o.disableDB {
		index, err = indexdb.OpenSQLite(filepath.Join(o.dataDir, "index", "timeline.sqlite"))
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer index.Close()
		if err := index.UpsertTuning(ctx, tune); err != nil {
			logger.Warn().Err(err).Msg("store tuning digest")
		}
		sinks = append(sinks, index)
	}

	opts := []agent.Option{}
	if len(sinks) > 0 {
		opts = append(opts, agent.WithTimelineSink(sinks))
	}
	a := agent.New(tune, opts...)

	deps := routerDeps{
		Agent: a,
		WS:    ws.NewServer(a, ws.Options{}).Handler(),
		Admin: o.admin,
	}
	if index != nil {
		deps.Timeline = index
	}
	srv := &http.Server{
		Addr:              o.addr,
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", o.addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Msg("shutdown complete")
	return err
}

func loadTuning(o options) (tuning.Tuning, error) {
	path := strings.TrimSpace(o.tuningPath)
	explicit := path != ""
	if !explicit {
		path = filepath.Join(o.configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(path)
	switch {
	case err == nil:
		return tune, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		logger := rlog.WithComponent("main")
		logger.Warn().Str("path", path).Msg("tuning file not found, using defaults")
		return tuning.Defaults(), nil
	default:
		return tuning.Tuning{}, fmt.Errorf("load tuning: %w", err)
	}
}
