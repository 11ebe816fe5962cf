package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/ferretbind/internal/config"
	"github.com/Aman-CERP/ferretbind/internal/daemon"
	"github.com/Aman-CERP/ferretbind/internal/httpapi"
	"github.com/Aman-CERP/ferretbind/internal/ingest"
)

const startPollInterval = 100 * time.Millisecond

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the index server in the foreground",
		Long: `Run the index server in this process until interrupted.

The server answers index requests on the configured socket or port.
When http_addr is set it also serves the JSON search API, and when
ingest brokers are set it applies change events from Kafka.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), flags)
		},
	}
}

func newStartCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the index server in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd, flags)
		},
	}
}

func newStopCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background index server",
		Long: `Stop the index server recorded in the pid file.

The server gets SIGTERM and the shutdown grace period to finish
in-flight requests before it is killed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			pf := daemon.NewPIDFile(cfg.PIDPath())
			if !pf.IsRunning() {
				p.Info("Server is not running")
				return pf.Remove()
			}
			pid, _ := pf.Read()
			if err := pf.Stop(daemonConfig(cfg).ShutdownGracePeriod); err != nil {
				return err
			}
			p.Success("Server stopped (was pid %d)", pid)
			return nil
		},
	}
}

// runServer serves every configured index until SIGINT or SIGTERM.
func runServer(ctx context.Context, flags *globalFlags) error {
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := flags.setupLogging(cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	pf := daemon.NewPIDFile(cfg.PIDPath())
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Remove() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, appOptions{serve: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	srv, err := daemon.NewServer(daemonConfig(cfg), a.registry,
		daemon.WithReconnect(a.db.Reconnect),
		daemon.WithServerMetrics(a.metrics),
		daemon.WithResultCache(openCache(ctx, cfg, a.metrics)),
	)
	if err != nil {
		return err
	}

	slog.Info("server_starting",
		slog.String("address", cfg.Address()),
		slog.Int("pid", os.Getpid()),
		slog.Int("indexes", len(cfg.Indexes)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if cfg.HTTPAddr != "" {
		api := httpapi.New(a.registry, a.metrics)
		g.Go(func() error { return api.ListenAndServe(gctx, cfg.HTTPAddr) })
	}
	if cfg.Ingest.Enabled() {
		consumer := ingest.NewConsumer(
			ingest.NewKafkaReader(ingestConfig(cfg)),
			ingest.NewApplier(a.registry, a.metrics).Handle(),
		)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	err = g.Wait()
	slog.Info("server_stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func ingestConfig(cfg *config.Config) ingest.Config {
	return ingest.Config{
		Brokers: cfg.Ingest.Brokers,
		Topic:   cfg.Ingest.Topic,
		GroupID: cfg.Ingest.GroupID,
	}
}

// runStart re-executes this binary's run command detached from the
// terminal and waits until the server answers.
func runStart(cmd *cobra.Command, flags *globalFlags) error {
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	p := newPrinter(cmd.OutOrStdout())
	client := daemon.NewClient(daemonConfig(cfg))
	if client.IsRunning(cmd.Context()) {
		p.Info("Server is already running at %s", cfg.Address())
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	args := []string{"run", "--root", flags.root}
	if flags.environment != "" {
		args = append(args, "--environment", flags.environment)
	}
	bg := exec.Command(execPath, args...)
	bg.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := bg.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// Reap the child so an early exit is reported instead of left a zombie.
	done := make(chan error, 1)
	go func() { done <- bg.Wait() }()

	deadline := time.Now().Add(daemonConfig(cfg).Timeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("server exited during startup (see %s): %w", cfg.LogPath(), err)
			}
			return fmt.Errorf("server exited during startup, see %s", cfg.LogPath())
		case <-time.After(startPollInterval):
		}
		if client.IsRunning(cmd.Context()) {
			p.Success("Server started at %s (pid %d)", cfg.Address(), bg.Process.Pid)
			return nil
		}
	}
	return fmt.Errorf("server did not answer within %s, see %s", daemonConfig(cfg).Timeout, cfg.LogPath())
}
