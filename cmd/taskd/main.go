package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"taskmanager/internal/app"
	"taskmanager/internal/config"
	logx "taskmanager/pkg/logx"
)

var version = "dev"

type rootFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "taskd",
		Short:         "Task reminder daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(f.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context(), f) },
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "./taskd.yaml", "path to the config file (json or yaml)")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "optional KEY=VALUE file with TASKD_* overrides")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the daemon (default)",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context(), f) },
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate the config file and exit",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return check(cmd, f) },
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run:   func(cmd *cobra.Command, _ []string) { cmd.Println(version) },
		},
	)
	return root
}

func check(cmd *cobra.Command, f *rootFlags) error {
	m := config.NewManager(f.configPath)
	cfg, err := m.Parse()
	if err != nil {
		return err
	}
	if err := app.Validate(cfg); err != nil {
		return err
	}
	changed, _ := config.SummarizeChange(nil, cfg)
	cmd.Printf("%s: ok (%d sections set)\n", f.configPath, len(changed))
	return nil
}

func serve(parent context.Context, f *rootFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, f.configPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatal)
		return err
	}
	notifySystemd(a, daemon.SdNotifyReady)

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatal
	}
	notifySystemd(a, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	if errors.Is(stopErr, context.DeadlineExceeded) {
		return stopErr
	}
	return nil
}

func notifySystemd(a *app.App, state string) {
	// (false, nil) means not running under systemd.
	if _, err := daemon.SdNotify(false, state); err != nil {
		a.Logger().Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	}
}
