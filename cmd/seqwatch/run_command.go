package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"seqwatch/internal/daemon"
	"seqwatch/internal/logging"
)

const logHubCapacity = 4096

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	logHub := logging.NewStreamHub(logHubCapacity)
	logger, err := logging.NewFromConfig(cfg, logHub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	d, err := daemon.New(cfg, logger, daemon.WithLogHub(logHub))
	if err != nil {
		logger.Error("create daemon", logging.Error(err), logging.ErrorKind(err))
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("start daemon", logging.Error(err), logging.ErrorKind(err))
		return fmt.Errorf("start daemon: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- d.Wait() }()

	select {
	case <-signalCtx.Done():
		logger.Info("seqwatch daemon shutting down")
		return nil
	case err := <-waitErr:
		if err != nil {
			logger.Error("daemon stopped unexpectedly", logging.Error(err), logging.ErrorKind(err))
			return err
		}
		return nil
	}
}
