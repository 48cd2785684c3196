package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"seqwatch/internal/config"
	"seqwatch/internal/daemon"
	"seqwatch/internal/logging"
	"seqwatch/internal/testsupport"
)

const waitTimeout = 10 * time.Second

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// startDaemon runs a daemon for cfg and returns it with a config file whose
// api_bind points at the listener.
func startDaemon(t *testing.T, cfg *config.Config, opts ...daemon.Option) (*daemon.Daemon, string) {
	t.Helper()
	return startDaemonWithLogger(t, cfg, logging.NewNop(), opts...)
}

func startDaemonWithLogger(t *testing.T, cfg *config.Config, logger *slog.Logger, opts ...daemon.Option) (*daemon.Daemon, string) {
	t.Helper()
	d, err := daemon.New(cfg, logger, opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fileCfg := *cfg
	fileCfg.Paths.APIBind = d.APIAddress()
	return d, testsupport.WriteConfigFile(t, &fileCfg)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !bytes.Contains([]byte(haystack), []byte(needle)) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}
