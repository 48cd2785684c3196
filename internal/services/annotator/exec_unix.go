//go:build unix

package annotator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type commandExecutor struct{}

// Run starts the command in its own process group so termination reaches
// every helper it spawned. On context end the group receives SIGTERM, then
// SIGKILL once the grace period passes.
func (commandExecutor) Run(ctx context.Context, command Command, onLine func(string)) error {
	cmd := exec.Command(command.Binary, command.Args...) //nolint:gosec
	cmd.Dir = command.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("wait command: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	pgid := cmd.Process.Pid
	_ = unix.Kill(-pgid, unix.SIGTERM)
	grace := time.NewTimer(command.Grace)
	defer grace.Stop()
	select {
	case err := <-done:
		return fmt.Errorf("terminated: %w", errOrCause(ctx, err))
	case <-grace.C:
	}
	_ = unix.Kill(-pgid, unix.SIGKILL)
	err = <-done
	return fmt.Errorf("killed after %s grace: %w", command.Grace, errOrCause(ctx, err))
}

func errOrCause(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	return context.Cause(ctx)
}
