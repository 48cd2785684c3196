package annotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"seqwatch/internal/config"
	"seqwatch/internal/logging"
	"seqwatch/internal/services"
)

var (
	// ErrCancelled is the context cause used when a run is cancelled on request.
	ErrCancelled = errors.New("run cancelled")
	// ErrShutdown is the context cause used when the daemon stops.
	ErrShutdown = errors.New("daemon shutting down")

	errRunTimeout = errors.New("run timed out")
)

const stderrTailLines = 8

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, cmd Command, onLine func(string)) error
}

// Command describes one annotator invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	Grace  time.Duration
}

// Settings configures a Client.
type Settings struct {
	Binary         string
	Args           []string
	Options        map[string]string
	WorkDir        string
	OutputSuffix   string
	ReadExtensions []string
	Timeout        time.Duration
	Grace          time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger sets the logger used for annotator output lines.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client runs the annotation process.
type Client struct {
	settings Settings
	exec     Executor
	logger   *slog.Logger
}

// New constructs an annotator client.
func New(settings Settings, opts ...Option) (*Client, error) {
	settings.Binary = strings.TrimSpace(settings.Binary)
	if settings.Binary == "" {
		return nil, services.Wrap(services.ErrConfiguration, "annotator", "init", "annotator command required", nil)
	}
	if settings.OutputSuffix == "" {
		settings.OutputSuffix = ".annotated.tsv"
	}
	settings.ReadExtensions = slices.Clone(settings.ReadExtensions)
	slices.SortStableFunc(settings.ReadExtensions, func(a, b string) int { return len(b) - len(a) })

	client := &Client{
		settings: settings,
		exec:     commandExecutor{},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "annotator")
	return client, nil
}

// NewFromConfig builds a client from the pipeline section.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	return New(Settings{
		Binary:         cfg.Pipeline.Command,
		Args:           cfg.Pipeline.Args,
		Options:        cfg.Pipeline.Options,
		WorkDir:        cfg.Paths.OutputDir,
		OutputSuffix:   cfg.Pipeline.OutputSuffix,
		ReadExtensions: cfg.Watcher.ReadExtensions,
		Timeout:        cfg.PipelineTimeout(),
		Grace:          cfg.PipelineGrace(),
	}, opts...)
}

// BatchKey strips the read extension from a batch file name.
func (c *Client) BatchKey(input string) string {
	base := filepath.Base(input)
	lower := strings.ToLower(base)
	for _, ext := range c.settings.ReadExtensions {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputPath returns where the annotation of input is written.
func (c *Client) OutputPath(input string) string {
	return filepath.Join(c.settings.WorkDir, c.BatchKey(input)+c.settings.OutputSuffix)
}

// Args returns the full argument list for one invocation.
func (c *Client) Args(input, output string) []string {
	args := slices.Clone(c.settings.Args)
	keys := make([]string, 0, len(c.settings.Options))
	for key := range c.settings.Options {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		args = append(args, fmt.Sprintf("--%s=%s", key, c.settings.Options[key]))
	}
	return append(args, "--input", input, "--output", output)
}

// Annotate runs the annotator for one batch and verifies its output.
func (c *Client) Annotate(ctx context.Context, input, output string) error {
	if input == "" || output == "" {
		return services.Wrap(services.ErrValidation, "annotator", "annotate", "input and output paths required", nil)
	}
	if dir := filepath.Dir(output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "annotator", "prepare output", dir, err)
		}
	}
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrTransient, "annotator", "prepare output", output, err)
	}

	runCtx := ctx
	if c.settings.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, c.settings.Timeout, errRunTimeout)
		defer cancel()
	}

	logger := logging.WithContext(ctx, c.logger)
	tail := newLineTail(stderrTailLines)
	cmd := Command{
		Binary: c.settings.Binary,
		Args:   c.Args(input, output),
		Dir:    c.settings.WorkDir,
		Grace:  c.settings.Grace,
	}
	logger.Debug("annotator starting",
		logging.String(logging.FieldEventType, "annotator_start"),
		logging.String("command", cmd.Binary),
		logging.Any("args", cmd.Args),
	)

	runErr := c.exec.Run(runCtx, cmd, func(line string) {
		tail.add(line)
		logger.Debug("annotator output", logging.String("line", line))
	})
	outputErr := verifyOutput(output)

	switch {
	case runErr == nil && outputErr == nil:
		return nil
	case runErr == nil:
		return services.Wrap(services.ErrExternalTool, "annotator", "verify output", "", outputErr)
	case runCtx.Err() != nil && outputErr == nil:
		logger.Info("annotator stopped after producing output",
			logging.String(logging.FieldEventType, "annotator_salvaged"),
			logging.String("cause", context.Cause(runCtx).Error()),
		)
		return nil
	case errors.Is(context.Cause(runCtx), errRunTimeout):
		return services.Wrap(services.ErrTimeout, "annotator", "run", fmt.Sprintf("exceeded %s", c.settings.Timeout), runErr)
	case runCtx.Err() != nil:
		return services.Wrap(services.ErrExternalTool, "annotator", "run", context.Cause(runCtx).Error(), runErr)
	default:
		detail := "annotator failed"
		if lines := tail.lines(); len(lines) > 0 {
			detail = strings.Join(lines, " | ")
		}
		return services.Wrap(services.ErrExternalTool, "annotator", "run", detail, runErr)
	}
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no output file at %s", path)
		}
		return fmt.Errorf("stat output: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("output %s is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output %s is empty", path)
	}
	return nil
}

type lineTail struct {
	mu    sync.Mutex
	limit int
	buf   []string
}

func newLineTail(limit int) *lineTail {
	return &lineTail{limit: limit}
}

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) == t.limit {
		t.buf = t.buf[1:]
	}
	t.buf = append(t.buf, line)
}

func (t *lineTail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.buf)
}
