package fwtool

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultToolPath = "framework_tool"
	DefaultDriver   = "portio"
	DefaultSudoPath = "sudo"
	DefaultTimeout  = 10 * time.Second
)

var maximumRe = regexp.MustCompile(`Maximum (\d+)%`)

// Options controls how framework_tool is invoked.
type Options struct {
	// ToolPath is the framework_tool binary, looked up in PATH if not absolute.
	ToolPath string
	// Driver is passed as --driver.
	Driver string
	// UseSudo prefixes the command with SudoPath. sudo must be allowed to run
	// the tool without a password prompt.
	UseSudo  bool
	SudoPath string
	// Timeout bounds a single invocation.
	Timeout time.Duration
}

// DefaultOptions reproduces `sudo framework_tool --charge-limit [N] --driver portio`.
func DefaultOptions() Options {
	return Options{
		ToolPath: DefaultToolPath,
		Driver:   DefaultDriver,
		UseSudo:  true,
		SudoPath: DefaultSudoPath,
		Timeout:  DefaultTimeout,
	}
}

// Tool reads and writes the firmware charge limit through framework_tool.
type Tool struct {
	runner Runner

	mu   sync.RWMutex
	opts Options
}

// New returns a Tool. A nil runner means ExecRunner. Zero-valued option
// fields fall back to defaults, except UseSudo.
func New(runner Runner, opts Options) *Tool {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Tool{runner: runner, opts: withDefaults(opts)}
}

// SetOptions replaces the invocation options for later calls.
func (t *Tool) SetOptions(opts Options) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opts = withDefaults(opts)
}

// Options returns the effective options.
func (t *Tool) Options() Options {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.opts
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.ToolPath == "" {
		opts.ToolPath = def.ToolPath
	}
	if opts.Driver == "" {
		opts.Driver = def.Driver
	}
	if opts.SudoPath == "" {
		opts.SudoPath = def.SudoPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return opts
}

// QueryCommand returns the full argv used to read the current limit.
func (t *Tool) QueryCommand() []string {
	return t.command("--charge-limit", "--driver", t.Options().Driver)
}

// SetCommand returns the full argv used to set the limit to percent.
func (t *Tool) SetCommand(percent int) []string {
	return t.command("--charge-limit", strconv.Itoa(percent), "--driver", t.Options().Driver)
}

func (t *Tool) command(args ...string) []string {
	opts := t.Options()
	argv := make([]string, 0, len(args)+2)
	if opts.UseSudo {
		argv = append(argv, opts.SudoPath)
	}
	argv = append(argv, opts.ToolPath)
	return append(argv, args...)
}

func (t *Tool) run(ctx context.Context, argv []string) (*CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Options().Timeout)
	defer cancel()

	logger := logrus.WithField("argv", strings.Join(argv, " "))
	logger.Debug("running charge limit tool")

	res, err := t.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		logger.WithError(err).Debug("charge limit tool did not complete")
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"success":  res.Success,
		"exitCode": res.ExitCode,
		"stdout":   res.Stdout,
		"stderr":   res.Stderr,
	}).Debug("charge limit tool finished")

	return res, nil
}

// GetMaximum returns the maximum charge percentage reported by the tool.
func (t *Tool) GetMaximum(ctx context.Context) (int, error) {
	res, err := t.run(ctx, t.QueryCommand())
	if err != nil {
		return 0, err
	}
	if !res.Success {
		return 0, pkgerrors.Wrapf(ErrToolExecution, "query exited with code %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stderr) != "" {
		return 0, pkgerrors.Wrap(ErrToolExecution, "query wrote to stderr")
	}
	return ParseMaximum(res.Stdout)
}

// SetMaximum sets the maximum charge percentage.
func (t *Tool) SetMaximum(ctx context.Context, percent int) error {
	res, err := t.run(ctx, t.SetCommand(percent))
	if err != nil {
		return err
	}
	if !res.Success {
		return pkgerrors.Wrapf(ErrToolExecution, "setting limit to %d%% exited with code %d", percent, res.ExitCode)
	}
	// Any stderr output, even a bare newline, means the write was not clean.
	if res.Stderr != "" {
		return pkgerrors.Wrapf(ErrLimitRejected, "setting limit to %d%%", percent)
	}
	return nil
}

// ParseMaximum extracts N from the first "Maximum N%" in tool output.
func ParseMaximum(stdout string) (int, error) {
	m := maximumRe.FindStringSubmatch(stdout)
	if m == nil {
		return 0, pkgerrors.Wrap(ErrParse, "no \"Maximum N%\" in output")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrParse, "invalid maximum %q: %v", m[1], err)
	}
	return n, nil
}
