// Package installer drives an external package manager and feeds each
// attempt's outcome to the lifecycle orchestrator.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/lifecycle"
)

// Backend performs the file-level work of an operation.
type Backend interface {
	Install(ctx context.Context, kind addon.Kind, pkg, version string) error
	Update(ctx context.Context, kind addon.Kind, pkg, version string) error
	Uninstall(ctx context.Context, kind addon.Kind, pkg string) error
}

// Command template placeholders.
const (
	PlaceholderPackage    = "{package}"
	PlaceholderVersion    = "{version}"
	PlaceholderConstraint = "{constraint}" // package:version, or package when version is empty
	PlaceholderKind       = "{kind}"
)

// DefaultCommands returns the composer invocations used when none are configured.
func DefaultCommands() map[lifecycle.Verb][]string {
	return map[lifecycle.Verb][]string{
		lifecycle.VerbInstall:   {"composer", "require", "--no-interaction", PlaceholderConstraint},
		lifecycle.VerbUpdate:    {"composer", "require", "--no-interaction", "--update-with-dependencies", PlaceholderConstraint},
		lifecycle.VerbUninstall: {"composer", "remove", "--no-interaction", PlaceholderPackage},
	}
}

// ExecConfig configures an ExecBackend.
type ExecConfig struct {
	Commands      map[lifecycle.Verb][]string
	WorkDir       string
	Timeout       time.Duration // per attempt; zero disables
	MaxRetries    uint64
	RetryInterval time.Duration
}

// execFunc runs a command and returns its combined output.
type execFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// ExecBackend runs one external command per operation, retrying failed
// attempts with a constant backoff.
type ExecBackend struct {
	cfg    ExecConfig
	exec   execFunc
	logger *zap.Logger
}

// NewExecBackend creates an ExecBackend. Verbs missing from cfg.Commands use
// DefaultCommands.
func NewExecBackend(cfg ExecConfig, logger *zap.Logger) *ExecBackend {
	commands := DefaultCommands()
	for verb, tmpl := range cfg.Commands {
		if len(tmpl) > 0 {
			commands[verb] = tmpl
		}
	}
	cfg.Commands = commands
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecBackend{cfg: cfg, exec: runCommand, logger: logger}
}

// Install runs the install command.
func (b *ExecBackend) Install(ctx context.Context, kind addon.Kind, pkg, version string) error {
	return b.run(ctx, lifecycle.VerbInstall, kind, pkg, version)
}

// Update runs the update command.
func (b *ExecBackend) Update(ctx context.Context, kind addon.Kind, pkg, version string) error {
	return b.run(ctx, lifecycle.VerbUpdate, kind, pkg, version)
}

// Uninstall runs the uninstall command.
func (b *ExecBackend) Uninstall(ctx context.Context, kind addon.Kind, pkg string) error {
	return b.run(ctx, lifecycle.VerbUninstall, kind, pkg, "")
}

// Command expands the template for verb.
func (b *ExecBackend) Command(verb lifecycle.Verb, kind addon.Kind, pkg, version string) ([]string, error) {
	tmpl, ok := b.cfg.Commands[verb]
	if !ok || len(tmpl) == 0 {
		return nil, fmt.Errorf("no command configured for %s", verb)
	}
	return expand(tmpl, kind, pkg, version), nil
}

func (b *ExecBackend) run(ctx context.Context, verb lifecycle.Verb, kind addon.Kind, pkg, version string) error {
	argv, err := b.Command(verb, kind, pkg, version)
	if err != nil {
		return err
	}

	attempt := 0
	op := func() error {
		attempt++
		attemptCtx := ctx
		if b.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
			defer cancel()
		}

		output, err := b.exec(attemptCtx, b.cfg.WorkDir, argv[0], argv[1:]...)
		if err == nil {
			return nil
		}

		err = fmt.Errorf("%s failed: %w (output: %s)", strings.Join(argv, " "), err, strings.TrimSpace(string(output)))
		if errors.Is(err, exec.ErrNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		b.logger.Warn("package command failed",
			zap.String("verb", string(verb)),
			zap.String("package", pkg),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}

	var policy backoff.BackOff = backoff.NewConstantBackOff(b.cfg.RetryInterval)
	policy = backoff.WithMaxRetries(policy, b.cfg.MaxRetries)
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

func expand(tmpl []string, kind addon.Kind, pkg, version string) []string {
	constraint := pkg
	if version != "" {
		constraint = pkg + ":" + version
	}
	r := strings.NewReplacer(
		PlaceholderConstraint, constraint,
		PlaceholderPackage, pkg,
		PlaceholderVersion, version,
		PlaceholderKind, string(kind),
	)

	argv := make([]string, 0, len(tmpl))
	for _, arg := range tmpl {
		argv = append(argv, r.Replace(arg))
	}
	return argv
}
