package zone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandError is returned when a host command exits unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	var b strings.Builder
	b.WriteString(strings.Join(e.Args, " "))
	b.WriteString(" failure")
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if e.Output != "" {
		b.WriteString(": ")
		b.WriteString(e.Output)
	}
	return b.String()
}

// Runner executes host commands with a cleared environment, optionally
// through a privilege wrapper such as pfexec(1).
type Runner struct {
	// Wrapper is prepended to every command when set.
	Wrapper string
	// Stdout and Stderr receive the output of streamed commands.
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) command(ctx context.Context, args []string) *exec.Cmd {
	if r.Wrapper != "" {
		args = append([]string{r.Wrapper}, args...)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = []string{}
	return cmd
}

// Output runs a command to completion and returns its stdout. A non-zero exit
// is reported as a *CommandError carrying stderr, or stdout when stderr is
// empty.
func (r *Runner) Output(ctx context.Context, args ...string) (string, error) {
	return r.OutputInput(ctx, nil, args...)
}

// OutputInput is Output with stdin connected to the provided reader.
func (r *Runner) OutputInput(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no command provided")
	}

	var stdout, stderr bytes.Buffer
	cmd := r.command(ctx, args)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger().Debug("running command", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return stdout.String(), commandError(args, err, stdout.String(), stderr.String())
	}
	return stdout.String(), nil
}

// Stream runs a command with its output connected to the runner's writers and
// returns the exit status. Only failures to start or wait are errors.
func (r *Runner) Stream(ctx context.Context, args ...string) (int, error) {
	if len(args) == 0 {
		return -1, errors.New("no command provided")
	}

	cmd := r.command(ctx, args)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	r.logger().Debug("running command", "args", strings.Join(args, " "))
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return -1, fmt.Errorf("%s: %w", strings.Join(args, " "), err)
}

// Check runs a streamed command and converts a non-zero exit into an error.
func (r *Runner) Check(ctx context.Context, args ...string) error {
	code, err := r.Stream(ctx, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return &CommandError{Args: args, ExitCode: code}
	}
	return nil
}

func commandError(args []string, err error, stdout, stderr string) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("%s: %w", strings.Join(args, " "), err)
	}
	output := strings.TrimSpace(stderr)
	if output == "" {
		output = strings.TrimSpace(stdout)
	}
	return &CommandError{
		Args:     args,
		ExitCode: exitErr.ExitCode(),
		Output:   output,
	}
}
