package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/cochaviz/ipsbuild/internal/mapping"
	"github.com/cochaviz/ipsbuild/internal/zone"
	"github.com/google/uuid"
)

// DefaultCommand runs a component's build script in its directory.
const DefaultCommand = "./build.sh -b"

// Executor builds one component at a time inside a freshly provisioned
// sandbox.
type Executor struct {
	Sandboxes SandboxProvider
	// Command is a text/template rendered with the package name ({{.Package}})
	// and the component location ({{.Location.Name}}, {{.Location.Path}}).
	Command string
	// Env is exported to the build script.
	Env map[string]string
	// Workspace, when set, is the host directory mounted into the sandbox.
	// Components outside it are refused.
	Workspace string
	Logger    *slog.Logger
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

type commandData struct {
	Package  string
	Location mapping.Location
}

func (e *Executor) renderCommand(pkg string, loc mapping.Location) (string, error) {
	text := e.Command
	if strings.TrimSpace(text) == "" {
		text = DefaultCommand
	}
	tmpl, err := template.New("command").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse build command: %w", err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, commandData{Package: pkg, Location: loc}); err != nil {
		return "", fmt.Errorf("render build command: %w", err)
	}
	return out.String(), nil
}

// Build provisions the sandbox with the component's build dependencies and
// runs the build command in the component directory. Failures are reported
// as *BuildFailure; cancellation is returned as the context error. The
// sandbox is left as it is after a failure.
func (e *Executor) Build(ctx context.Context, pkg string, loc mapping.Location) error {
	if e.Sandboxes == nil {
		return errors.New("build sandbox provider is not configured")
	}

	if e.Workspace != "" && !mapping.Within(e.Workspace, loc.Path) {
		return fmt.Errorf("component %s at %q is outside workspace %s", pkg, loc.Path, e.Workspace)
	}

	attempt := uuid.New().String()
	logger := e.logger().With("package", pkg, "location", loc.Path, "attempt", attempt)

	command, err := e.renderCommand(pkg, loc)
	if err != nil {
		return err
	}

	sandbox, err := e.Sandboxes.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire build sandbox: %w", err)
	}
	defer sandbox.Release()

	start := time.Now()
	logger.Info("provisioning build sandbox", "depends", len(loc.Depends))
	if err := sandbox.Provision(ctx, loc.Depends); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &BuildFailure{Package: pkg, Location: loc, ExitCode: -1, Err: fmt.Errorf("provision: %w", err)}
	}

	logger.Info("starting component build", "command", command)
	code, err := sandbox.Execute(ctx, zone.Script{
		Env:     e.Env,
		Dir:     loc.Path,
		Command: command,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &BuildFailure{Package: pkg, Location: loc, ExitCode: code, Err: err}
	}
	if code != 0 {
		logger.Error("component build failed", "exit_code", code, "duration", time.Since(start).Round(time.Second))
		return &BuildFailure{Package: pkg, Location: loc, ExitCode: code}
	}

	logger.Info("component build completed", "duration", time.Since(start).Round(time.Second))
	return nil
}
