package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cochaviz/ipsbuild/internal/ips"
	"github.com/cochaviz/ipsbuild/internal/zone"
)

// DefaultTool is the standard location of pkgrepo(1).
const DefaultTool = "/usr/bin/pkgrepo"

// PkgRepo is a local file-based IPS repository driven through pkgrepo(1).
type PkgRepo struct {
	Path      string
	Publisher string
	// Tool is the pkgrepo binary; empty means DefaultTool.
	Tool   string
	Runner *zone.Runner
	Logger *slog.Logger
}

func (r *PkgRepo) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *PkgRepo) tool() string {
	if r.Tool != "" {
		return r.Tool
	}
	return DefaultTool
}

func (r *PkgRepo) runner() *zone.Runner {
	if r.Runner != nil {
		return r.Runner
	}
	return &zone.Runner{Logger: r.Logger}
}

func (r *PkgRepo) args(sub string, extra ...string) []string {
	args := []string{r.tool(), sub}
	args = append(args, extra...)
	args = append(args, "-s", r.Path)
	if r.Publisher != "" && sub != "refresh" {
		args = append(args, "-p", r.Publisher)
	}
	return args
}

// Ensure creates the repository and its publisher if the path does not exist
// yet.
func (r *PkgRepo) Ensure(ctx context.Context) error {
	if r.Path == "" {
		return errors.New("repository path is not configured")
	}
	if _, err := os.Stat(r.Path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repository %s: %w", r.Path, err)
	}

	if _, err := r.runner().Output(ctx, r.tool(), "create", r.Path); err != nil {
		return fmt.Errorf("create repository %s: %w", r.Path, err)
	}
	if r.Publisher != "" {
		if _, err := r.runner().Output(ctx, r.tool(), "add-publisher", "-s", r.Path, r.Publisher); err != nil {
			return fmt.Errorf("add publisher %s to %s: %w", r.Publisher, r.Path, err)
		}
	}
	r.logger().Info("repository created", "path", r.Path, "publisher", r.Publisher)
	return nil
}

// HasBuild reports whether any version of the package is published.
func (r *PkgRepo) HasBuild(ctx context.Context, name string) (bool, error) {
	name = ips.Normalize(name)
	out, err := r.runner().Output(ctx, append(r.args("list", "-H"), name)...)
	if err != nil {
		var cmdErr *zone.CommandError
		// pkgrepo list exits 1 when nothing matched.
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
			return false, nil
		}
		return false, fmt.Errorf("query repository for %s: %w", name, err)
	}
	return strings.TrimSpace(out) != "", nil
}

// FetchManifest returns the manifest of the newest published version of the
// package.
func (r *PkgRepo) FetchManifest(ctx context.Context, name string) (string, error) {
	name = ips.Normalize(name)
	out, err := r.runner().Output(ctx, append(r.args("contents", "-m"), name)...)
	if err != nil {
		return "", fmt.Errorf("fetch manifest of %s: %w", name, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("fetch manifest of %s: package not found in %s", name, r.Path)
	}
	return out, nil
}

// Refresh rebuilds the repository catalog and search indexes.
func (r *PkgRepo) Refresh(ctx context.Context) error {
	if _, err := r.runner().Output(ctx, r.args("refresh")...); err != nil {
		return fmt.Errorf("refresh repository %s: %w", r.Path, err)
	}
	return nil
}
