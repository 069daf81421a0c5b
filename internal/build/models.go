package build

import (
	"context"
	"fmt"

	"github.com/cochaviz/ipsbuild/internal/mapping"
	"github.com/cochaviz/ipsbuild/internal/zone"
)

// Sandbox is an exclusively held build environment.
type Sandbox interface {
	Provision(ctx context.Context, packages []string) error
	Execute(ctx context.Context, script zone.Script) (int, error)
	Release()
}

// SandboxProvider hands out the build environment, one holder at a time.
type SandboxProvider interface {
	Acquire(ctx context.Context) (Sandbox, error)
}

// ZoneProvider leases the reserved build zone of a zone.Manager.
type ZoneProvider struct {
	Manager *zone.Manager
}

var _ SandboxProvider = ZoneProvider{}

func (p ZoneProvider) Acquire(ctx context.Context) (Sandbox, error) {
	lease, err := p.Manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// BuildFailure reports a component build that did not complete. ExitCode is
// -1 when the build script never ran.
type BuildFailure struct {
	Package  string
	Location mapping.Location
	ExitCode int
	Err      error
}

func (e *BuildFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build of %s (%s) failed: %v", e.Package, e.Location.Path, e.Err)
	}
	return fmt.Sprintf("build of %s (%s) failed: exit status %d", e.Package, e.Location.Path, e.ExitCode)
}

func (e *BuildFailure) Unwrap() error {
	return e.Err
}
