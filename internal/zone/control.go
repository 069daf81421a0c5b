package zone

import (
	"context"
	"io"
)

// ServiceStatus is the state and next-state of an SMF service instance as
// printed by `svcs -Ho sta,nsta`.
type ServiceStatus struct {
	State string
	Next  string
}

// Online reports whether the service is enabled and not transitioning.
func (s ServiceStatus) Online() bool {
	return s.State == "ON" && s.Next == "-"
}

// ConsoleCommand is run inside a zone through zlogin(1). An empty User runs
// the command on the zone console as root, which also works for a zone that
// is only mounted.
type ConsoleCommand struct {
	User  string
	Args  []string
	Stdin io.Reader
}

// Control is the host virtualization surface the lifecycle manager drives.
// Every method blocks until the underlying operation completes.
type Control interface {
	List(ctx context.Context) (Zones, error)

	Create(ctx context.Context, name, path, brand string) error
	AddLoopback(ctx context.Context, name, globalPath, zonePath string) error
	Clone(ctx context.Context, name, source string) error
	Boot(ctx context.Context, name string) error
	Halt(ctx context.Context, name string) error
	Mount(ctx context.Context, name string) error
	Unmount(ctx context.Context, name string) error
	Uninstall(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error

	// ServiceStatus returns ok=false when the status cannot be determined
	// yet, e.g. while the zone is still booting.
	ServiceStatus(ctx context.Context, name, fmri string) (status ServiceStatus, ok bool, err error)
	// ConsoleExec returns the exit status of the command.
	ConsoleExec(ctx context.Context, name string, command ConsoleCommand) (int, error)

	// Package operations against the image rooted at root.
	PackageInstalled(ctx context.Context, root, pkg string) (bool, error)
	PackageInstall(ctx context.Context, root string, pkgs []string) error
	PackageUninstall(ctx context.Context, root string, pkgs []string) error
}
