package zone

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tools holds the absolute paths of the host commands used by HostControl.
type Tools struct {
	PFExec  string `yaml:"pfexec"`
	ZoneAdm string `yaml:"zoneadm"`
	ZoneCfg string `yaml:"zonecfg"`
	ZLogin  string `yaml:"zlogin"`
	Svcs    string `yaml:"svcs"`
	Pkg     string `yaml:"pkg"`
}

// DefaultTools returns the standard illumos locations.
func DefaultTools() Tools {
	return Tools{
		PFExec:  "/bin/pfexec",
		ZoneAdm: "/usr/sbin/zoneadm",
		ZoneCfg: "/usr/sbin/zonecfg",
		ZLogin:  "/usr/sbin/zlogin",
		Svcs:    "/bin/svcs",
		Pkg:     "/usr/bin/pkg",
	}
}

var _ Control = (*HostControl)(nil)

// HostControl implements Control with zoneadm(8), zonecfg(8), zlogin(1),
// svcs(1) and pkg(1).
type HostControl struct {
	Tools  Tools
	Runner *Runner
}

// NewHostControl returns a HostControl that escalates through Tools.PFExec.
func NewHostControl(tools Tools, runner *Runner) *HostControl {
	if runner == nil {
		runner = &Runner{}
	}
	runner.Wrapper = tools.PFExec
	return &HostControl{Tools: tools, Runner: runner}
}

func (h *HostControl) List(ctx context.Context) (Zones, error) {
	out, err := h.Runner.Output(ctx, h.Tools.ZoneAdm, "list", "-cip")
	if err != nil {
		return nil, fmt.Errorf("zoneadm list: %w", err)
	}
	return ParseList(out)
}

func (h *HostControl) zonecfg(ctx context.Context, name, script string) error {
	_, err := h.Runner.Output(ctx, h.Tools.ZoneCfg, "-z", name, script)
	return err
}

func (h *HostControl) zoneadm(ctx context.Context, name string, args ...string) error {
	_, err := h.Runner.Output(ctx, append([]string{h.Tools.ZoneAdm, "-z", name}, args...)...)
	return err
}

func (h *HostControl) Create(ctx context.Context, name, path, brand string) error {
	var script strings.Builder
	script.WriteString("create -b; ")
	fmt.Fprintf(&script, "set zonepath=%s; ", path)
	fmt.Fprintf(&script, "set zonename=%s; ", name)
	fmt.Fprintf(&script, "set brand=%s; ", brand)
	script.WriteString("commit; ")
	return h.zonecfg(ctx, name, script.String())
}

func (h *HostControl) AddLoopback(ctx context.Context, name, globalPath, zonePath string) error {
	var script strings.Builder
	script.WriteString("add fs; ")
	fmt.Fprintf(&script, "set dir = %s; ", zonePath)
	fmt.Fprintf(&script, "set special = %s; ", globalPath)
	script.WriteString("set type = lofs; ")
	script.WriteString("set options = [rw,nodevices]; ")
	script.WriteString("end; ")
	script.WriteString("commit; ")
	return h.zonecfg(ctx, name, script.String())
}

func (h *HostControl) Clone(ctx context.Context, name, source string) error {
	return h.Runner.Check(ctx, h.Tools.ZoneAdm, "-z", name, "clone", source)
}

func (h *HostControl) Boot(ctx context.Context, name string) error {
	return h.zoneadm(ctx, name, "boot")
}

func (h *HostControl) Halt(ctx context.Context, name string) error {
	return h.zoneadm(ctx, name, "halt")
}

func (h *HostControl) Mount(ctx context.Context, name string) error {
	return h.zoneadm(ctx, name, "mount")
}

func (h *HostControl) Unmount(ctx context.Context, name string) error {
	return h.zoneadm(ctx, name, "unmount")
}

func (h *HostControl) Uninstall(ctx context.Context, name string) error {
	return h.zoneadm(ctx, name, "uninstall", "-F")
}

func (h *HostControl) Delete(ctx context.Context, name string) error {
	_, err := h.Runner.Output(ctx, h.Tools.ZoneCfg, "-z", name, "delete", "-F")
	return err
}

func (h *HostControl) ServiceStatus(ctx context.Context, name, fmri string) (ServiceStatus, bool, error) {
	out, err := h.Runner.Output(ctx, h.Tools.Svcs, "-z", name, "-Ho", "sta,nsta", fmri)
	if err != nil {
		if ctx.Err() != nil {
			return ServiceStatus{}, false, ctx.Err()
		}
		// svcs fails until the zone's repository is up.
		return ServiceStatus{}, false, nil
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	switch {
	case len(lines) == 1 && lines[0] == "":
		return ServiceStatus{}, false, nil
	case len(lines) > 1:
		return ServiceStatus{}, false, fmt.Errorf("unexpected output for %s: %q", fmri, lines)
	}

	fields := strings.Fields(lines[0])
	if len(fields) != 2 {
		return ServiceStatus{}, false, fmt.Errorf("unexpected status line for %s: %q", fmri, lines[0])
	}
	return ServiceStatus{State: fields[0], Next: fields[1]}, true, nil
}

func (h *HostControl) ConsoleExec(ctx context.Context, name string, command ConsoleCommand) (int, error) {
	if len(command.Args) == 0 {
		return -1, errors.New("zlogin: no command provided")
	}

	args := []string{h.Tools.ZLogin}
	if command.User == "" {
		args = append(args, "-S")
	} else {
		args = append(args, "-l", command.User)
	}
	args = append(args, name)
	args = append(args, command.Args...)

	if command.Stdin != nil {
		_, err := h.Runner.OutputInput(ctx, command.Stdin, args...)
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return cmdErr.ExitCode, nil
		}
		if err != nil {
			return -1, err
		}
		return 0, nil
	}
	return h.Runner.Stream(ctx, args...)
}

func (h *HostControl) PackageInstalled(ctx context.Context, root, pkg string) (bool, error) {
	_, err := h.Runner.Output(ctx, h.Tools.Pkg, "-R", root, "list", "-q", pkg)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// pkg(1) exits 4 when there was nothing to do.
const pkgExitNothingToDo = 4

func (h *HostControl) PackageInstall(ctx context.Context, root string, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}
	args := append([]string{h.Tools.Pkg, "-R", root, "install"}, pkgs...)
	code, err := h.Runner.Stream(ctx, args...)
	if err != nil {
		return err
	}
	if code != 0 && code != pkgExitNothingToDo {
		return &CommandError{Args: args, ExitCode: code}
	}
	return nil
}

func (h *HostControl) PackageUninstall(ctx context.Context, root string, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}
	return h.Runner.Check(ctx, append([]string{h.Tools.Pkg, "-R", root, "uninstall"}, pkgs...)...)
}
