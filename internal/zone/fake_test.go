package zone

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// fakeControl is an in-memory zone host. It follows the zoneadm state
// transitions and records every call.
type fakeControl struct {
	mu sync.Mutex

	zones     map[string]string
	installed map[string]bool
	calls     []string
	stdin     []string

	statuses []ServiceStatus
	// runCode is returned for commands run as a named user.
	runCode int
	failOn  string
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		zones:     map[string]string{"global": "running"},
		installed: map[string]bool{},
	}
}

func (f *fakeControl) record(call string) error {
	f.calls = append(f.calls, call)
	if f.failOn != "" && strings.HasPrefix(call, f.failOn) {
		return fmt.Errorf("%s failed", call)
	}
	return nil
}

func (f *fakeControl) transition(name, call string, from []string, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(call + " " + name); err != nil {
		return err
	}
	state, ok := f.zones[name]
	if !ok {
		return fmt.Errorf("%s: zone %s does not exist", call, name)
	}
	for _, s := range from {
		if s == state {
			if to == "" {
				delete(f.zones, name)
			} else {
				f.zones[name] = to
			}
			return nil
		}
	}
	return fmt.Errorf("%s: zone %s is %s", call, name, state)
}

func (f *fakeControl) List(ctx context.Context) (Zones, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zones Zones
	for name, state := range f.zones {
		zones = append(zones, Zone{Name: name, State: state})
	}
	return zones, nil
}

func (f *fakeControl) Create(ctx context.Context, name, path, brand string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create " + name); err != nil {
		return err
	}
	if _, ok := f.zones[name]; ok {
		return fmt.Errorf("zone %s already exists", name)
	}
	f.zones[name] = "configured"
	return nil
}

func (f *fakeControl) AddLoopback(ctx context.Context, name, globalPath, zonePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(fmt.Sprintf("lofs %s %s", globalPath, zonePath))
}

func (f *fakeControl) Clone(ctx context.Context, name, source string) error {
	return f.transition(name, "clone", []string{"configured"}, "installed")
}

func (f *fakeControl) Boot(ctx context.Context, name string) error {
	return f.transition(name, "boot", []string{"installed"}, "running")
}

// Halting an installed zone is accepted by zoneadm and changes nothing.
func (f *fakeControl) Halt(ctx context.Context, name string) error {
	return f.transition(name, "halt", []string{"running", "installed"}, "installed")
}

func (f *fakeControl) Mount(ctx context.Context, name string) error {
	return f.transition(name, "mount", []string{"installed"}, "mounted")
}

func (f *fakeControl) Unmount(ctx context.Context, name string) error {
	return f.transition(name, "unmount", []string{"mounted"}, "installed")
}

func (f *fakeControl) Uninstall(ctx context.Context, name string) error {
	return f.transition(name, "uninstall", []string{"installed", "incomplete"}, "configured")
}

func (f *fakeControl) Delete(ctx context.Context, name string) error {
	return f.transition(name, "delete", []string{"configured"}, "")
}

func (f *fakeControl) ServiceStatus(ctx context.Context, name, fmri string) (ServiceStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "svcs "+fmri)
	if len(f.statuses) == 0 {
		return ServiceStatus{}, false, nil
	}
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return status, true, nil
}

func (f *fakeControl) ConsoleExec(ctx context.Context, name string, command ConsoleCommand) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := "zlogin"
	if command.User != "" {
		call += " -l " + command.User
	}
	call += " " + strings.Join(command.Args, " ")
	if err := f.record(call); err != nil {
		return -1, err
	}
	if command.Stdin != nil {
		data, err := io.ReadAll(command.Stdin)
		if err != nil {
			return -1, err
		}
		f.stdin = append(f.stdin, string(data))
	}
	if command.User != "" {
		return f.runCode, nil
	}
	return 0, nil
}

func (f *fakeControl) PackageInstalled(ctx context.Context, root, pkg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "pkg list "+pkg)
	return f.installed[pkg], nil
}

func (f *fakeControl) PackageInstall(ctx context.Context, root string, pkgs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("pkg install " + strings.Join(pkgs, " ")); err != nil {
		return err
	}
	for _, p := range pkgs {
		f.installed[p] = true
	}
	return nil
}

func (f *fakeControl) PackageUninstall(ctx context.Context, root string, pkgs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("pkg uninstall " + strings.Join(pkgs, " ")); err != nil {
		return err
	}
	for _, p := range pkgs {
		delete(f.installed, p)
	}
	return nil
}

func (f *fakeControl) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
