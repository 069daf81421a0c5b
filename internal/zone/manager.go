package zone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config describes the reserved build zone.
type Config struct {
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	Brand     string `yaml:"brand"`
	Template  string `yaml:"template"`
	Milestone string `yaml:"milestone"`
	// BaselineRemove lists the incorporations removed from the cloned image
	// so that build-time package versions can be installed.
	BaselineRemove []string `yaml:"baseline_remove"`
	BuildUser      string   `yaml:"build_user"`
	BuildHome      string   `yaml:"build_home"`
	// Workspace is loopback-mounted into the zone at the same path.
	Workspace string `yaml:"-"`
}

// Root returns the path of the zone's root file system in the global zone.
func (c Config) Root() string {
	return path.Join(c.Path, "root")
}

const defaultPollInterval = time.Second

// Manager owns the single reserved build zone. Only one Lease can be held at
// a time.
type Manager struct {
	Control  Control
	Config   Config
	Identity Identity
	Logger   *slog.Logger
	// PollInterval is the milestone polling period; zero means one second.
	PollInterval time.Duration

	once sync.Once
	sem  chan struct{}
}

// NewManager constructs a manager for the configured zone.
func NewManager(control Control, cfg Config, identity Identity, logger *slog.Logger) *Manager {
	return &Manager{
		Control:  control,
		Config:   cfg,
		Identity: identity,
		Logger:   logger,
	}
}

func (m *Manager) logger() *slog.Logger {
	if m != nil && m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Manager) semaphore() chan struct{} {
	m.once.Do(func() {
		m.sem = make(chan struct{}, 1)
	})
	return m.sem
}

// Acquire takes exclusive ownership of the build zone, waiting for any other
// holder to release it.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	if m.Control == nil {
		return nil, errors.New("zone control is not configured")
	}
	if strings.TrimSpace(m.Config.Name) == "" {
		return nil, errors.New("zone name is not configured")
	}

	select {
	case m.semaphore() <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	id := uuid.New().String()
	return &Lease{
		ID:      id,
		manager: m,
		logger:  m.logger().With("zone", m.Config.Name, "lease", id),
	}, nil
}

// Lease is exclusive ownership of the build zone. Releasing a lease never
// touches the zone itself; a zone left behind by a failed build stays as it is
// until the next lease tears it down.
type Lease struct {
	ID string

	manager  *Manager
	logger   *slog.Logger
	released bool
	mu       sync.Mutex
}

// Name returns the zone name.
func (l *Lease) Name() string {
	return l.manager.Config.Name
}

// Release gives up ownership. It is safe to call more than once.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	<-l.manager.semaphore()
}

func (l *Lease) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return errors.New("zone lease already released")
	}
	return nil
}

// Status returns the current state of the zone, or ok=false if it does not
// exist.
func (l *Lease) Status(ctx context.Context) (state State, ok bool, err error) {
	zones, err := l.manager.Control.List(ctx)
	if err != nil {
		return 0, false, err
	}
	z, found := zones.ByName(l.Name())
	if !found {
		return 0, false, nil
	}
	state, err = ParseState(z.Name, z.State)
	if err != nil {
		return 0, false, err
	}
	return state, true, nil
}

// Teardown removes the zone if it exists, applying the actions required for
// its current state.
func (l *Lease) Teardown(ctx context.Context) error {
	if err := l.check(); err != nil {
		return err
	}

	state, exists, err := l.Status(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	plan, err := TeardownPlan(state)
	if err != nil {
		return &StateError{Zone: l.Name(), State: state.String()}
	}

	l.logger.Info("tearing down existing zone", "state", state.String(), "actions", len(plan))
	for _, action := range plan {
		l.logger.Debug("zone teardown action", "action", action.String())
		if err := l.apply(ctx, action); err != nil {
			return fmt.Errorf("zone %s %s: %w", l.Name(), action, err)
		}
	}
	return nil
}

func (l *Lease) apply(ctx context.Context, action Action) error {
	c := l.manager.Control
	switch action {
	case ActionUnmount:
		return c.Unmount(ctx, l.Name())
	case ActionHalt:
		return c.Halt(ctx, l.Name())
	case ActionUninstall:
		return c.Uninstall(ctx, l.Name())
	case ActionDelete:
		return c.Delete(ctx, l.Name())
	default:
		return fmt.Errorf("unknown teardown action %s", action)
	}
}

// Provision tears down any previous zone and prepares a fresh booted zone
// with the requested packages installed.
func (l *Lease) Provision(ctx context.Context, packages []string) error {
	if err := l.Teardown(ctx); err != nil {
		return err
	}

	cfg := l.manager.Config
	c := l.manager.Control
	name := l.Name()

	l.logger.Info("creating zone", "path", cfg.Path, "brand", cfg.Brand)
	if err := c.Create(ctx, name, cfg.Path, cfg.Brand); err != nil {
		return fmt.Errorf("create zone %s: %w", name, err)
	}

	if cfg.Workspace != "" {
		// Build scripts use absolute paths, so the workspace appears at the
		// same location inside the zone.
		if err := c.AddLoopback(ctx, name, cfg.Workspace, cfg.Workspace); err != nil {
			return fmt.Errorf("add workspace mount to zone %s: %w", name, err)
		}
	}

	l.logger.Info("cloning zone", "template", cfg.Template)
	if err := c.Clone(ctx, name, cfg.Template); err != nil {
		return fmt.Errorf("clone zone %s from %s: %w", name, cfg.Template, err)
	}

	if err := l.removeBaseline(ctx); err != nil {
		return err
	}
	if err := l.installPackages(ctx, packages); err != nil {
		return err
	}
	if !l.manager.Identity.Root {
		if err := l.addBuildUser(ctx); err != nil {
			return err
		}
	}

	l.logger.Info("booting zone")
	if err := c.Boot(ctx, name); err != nil {
		return fmt.Errorf("boot zone %s: %w", name, err)
	}
	return l.WaitMilestone(ctx)
}

func (l *Lease) removeBaseline(ctx context.Context) error {
	cfg := l.manager.Config
	var present []string
	for _, pkg := range cfg.BaselineRemove {
		ok, err := l.manager.Control.PackageInstalled(ctx, cfg.Root(), pkg)
		if err != nil {
			return fmt.Errorf("check baseline package %s: %w", pkg, err)
		}
		if ok {
			present = append(present, pkg)
		}
	}
	if len(present) == 0 {
		return nil
	}
	l.logger.Info("removing baseline incorporations", "packages", strings.Join(present, " "))
	if err := l.manager.Control.PackageUninstall(ctx, cfg.Root(), present); err != nil {
		return fmt.Errorf("remove baseline packages: %w", err)
	}
	return nil
}

func (l *Lease) installPackages(ctx context.Context, packages []string) error {
	cfg := l.manager.Config
	var missing []string
	for _, pkg := range packages {
		ok, err := l.manager.Control.PackageInstalled(ctx, cfg.Root(), pkg)
		if err != nil {
			return fmt.Errorf("check package %s: %w", pkg, err)
		}
		if !ok {
			missing = append(missing, pkg)
		}
	}
	if len(missing) == 0 {
		l.logger.Info("all build dependencies already present", "packages", len(packages))
		return nil
	}
	l.logger.Info("installing build dependencies", "packages", strings.Join(missing, " "))
	if err := l.manager.Control.PackageInstall(ctx, cfg.Root(), missing); err != nil {
		return fmt.Errorf("install build dependencies: %w", err)
	}
	return nil
}

// addBuildUser creates an account inside the zone whose uid and gid match
// the invoking user, so files written to the workspace keep their owner.
func (l *Lease) addBuildUser(ctx context.Context) error {
	cfg := l.manager.Config
	id := l.manager.Identity
	c := l.manager.Control
	name := l.Name()

	if err := c.Mount(ctx, name); err != nil {
		return fmt.Errorf("mount zone %s: %w", name, err)
	}

	entries := []struct {
		file string
		line string
	}{
		{"/a/etc/passwd", fmt.Sprintf("%s:x:%d:%d:%s:%s:/bin/bash\n", cfg.BuildUser, id.UID, id.GID, "Build User", cfg.BuildHome)},
		{"/a/etc/shadow", fmt.Sprintf("%s:NP:6445::::::\n", cfg.BuildUser)},
		{"/a/etc/group", fmt.Sprintf("%s::%d:\n", cfg.BuildUser, id.GID)},
	}
	for _, e := range entries {
		if err := l.exec(ctx, ConsoleCommand{
			Args:  []string{"/bin/tee", "-a", e.file},
			Stdin: strings.NewReader(e.line),
		}); err != nil {
			return fmt.Errorf("append to %s: %w", e.file, err)
		}
	}

	home := path.Join("/a", cfg.BuildHome)
	if err := l.exec(ctx, ConsoleCommand{Args: []string{"/bin/mkdir", "-p", home}}); err != nil {
		return fmt.Errorf("create %s: %w", home, err)
	}
	owner := fmt.Sprintf("%d:%d", id.UID, id.GID)
	if err := l.exec(ctx, ConsoleCommand{Args: []string{"/bin/chown", owner, home}}); err != nil {
		return fmt.Errorf("chown %s: %w", home, err)
	}

	if err := c.Unmount(ctx, name); err != nil {
		return fmt.Errorf("unmount zone %s: %w", name, err)
	}
	return nil
}

func (l *Lease) exec(ctx context.Context, command ConsoleCommand) error {
	code, err := l.manager.Control.ConsoleExec(ctx, l.Name(), command)
	if err != nil {
		return err
	}
	if code != 0 {
		return &CommandError{Args: command.Args, ExitCode: code}
	}
	return nil
}

// WaitMilestone polls the configured milestone service until it is online.
// There is no timeout; cancel ctx to stop waiting.
func (l *Lease) WaitMilestone(ctx context.Context) error {
	fmri := l.manager.Config.Milestone
	interval := l.manager.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, ok, err := l.manager.Control.ServiceStatus(ctx, l.Name(), fmri)
		if err != nil {
			return fmt.Errorf("wait for %s: %w", fmri, err)
		}
		if ok && status.Online() {
			l.logger.Info("zone milestone reached", "service", fmri)
			return nil
		}
		if ok {
			l.logger.Debug("waiting for zone milestone", "service", fmri, "state", status.State, "next", status.Next)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// BuildUser is the account scripts run as inside the zone.
func (l *Lease) BuildUser() string {
	if l.manager.Identity.Root {
		return "root"
	}
	return l.manager.Config.BuildUser
}

// Execute deposits the script in the zone and runs it as the build user. The
// returned exit status is non-zero when the build failed.
func (l *Lease) Execute(ctx context.Context, script Script) (int, error) {
	if err := l.check(); err != nil {
		return -1, err
	}

	text, err := script.Render()
	if err != nil {
		return -1, err
	}

	scriptPath := fmt.Sprintf("/tmp/ipsbuild.%s.sh", uuid.New().String())
	if err := l.exec(ctx, ConsoleCommand{
		Args:  []string{"/bin/tee", scriptPath},
		Stdin: strings.NewReader(text),
	}); err != nil {
		return -1, fmt.Errorf("deposit build script: %w", err)
	}
	if err := l.exec(ctx, ConsoleCommand{Args: []string{"/bin/chmod", "0755", scriptPath}}); err != nil {
		return -1, fmt.Errorf("chmod build script: %w", err)
	}

	l.logger.Info("running build script", "script", scriptPath, "user", l.BuildUser())
	code, err := l.manager.Control.ConsoleExec(ctx, l.Name(), ConsoleCommand{
		User: l.BuildUser(),
		Args: []string{scriptPath},
	})
	if err != nil {
		return -1, fmt.Errorf("run build script: %w", err)
	}
	return code, nil
}
