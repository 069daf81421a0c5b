package configurations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cochaviz/ipsbuild/internal/build"
	"github.com/cochaviz/ipsbuild/internal/logging"
	"github.com/cochaviz/ipsbuild/internal/mapping"
	"github.com/cochaviz/ipsbuild/internal/planner"
	"github.com/cochaviz/ipsbuild/internal/repository"
	"github.com/cochaviz/ipsbuild/internal/setup"
	"github.com/cochaviz/ipsbuild/internal/zone"
)

// Services are the components wired from a configuration.
type Services struct {
	Config     Config
	Control    *zone.HostControl
	Zones      *zone.Manager
	Repository *repository.PkgRepo
	Executor   *build.Executor
	Logger     *slog.Logger
}

// NewServices wires the host control, zone manager, repository and build
// executor. Build output is streamed to stdout and stderr.
func NewServices(cfg Config, stdout, stderr io.Writer, logger *slog.Logger) *Services {
	logger = logging.Ensure(logger)

	runner := &zone.Runner{
		Stdout: stdout,
		Stderr: stderr,
		Logger: logger.With("component", "runner"),
	}
	control := zone.NewHostControl(cfg.Tools.Tools, runner)

	zoneConfig := cfg.Zone
	zoneConfig.Workspace = cfg.Workspace
	manager := zone.NewManager(control, zoneConfig, zone.CurrentIdentity(), logger.With("component", "zone"))

	repo := &repository.PkgRepo{
		Path:      cfg.Repository.Path,
		Publisher: cfg.Repository.Publisher,
		Tool:      cfg.Tools.PkgRepo,
		Runner:    &zone.Runner{Logger: logger.With("component", "pkgrepo")},
		Logger:    logger.With("component", "repository"),
	}

	executor := &build.Executor{
		Sandboxes: build.ZoneProvider{Manager: manager},
		Command:   cfg.Build.Command,
		Env:       buildEnv(cfg),
		Workspace: cfg.Workspace,
		Logger:    logger.With("component", "build"),
	}

	return &Services{
		Config:     cfg,
		Control:    control,
		Zones:      manager,
		Repository: repo,
		Executor:   executor,
		Logger:     logger,
	}
}

// buildEnv points build scripts at the local repository unless the
// configuration already does.
func buildEnv(cfg Config) map[string]string {
	env := make(map[string]string, len(cfg.Build.Env)+2)
	if cfg.Repository.Path != "" {
		env["PKGSRVR"] = "file://" + cfg.Repository.Path
	}
	if cfg.Repository.Publisher != "" {
		env["PKGPUBLISHER"] = cfg.Repository.Publisher
	}
	for k, v := range cfg.Build.Env {
		env[k] = v
	}
	return env
}

// Mapping scans the configured build tree and overlays the configured index
// file. A package listed in the file replaces every scanned location of the
// same name.
func (s *Services) Mapping() (*mapping.Index, error) {
	index := mapping.NewIndex()
	if s.Config.Mapping.Tree != "" {
		tree, err := mapping.ScanTree(s.Config.Mapping.Tree)
		if err != nil {
			return nil, err
		}
		index.Merge(tree)
	}
	if s.Config.Mapping.File != "" {
		file, err := mapping.LoadFile(s.Config.Mapping.File)
		if err != nil {
			return nil, err
		}
		index.Override(file)
	}
	s.Logger.Info("package mapping loaded", "packages", index.Len())
	return index, nil
}

// PlanOptions are the per-invocation planner settings.
type PlanOptions struct {
	Seeds []string
	// Memo overrides planner.memo from the configuration.
	Memo         string
	SkipFailures bool
	RetryFails   bool
}

// PlanWithLogger builds the dependency closure of the seeds. With a memo the
// plan resumes from the stored state when one exists; seeds given on resume
// are appended to the queue.
func PlanWithLogger(ctx context.Context, cfg Config, opts PlanOptions, logger *slog.Logger) (planner.State, error) {
	logger = logging.Ensure(logger).With("component", "config.plan")

	if err := cfg.ValidateForPlan(); err != nil {
		return planner.State{}, err
	}

	services := NewServices(cfg, os.Stdout, os.Stderr, logger)
	index, err := services.Mapping()
	if err != nil {
		return planner.State{}, err
	}
	if err := services.Repository.Ensure(ctx); err != nil {
		return planner.State{}, err
	}

	p := &planner.Planner{
		Mapping:      index,
		Repository:   services.Repository,
		Builder:      services.Executor,
		SkipFailures: opts.SkipFailures || cfg.Planner.SkipFailures,
		BasePackage:  cfg.Planner.BasePackage,
		Logger:       logger.With("component", "planner"),
	}

	memoPath := opts.Memo
	if memoPath == "" {
		memoPath = cfg.Planner.Memo
	}
	if memoPath == "" {
		if opts.RetryFails {
			return planner.State{}, errors.New("retrying failures requires a memo file")
		}
		if len(opts.Seeds) == 0 {
			return planner.State{}, errors.New("at least one package is required")
		}
		return p.Plan(ctx, opts.Seeds...)
	}

	memo, err := planner.OpenMemo(memoPath)
	if err != nil {
		return planner.State{}, err
	}
	defer memo.Close()
	p.Store = memo

	state, ok, err := memo.Load()
	if err != nil {
		return planner.State{}, err
	}
	if !ok {
		if len(opts.Seeds) == 0 {
			return planner.State{}, fmt.Errorf("memo %s does not exist and no packages were given", memoPath)
		}
		logger.Info("starting new plan", "memo", memoPath, "seeds", len(opts.Seeds))
		return p.Plan(ctx, opts.Seeds...)
	}

	if opts.RetryFails {
		logger.Info("requeueing failed packages", "fails", len(state.Fails))
		state = planner.RetryFails(state)
	}
	for _, seed := range opts.Seeds {
		state.Queue = append(state.Queue, planner.Entry{FMRI: seed})
	}
	logger.Info("resuming plan", "memo", memoPath, "seen", len(state.Seen), "queue", len(state.Queue))
	return p.Resume(ctx, state)
}

// VerifyHost checks the configured tools and the template zone.
func VerifyHost(ctx context.Context, cfg Config, logger *slog.Logger) error {
	services := NewServices(cfg, io.Discard, io.Discard, logger)
	return setup.Verify(ctx, services.Control, setup.Requirements{
		Tools:        cfg.ToolPaths(),
		TemplateZone: cfg.Zone.Template,
	})
}

// ZoneReport is the state of the build zone and what tearing it down takes.
type ZoneReport struct {
	Name     string
	Exists   bool
	State    zone.State
	Teardown []zone.Action
}

// ZoneStatusWithLogger reports on the build zone.
func ZoneStatusWithLogger(ctx context.Context, cfg Config, logger *slog.Logger) (ZoneReport, error) {
	services := NewServices(cfg, io.Discard, io.Discard, logger)
	lease, err := services.Zones.Acquire(ctx)
	if err != nil {
		return ZoneReport{}, err
	}
	defer lease.Release()

	report := ZoneReport{Name: lease.Name()}
	state, exists, err := lease.Status(ctx)
	if err != nil {
		return report, err
	}
	if !exists {
		return report, nil
	}
	plan, err := zone.TeardownPlan(state)
	if err != nil {
		return report, err
	}
	report.Exists = true
	report.State = state
	report.Teardown = plan
	return report, nil
}

// ZoneTeardownWithLogger removes the build zone left by a previous build.
func ZoneTeardownWithLogger(ctx context.Context, cfg Config, logger *slog.Logger) error {
	services := NewServices(cfg, os.Stdout, os.Stderr, logger)
	lease, err := services.Zones.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return lease.Teardown(ctx)
}

// RefreshRepositoryWithLogger rebuilds the repository catalog.
func RefreshRepositoryWithLogger(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if cfg.Repository.Path == "" {
		return errors.New("repository.path is not configured")
	}
	return NewServices(cfg, io.Discard, io.Discard, logger).Repository.Refresh(ctx)
}
