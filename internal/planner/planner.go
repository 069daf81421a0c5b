package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cochaviz/ipsbuild/internal/build"
	"github.com/cochaviz/ipsbuild/internal/ips"
	"github.com/cochaviz/ipsbuild/internal/mapping"
	"github.com/cochaviz/ipsbuild/internal/zone"
)

// DefaultBasePackage is the package standing for the base OS.
const DefaultBasePackage = "SUNWcs"

// Mapping resolves package names to source locations.
type Mapping interface {
	Lookup(name string) ([]mapping.Location, error)
}

// Repository answers whether a package is published and serves its manifest.
type Repository interface {
	HasBuild(ctx context.Context, name string) (bool, error)
	FetchManifest(ctx context.Context, name string) (string, error)
}

// Builder builds the component at loc, publishing pkg to the repository.
type Builder interface {
	Build(ctx context.Context, pkg string, loc mapping.Location) error
}

// Store persists planner state.
type Store interface {
	Save(state State) error
}

var (
	_ Mapping = (*mapping.Index)(nil)
	_ Builder = (*build.Executor)(nil)
	_ Store   = (*Memo)(nil)
)

// Planner walks the dependency closure of its seeds breadth first, building
// every package the repository does not have yet. Builds run one at a time.
type Planner struct {
	Mapping    Mapping
	Repository Repository
	Builder    Builder
	// Store is optional; without it progress is not persisted.
	Store Store
	// SkipFailures records failed builds in State.Fails instead of aborting.
	SkipFailures bool
	// BasePackage is never built; empty means DefaultBasePackage.
	BasePackage string
	Logger      *slog.Logger
}

func (p *Planner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Planner) basePackage() string {
	if p.BasePackage != "" {
		return ips.Normalize(p.BasePackage)
	}
	return DefaultBasePackage
}

// Plan starts a fresh plan from seeds.
func (p *Planner) Plan(ctx context.Context, seeds ...string) (State, error) {
	return p.Resume(ctx, NewState(seeds...))
}

// Resume continues a plan from a previously persisted state. The returned
// state reflects progress even when an error is returned.
func (p *Planner) Resume(ctx context.Context, state State) (State, error) {
	if p.Mapping == nil || p.Repository == nil || p.Builder == nil {
		return state, errors.New("planner is not fully configured")
	}
	state.normalize()

	seen := make(map[string]struct{}, len(state.Seen))
	for _, name := range state.Seen {
		seen[name] = struct{}{}
	}

	built := 0
	for {
		// The stored state must read "about to try X" while X builds, so it
		// is written before the entry is popped.
		if err := p.save(state); err != nil {
			return state, err
		}
		if len(state.Queue) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		entry := state.Queue[0]
		state.Queue = state.Queue[1:]

		name := ips.Normalize(entry.FMRI)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		state.Seen = append(state.Seen, name)

		done, err := p.step(ctx, &state, seen, entry, name)
		if err != nil {
			return state, err
		}
		if done {
			built++
		}
	}

	p.logger().Info("plan complete", "seen", len(state.Seen), "built", built, "fails", len(state.Fails))
	return state, nil
}

// step processes one newly seen package and reports whether it was built.
func (p *Planner) step(ctx context.Context, state *State, seen map[string]struct{}, entry Entry, name string) (bool, error) {
	logger := p.logger().With("package", name)

	if name == p.basePackage() {
		logger.Info("skipping base OS package")
		return false, nil
	}

	locations, err := p.Mapping.Lookup(name)
	if err != nil {
		return false, fmt.Errorf("look up source of %s: %w", name, err)
	}
	switch {
	case len(locations) == 0 && entry.Optional:
		logger.Warn("skipping optional package without a source location")
		return false, nil
	case len(locations) != 1:
		return false, &MappingError{Package: name, Matches: locations}
	}
	loc := locations[0]
	logger = logger.With("location", loc.Path)

	present, err := p.Repository.HasBuild(ctx, name)
	if err != nil {
		return false, err
	}

	built := false
	if present {
		logger.Info("package already published")
	} else {
		logger.Info("building package")
		if err := p.Builder.Build(ctx, name, loc); err != nil {
			if !p.skippable(ctx, err) {
				return false, fmt.Errorf("package %s (%s): %w", name, loc.Path, err)
			}
			logger.Error("build failed, recording for retry", "error", err)
			state.Fails = append(state.Fails, entry)
			return false, nil
		}
		built = true
	}

	deps, err := p.dependencies(ctx, name)
	if err != nil {
		if !p.SkipFailures || ctx.Err() != nil {
			return built, fmt.Errorf("package %s (%s): %w", name, loc.Path, err)
		}
		logger.Error("manifest unusable, recording for retry", "error", err)
		state.Fails = append(state.Fails, entry)
		return built, nil
	}

	queued := 0
	for _, edge := range deps {
		if _, ok := seen[ips.Normalize(edge.FMRI)]; ok {
			continue
		}
		state.Queue = append(state.Queue, Entry{FMRI: edge.FMRI, Optional: edge.Optional})
		queued++
	}
	logger.Debug("dependencies queued", "count", queued, "queue", len(state.Queue))
	return built, nil
}

// skippable reports whether a build error may be recorded in Fails. Zone
// state errors and cancellation always abort the plan.
func (p *Planner) skippable(ctx context.Context, err error) bool {
	if !p.SkipFailures || ctx.Err() != nil {
		return false
	}
	var stateErr *zone.StateError
	if errors.As(err, &stateErr) {
		return false
	}
	var failure *build.BuildFailure
	return errors.As(err, &failure)
}

func (p *Planner) dependencies(ctx context.Context, name string) ([]ips.Edge, error) {
	text, err := p.Repository.FetchManifest(ctx, name)
	if err != nil {
		return nil, err
	}
	actions, err := ips.ParseManifest(text)
	if err != nil {
		return nil, err
	}
	var edges []ips.Edge
	for _, depend := range ips.Dependencies(actions) {
		edges = append(edges, depend.Edges()...)
	}
	return edges, nil
}

func (p *Planner) save(state State) error {
	if p.Store == nil {
		return nil
	}
	if err := p.Store.Save(state); err != nil {
		return fmt.Errorf("persist planner state: %w", err)
	}
	return nil
}
