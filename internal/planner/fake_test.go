package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/cochaviz/ipsbuild/internal/build"
	"github.com/cochaviz/ipsbuild/internal/mapping"
)

// world is an in-memory mapping, repository and builder. Building a package
// publishes the manifest registered in sources.
type world struct {
	locations map[string][]mapping.Location
	published map[string]string
	sources   map[string]string
	failing   map[string]error

	builds  []string
	lookups []string
}

func newWorld() *world {
	return &world{
		locations: map[string][]mapping.Location{},
		published: map[string]string{},
		sources:   map[string]string{},
		failing:   map[string]error{},
	}
}

// component registers a buildable package with the manifest it will publish.
func (w *world) component(name, manifest string) *world {
	w.locations[name] = []mapping.Location{{Name: name, Path: "/ws/build/" + name}}
	w.sources[name] = manifest
	return w
}

// publish marks a package as already present in the repository.
func (w *world) publish(name, manifest string) *world {
	w.component(name, manifest)
	w.published[name] = manifest
	return w
}

func (w *world) Lookup(name string) ([]mapping.Location, error) {
	w.lookups = append(w.lookups, name)
	return w.locations[name], nil
}

func (w *world) HasBuild(_ context.Context, name string) (bool, error) {
	_, ok := w.published[name]
	return ok, nil
}

func (w *world) FetchManifest(_ context.Context, name string) (string, error) {
	manifest, ok := w.published[name]
	if !ok {
		return "", fmt.Errorf("package %s not found", name)
	}
	return manifest, nil
}

func (w *world) Build(_ context.Context, pkg string, loc mapping.Location) error {
	w.builds = append(w.builds, pkg)
	if err, ok := w.failing[pkg]; ok {
		return err
	}
	manifest, ok := w.sources[pkg]
	if !ok {
		return errors.New("no source")
	}
	w.published[pkg] = manifest
	return nil
}

func buildFailure(pkg string) error {
	return &build.BuildFailure{Package: pkg, Location: mapping.Location{Path: "/ws/build/" + pkg}, ExitCode: 1}
}

// recordingStore keeps a copy of every saved state.
type recordingStore struct {
	saves []State
}

func (s *recordingStore) Save(state State) error {
	s.saves = append(s.saves, State{
		Seen:  append([]string{}, state.Seen...),
		Queue: append([]Entry{}, state.Queue...),
		Fails: append([]Entry{}, state.Fails...),
	})
	return nil
}

func (s *recordingStore) last() State {
	return s.saves[len(s.saves)-1]
}
