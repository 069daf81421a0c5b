package planner

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cochaviz/ipsbuild/internal/build"
	"github.com/cochaviz/ipsbuild/internal/ips"
	"github.com/cochaviz/ipsbuild/internal/mapping"
	"github.com/cochaviz/ipsbuild/internal/zone"
)

func newPlanner(w *world) *Planner {
	return &Planner{Mapping: w, Repository: w, Builder: w}
}

func sampleWorld() *world {
	return newWorld().
		component("app", "set name=pkg.fmri value=pkg:/app@1.0\n"+
			"depend fmri=pkg:/lib-a@1.0 type=require\n"+
			"depend fmri=lib-b fmri=lib-x type=require-any\n"+
			"depend fmri=pkg:/entire@11 type=incorporate\n"+
			"depend fmri=pkg:/SUNWcs type=require\n").
		component("lib-a", "depend fmri=pkg:/lib-c@2 type=require\n").
		component("lib-b", "").
		component("lib-x", "").
		component("lib-c", "depend fmri=app type=require\n")
}

func TestPlanBuildsClosureBreadthFirst(t *testing.T) {
	t.Parallel()

	w := sampleWorld()
	state, err := newPlanner(w).Plan(context.Background(), "pkg:/app@1.0")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if want := []string{"app", "lib-a", "lib-b", "lib-x", "lib-c"}; !reflect.DeepEqual(w.builds, want) {
		t.Fatalf("builds = %v, want %v", w.builds, want)
	}
	if want := []string{"app", "lib-a", "lib-b", "lib-x", "SUNWcs", "lib-c"}; !reflect.DeepEqual(state.Seen, want) {
		t.Fatalf("Seen = %v, want %v", state.Seen, want)
	}
	if len(state.Queue) != 0 || len(state.Fails) != 0 {
		t.Fatalf("state = %+v, want empty queue and fails", state)
	}
}

func TestPlanIsIdempotent(t *testing.T) {
	t.Parallel()

	w := sampleWorld()
	for name, manifest := range w.sources {
		w.published[name] = manifest
	}

	for run := 0; run < 2; run++ {
		state, err := newPlanner(w).Plan(context.Background(), "app")
		if err != nil {
			t.Fatalf("run %d: Plan() error = %v", run, err)
		}
		if len(state.Queue) != 0 {
			t.Fatalf("run %d: queue = %v, want empty", run, state.Queue)
		}
	}
	if len(w.builds) != 0 {
		t.Fatalf("builds = %v, want none", w.builds)
	}
}

func TestPlanNormalizesNames(t *testing.T) {
	t.Parallel()

	w := newWorld().component("foo", "")
	state, err := newPlanner(w).Plan(context.Background(), "pkg:/foo@1.2,5.11-0.1", "foo", "pkg:/foo")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !reflect.DeepEqual(state.Seen, []string{"foo"}) {
		t.Fatalf("Seen = %v, want [foo]", state.Seen)
	}
	if !reflect.DeepEqual(w.builds, []string{"foo"}) {
		t.Fatalf("builds = %v, want [foo]", w.builds)
	}
}

func TestPlanNeverEnqueuesIncorporations(t *testing.T) {
	t.Parallel()

	w := newWorld().
		component("foo", "depend fmri=pkg:/bar@1.0 type=incorporate\n").
		component("bar", "")
	store := &recordingStore{}
	p := newPlanner(w)
	p.Store = store

	state, err := p.Plan(context.Background(), "foo")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	for _, saved := range store.saves {
		for _, e := range saved.Queue {
			if ips.Normalize(e.FMRI) == "bar" {
				t.Fatalf("bar was queued: %+v", saved)
			}
		}
	}
	if !reflect.DeepEqual(state.Seen, []string{"foo"}) || !reflect.DeepEqual(w.lookups, []string{"foo"}) {
		t.Fatalf("Seen = %v, lookups = %v", state.Seen, w.lookups)
	}
}

func TestPlanOptionalWithoutSourceIsNotFatal(t *testing.T) {
	t.Parallel()

	w := newWorld().component("foo", "depend fmri=pkg:/baz type=optional\n")
	state, err := newPlanner(w).Plan(context.Background(), "foo")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !reflect.DeepEqual(w.builds, []string{"foo"}) {
		t.Fatalf("builds = %v, want [foo]", w.builds)
	}
	if len(state.Queue) != 0 || len(state.Fails) != 0 {
		t.Fatalf("state = %+v", state)
	}
}

func TestPlanOptionalDoesNotPropagateThroughRequire(t *testing.T) {
	t.Parallel()

	w := newWorld().
		component("foo", "depend fmri=baz type=optional\n").
		component("baz", "depend fmri=qux type=require\n")

	_, err := newPlanner(w).Plan(context.Background(), "foo")
	var mappingErr *MappingError
	if !errors.As(err, &mappingErr) || mappingErr.Package != "qux" {
		t.Fatalf("Plan() error = %v, want MappingError for qux", err)
	}
}

func TestPlanMappingErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing", func(t *testing.T) {
		t.Parallel()

		w := newWorld().component("foo", "depend fmri=bar type=require\n")
		_, err := newPlanner(w).Plan(context.Background(), "foo")
		var mappingErr *MappingError
		if !errors.As(err, &mappingErr) || mappingErr.Package != "bar" || len(mappingErr.Matches) != 0 {
			t.Fatalf("Plan() error = %v, want MappingError for bar", err)
		}
	})

	t.Run("ambiguous even when optional", func(t *testing.T) {
		t.Parallel()

		w := newWorld().component("foo", "depend fmri=bar type=optional\n")
		w.locations["bar"] = []mapping.Location{{Name: "bar", Path: "/a"}, {Name: "bar", Path: "/b"}}
		_, err := newPlanner(w).Plan(context.Background(), "foo")
		var mappingErr *MappingError
		if !errors.As(err, &mappingErr) || len(mappingErr.Matches) != 2 {
			t.Fatalf("Plan() error = %v, want ambiguous MappingError", err)
		}
	})
}

func TestPlanSkipsBasePackage(t *testing.T) {
	t.Parallel()

	w := newWorld().component("foo", "depend fmri=pkg:/system/core type=require\n").component("system/core", "")
	p := newPlanner(w)
	p.BasePackage = "pkg:/system/core@0.5.11"

	if _, err := p.Plan(context.Background(), "foo"); err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !reflect.DeepEqual(w.builds, []string{"foo"}) {
		t.Fatalf("builds = %v, want [foo]", w.builds)
	}
}

func TestPlanBasePackageNeedsNoSource(t *testing.T) {
	t.Parallel()

	w := newWorld().component("foo", "depend fmri=pkg:/SUNWcs@0.5.11 type=require\n")

	state, err := newPlanner(w).Plan(context.Background(), "foo")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if !reflect.DeepEqual(state.Seen, []string{"foo", "SUNWcs"}) {
		t.Fatalf("Seen = %v, want [foo SUNWcs]", state.Seen)
	}
	if !reflect.DeepEqual(w.lookups, []string{"foo"}) {
		t.Fatalf("lookups = %v, want [foo]", w.lookups)
	}
}

func TestPlanBuildFailure(t *testing.T) {
	t.Parallel()

	t.Run("fatal by default", func(t *testing.T) {
		t.Parallel()

		w := newWorld().component("foo", "depend fmri=bar type=require\n").component("bar", "")
		w.failing["foo"] = buildFailure("foo")

		_, err := newPlanner(w).Plan(context.Background(), "foo")
		var failure *build.BuildFailure
		if !errors.As(err, &failure) || failure.Package != "foo" {
			t.Fatalf("Plan() error = %v, want BuildFailure for foo", err)
		}
	})

	t.Run("recorded when skipping failures", func(t *testing.T) {
		t.Parallel()

		w := newWorld().
			component("foo", "depend fmri=bar type=require\n").
			component("bar", "").
			component("other", "")
		w.failing["foo"] = buildFailure("foo")
		p := newPlanner(w)
		p.SkipFailures = true

		state, err := p.Plan(context.Background(), "pkg:/foo@1", "other")
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		if !reflect.DeepEqual(state.Fails, []Entry{{FMRI: "pkg:/foo@1"}}) {
			t.Fatalf("Fails = %+v", state.Fails)
		}
		if !reflect.DeepEqual(w.builds, []string{"foo", "other"}) {
			t.Fatalf("builds = %v, bar must not be discovered", w.builds)
		}
	})

	t.Run("zone state errors stay fatal", func(t *testing.T) {
		t.Parallel()

		w := newWorld().component("foo", "")
		w.failing["foo"] = &build.BuildFailure{
			Package: "foo",
			Err:     &zone.StateError{Zone: "ipsbuild", State: "shutting_down"},
		}
		p := newPlanner(w)
		p.SkipFailures = true

		_, err := p.Plan(context.Background(), "foo")
		var stateErr *zone.StateError
		if !errors.As(err, &stateErr) {
			t.Fatalf("Plan() error = %v, want StateError", err)
		}
	})
}

func TestPlanRejectsInvalidManifest(t *testing.T) {
	t.Parallel()

	manifest := "depend type=require fmri=pkg:/x extra=1\n"

	w := newWorld().component("foo", manifest)
	_, err := newPlanner(w).Plan(context.Background(), "foo")
	var parseErr *ips.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Plan() error = %v, want ParseError", err)
	}

	w = newWorld().component("foo", manifest)
	p := newPlanner(w)
	p.SkipFailures = true
	state, err := p.Plan(context.Background(), "foo")
	if err != nil {
		t.Fatalf("Plan(skip) error = %v", err)
	}
	if len(state.Fails) != 1 {
		t.Fatalf("Fails = %+v, want foo", state.Fails)
	}
}

func TestResumeAfterInterruptedBuild(t *testing.T) {
	t.Parallel()

	memoPath := filepath.Join(t.TempDir(), "memo.json")
	memo, err := OpenMemo(memoPath)
	if err != nil {
		t.Fatalf("OpenMemo() error = %v", err)
	}

	w := newWorld().
		component("app", "depend fmri=foo type=require\ndepend fmri=bar type=require\n").
		component("foo", "depend fmri=baz type=require\n").
		component("bar", "").
		component("baz", "")
	w.failing["foo"] = errors.New("killed")

	p := newPlanner(w)
	p.Store = memo
	if _, err := p.Plan(context.Background(), "app"); err == nil {
		t.Fatal("Plan() error = nil, want interrupted build")
	}
	if err := memo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	memo, err = OpenMemo(memoPath)
	if err != nil {
		t.Fatalf("reopen memo: %v", err)
	}
	defer memo.Close()
	saved, ok, err := memo.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	if !reflect.DeepEqual(saved.Seen, []string{"app"}) || saved.Queue[0].FMRI != "foo" {
		t.Fatalf("saved state = %+v, want foo at the front and unseen", saved)
	}

	delete(w.failing, "foo")
	w.builds = nil
	p.Store = memo
	state, err := p.Resume(context.Background(), saved)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if want := []string{"foo", "bar", "baz"}; !reflect.DeepEqual(w.builds, want) {
		t.Fatalf("builds = %v, want %v", w.builds, want)
	}
	if len(state.Queue) != 0 {
		t.Fatalf("Queue = %v, want empty", state.Queue)
	}

	final, _, err := memo.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(final, state) {
		t.Fatalf("persisted = %+v, want %+v", final, state)
	}
}

func TestResumeSavesBeforeEveryBuild(t *testing.T) {
	t.Parallel()

	w := newWorld().component("foo", "depend fmri=bar type=require\n").component("bar", "")
	store := &recordingStore{}
	p := newPlanner(w)
	p.Store = store

	if _, err := p.Plan(context.Background(), "foo"); err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	// before foo, before bar, final
	if len(store.saves) != 3 {
		t.Fatalf("saves = %d, want 3", len(store.saves))
	}
	if got := store.saves[1]; !reflect.DeepEqual(got.Seen, []string{"foo"}) || got.Queue[0].FMRI != "bar" {
		t.Fatalf("save before bar = %+v", got)
	}
	if got := store.last(); len(got.Queue) != 0 || len(got.Seen) != 2 {
		t.Fatalf("final save = %+v", got)
	}
}

func TestResumeHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := newWorld().component("foo", "")
	state, err := newPlanner(w).Plan(ctx, "foo")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Plan() error = %v, want context.Canceled", err)
	}
	if len(w.builds) != 0 || len(state.Queue) != 1 {
		t.Fatalf("builds = %v, state = %+v", w.builds, state)
	}
}

func TestRetryFails(t *testing.T) {
	t.Parallel()

	state := State{
		Seen:  []string{"app", "foo", "bar"},
		Queue: []Entry{{FMRI: "baz"}},
		Fails: []Entry{{FMRI: "pkg:/foo@1", Optional: true}},
	}
	got := RetryFails(state)
	want := State{
		Seen:  []string{"app", "bar"},
		Queue: []Entry{{FMRI: "pkg:/foo@1", Optional: true}, {FMRI: "baz"}},
		Fails: []Entry{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RetryFails() = %+v, want %+v", got, want)
	}
}
