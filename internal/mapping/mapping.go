package mapping

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cochaviz/ipsbuild/internal/ips"
	"gopkg.in/yaml.v3"
)

// Location is the source component that produces a package.
type Location struct {
	// Name is the package name the component publishes.
	Name string `yaml:"name"`
	// Path is the component directory in the workspace.
	Path string `yaml:"path"`
	// Depends lists the IPS packages needed to build the component.
	Depends []string `yaml:"depends,omitempty"`
}

// Index maps normalized package names to the components that publish them.
// A name may map to several locations; deciding what that means is up to the
// caller.
type Index struct {
	locations map[string][]Location
}

// NewIndex builds an index from locations.
func NewIndex(locations ...Location) *Index {
	idx := &Index{locations: make(map[string][]Location)}
	for _, loc := range locations {
		idx.Add(loc)
	}
	return idx
}

// Add registers a location under its normalized name.
func (i *Index) Add(loc Location) {
	if i.locations == nil {
		i.locations = make(map[string][]Location)
	}
	key := ips.Normalize(loc.Name)
	loc.Name = key
	i.locations[key] = append(i.locations[key], loc)
}

// Merge adds every location of other to the index.
func (i *Index) Merge(other *Index) {
	if other == nil {
		return
	}
	for _, name := range other.Names() {
		for _, loc := range other.locations[name] {
			i.Add(loc)
		}
	}
}

// Override replaces the locations of every name in other with the ones
// other holds. Names only in the index are kept.
func (i *Index) Override(other *Index) {
	if other == nil {
		return
	}
	for _, name := range other.Names() {
		delete(i.locations, name)
		for _, loc := range other.locations[name] {
			i.Add(loc)
		}
	}
}

// Lookup returns every location publishing name.
func (i *Index) Lookup(name string) ([]Location, error) {
	if i == nil {
		return nil, errors.New("mapping index is not loaded")
	}
	found := i.locations[ips.Normalize(name)]
	out := make([]Location, len(found))
	copy(out, found)
	return out, nil
}

// Names returns the indexed package names in sorted order.
func (i *Index) Names() []string {
	names := make([]string, 0, len(i.locations))
	for name := range i.locations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of indexed names.
func (i *Index) Len() int {
	return len(i.locations)
}

type indexFile struct {
	Packages []Location `yaml:"packages"`
}

// LoadFile reads a YAML index of the form
//
//	packages:
//	  - name: library/zlib
//	    path: /ws/build/zlib
//	    depends: [developer/gcc13]
//
// A relative path is taken relative to the directory of the file.
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping %s: %w", path, err)
	}
	defer f.Close()

	var file indexFile
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode mapping %s: %w", path, err)
	}

	idx := NewIndex()
	for n, loc := range file.Packages {
		if loc.Name == "" || loc.Path == "" {
			return nil, fmt.Errorf("mapping %s: entry %d needs both name and path", path, n)
		}
		if !filepath.IsAbs(loc.Path) {
			loc.Path = filepath.Join(filepath.Dir(path), loc.Path)
		}
		idx.Add(loc)
	}
	return idx, nil
}

// Within reports whether path is root or lies below it. Both must be
// absolute.
func Within(root, path string) bool {
	if !filepath.IsAbs(root) || !filepath.IsAbs(path) {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
