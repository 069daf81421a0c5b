package configurations

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cochaviz/ipsbuild/internal/build"
	"github.com/cochaviz/ipsbuild/internal/mapping"
	"github.com/cochaviz/ipsbuild/internal/planner"
	"github.com/cochaviz/ipsbuild/internal/repository"
	"github.com/cochaviz/ipsbuild/internal/setup"
	"github.com/cochaviz/ipsbuild/internal/zone"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration of ipsbuild.
type Config struct {
	// Workspace is the root of the source tree. It is loopback-mounted into
	// the build zone at the same path.
	Workspace  string           `yaml:"workspace"`
	Zone       zone.Config      `yaml:"zone"`
	Repository RepositoryConfig `yaml:"repository"`
	Mapping    MappingConfig    `yaml:"mapping"`
	Build      BuildConfig      `yaml:"build"`
	Planner    PlannerConfig    `yaml:"planner"`
	Tools      ToolsConfig      `yaml:"tools"`
}

type RepositoryConfig struct {
	Path      string `yaml:"path"`
	Publisher string `yaml:"publisher"`
}

// MappingConfig names where package sources are found. Both may be set;
// entries of the file replace scanned ones of the same name.
type MappingConfig struct {
	File string `yaml:"file"`
	Tree string `yaml:"tree"`
}

type BuildConfig struct {
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env"`
}

type PlannerConfig struct {
	Memo         string `yaml:"memo"`
	SkipFailures bool   `yaml:"skip_failures"`
	BasePackage  string `yaml:"base_package"`
}

type ToolsConfig struct {
	zone.Tools `yaml:",inline"`
	PkgRepo    string `yaml:"pkgrepo"`
}

// Default returns a fully populated configuration.
func Default() Config {
	return Config{
		Zone: zone.Config{
			Name:           "ipsbuild",
			Path:           "/zones/ipsbuild",
			Brand:          "lipkg",
			Template:       "ipsbuild-template",
			Milestone:      "svc:/milestone/multi-user-server:default",
			BaselineRemove: []string{"entire", "helios-incorporation"},
			BuildUser:      "build",
			BuildHome:      "/home/build",
		},
		Build: BuildConfig{
			Command: build.DefaultCommand,
			Env:     map[string]string{},
		},
		Planner: PlannerConfig{
			BasePackage: planner.DefaultBasePackage,
		},
		Tools: ToolsConfig{
			Tools:   zone.DefaultTools(),
			PkgRepo: repository.DefaultTool,
		},
	}
}

// Load reads the configuration at path over the defaults. A missing file at
// the default location is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = setup.ConfigPath
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == setup.ConfigPath {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open configuration %s: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode configuration %s: %w", path, err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return cfg, fmt.Errorf("configuration %s: %w", path, err)
	}
	return cfg, nil
}

// resolvePaths makes the host paths absolute. The zone only sees the
// workspace, mounted at the same absolute path.
func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.Workspace, &c.Repository.Path, &c.Mapping.File, &c.Mapping.Tree, &c.Planner.Memo} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ValidateForPlan checks the settings a plan needs.
func (c Config) ValidateForPlan() error {
	var problems []error
	switch {
	case c.Workspace == "":
		problems = append(problems, errors.New("workspace is not configured"))
	case !filepath.IsAbs(c.Workspace):
		problems = append(problems, fmt.Errorf("workspace %s is not an absolute path", c.Workspace))
	}
	if c.Repository.Path == "" {
		problems = append(problems, errors.New("repository.path is not configured"))
	} else if problem := c.inWorkspace("repository.path", c.Repository.Path); problem != nil {
		problems = append(problems, problem)
	}
	if c.Mapping.File == "" && c.Mapping.Tree == "" {
		problems = append(problems, errors.New("mapping.file or mapping.tree must be configured"))
	}
	if c.Mapping.Tree != "" {
		if problem := c.inWorkspace("mapping.tree", c.Mapping.Tree); problem != nil {
			problems = append(problems, problem)
		}
	}
	if c.Zone.Name == "" || c.Zone.Path == "" || c.Zone.Template == "" {
		problems = append(problems, errors.New("zone name, path and template must be configured"))
	}
	return errors.Join(problems...)
}

// inWorkspace checks that a path the build zone needs is visible through the
// workspace mount.
func (c Config) inWorkspace(field, path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s %s is not an absolute path", field, path)
	}
	if filepath.IsAbs(c.Workspace) && !mapping.Within(c.Workspace, path) {
		return fmt.Errorf("%s %s is outside workspace %s", field, path, c.Workspace)
	}
	return nil
}

// ToolPaths lists the host tools by name.
func (c Config) ToolPaths() map[string]string {
	return map[string]string{
		"pfexec":  c.Tools.PFExec,
		"zoneadm": c.Tools.ZoneAdm,
		"zonecfg": c.Tools.ZoneCfg,
		"zlogin":  c.Tools.ZLogin,
		"svcs":    c.Tools.Svcs,
		"pkg":     c.Tools.Pkg,
		"pkgrepo": c.Tools.PkgRepo,
	}
}
