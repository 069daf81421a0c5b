package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cochaviz/ipsbuild/internal/zone"
)

var ConfigDir = "/etc/ipsbuild"
var ConfigPath = filepath.Join(ConfigDir, "config.yaml")

// Requirements lists what a host needs before it can build.
type Requirements struct {
	// Tools maps a tool name to its absolute path.
	Tools map[string]string
	// TemplateZone must exist and be installed.
	TemplateZone string
}

// Verify checks every tool is an executable file and the template zone is
// installed. All problems are reported together.
func Verify(ctx context.Context, control zone.Control, req Requirements) error {
	var problems []error

	names := make([]string, 0, len(req.Tools))
	for name := range req.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := req.Tools[name]
		if err := checkExecutable(path); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", name, err))
			continue
		}
		getLogger().Debug("tool present", "tool", name, "path", path)
	}

	if req.TemplateZone != "" && control != nil {
		if err := checkTemplate(ctx, control, req.TemplateZone); err != nil {
			problems = append(problems, err)
		}
	}

	if len(problems) > 0 {
		return errors.Join(problems...)
	}
	getLogger().Info("host verification succeeded", "tools", len(names), "template", req.TemplateZone)
	return nil
}

func checkExecutable(path string) error {
	if path == "" {
		return errors.New("path is not configured")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path %s is not absolute", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file %s does not exist", path)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("file %s is not executable", path)
	}
	return nil
}

func checkTemplate(ctx context.Context, control zone.Control, name string) error {
	zones, err := control.List(ctx)
	if err != nil {
		return fmt.Errorf("list zones: %w", err)
	}
	z, ok := zones.ByName(name)
	if !ok {
		return fmt.Errorf("template zone %s does not exist", name)
	}
	if z.State != zone.StateInstalled.String() {
		return fmt.Errorf("template zone %s is %s, want installed", name, z.State)
	}
	return nil
}

// WriteConfig installs a configuration file. An existing file is only
// replaced when overwrite is set.
func WriteConfig(path string, content []byte, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("configuration %s already exists", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if !strings.HasSuffix(string(content), "\n") {
		content = append(content, '\n')
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	getLogger().Info("configuration written", "path", path)
	return nil
}

// ClearConfig removes the configuration file if present.
func ClearConfig(path string) error {
	getLogger().Info("clearing configuration file", "path", path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
