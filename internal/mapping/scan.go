package mapping

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ScanTree walks a build tree and indexes every component build script
// (build.sh, build-*.sh). The published package comes from the script's PKG=
// assignment and its build dependencies from BUILD_DEPENDS_IPS=.
func ScanTree(root string) (*Index, error) {
	idx := NewIndex()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isBuildScript(d.Name()) {
			return nil
		}

		loc, ok, err := scanScript(path)
		if err != nil {
			return err
		}
		if ok {
			idx.Add(loc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan build tree %s: %w", root, err)
	}
	return idx, nil
}

func isBuildScript(name string) bool {
	if name == "build.sh" {
		return true
	}
	return strings.HasPrefix(name, "build-") && strings.HasSuffix(name, ".sh")
}

func scanScript(path string) (Location, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return Location{}, false, err
	}
	defer f.Close()

	loc := Location{Path: filepath.Dir(path)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := assignment(line, "PKG"); ok && loc.Name == "" {
			loc.Name = value
		}
		if value, ok := assignment(line, "BUILD_DEPENDS_IPS"); ok {
			loc.Depends = append(loc.Depends, strings.Fields(value)...)
		}
	}
	if err := scanner.Err(); err != nil {
		return Location{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	return loc, loc.Name != "", nil
}

// assignment matches `NAME=value` and `NAME+=value` with optional quoting.
// Values containing expansions are ignored.
func assignment(line, name string) (string, bool) {
	var rest string
	switch {
	case strings.HasPrefix(line, name+"+="):
		rest = line[len(name)+2:]
	case strings.HasPrefix(line, name+"="):
		rest = line[len(name)+1:]
	default:
		return "", false
	}

	if i := strings.Index(rest, " #"); i >= 0 && !strings.HasPrefix(rest, `"`) && !strings.HasPrefix(rest, "'") {
		rest = rest[:i]
	}
	rest = strings.TrimSpace(rest)
	if len(rest) >= 2 && (rest[0] == '"' || rest[0] == '\'') {
		end := strings.IndexByte(rest[1:], rest[0])
		if end < 0 {
			return "", false
		}
		rest = rest[1 : end+1]
	}
	if strings.Contains(rest, "$") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
