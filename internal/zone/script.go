package zone

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
)

// Script is a build script run inside the zone.
type Script struct {
	Env     map[string]string
	Dir     string
	Command string
}

type scriptVar struct {
	Name  string
	Value string
}

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var scriptTemplate = template.Must(template.New("script").Funcs(template.FuncMap{
	"quote": shellQuote,
}).Parse(`#!/bin/bash
set -o errexit
set -o pipefail
set -o xtrace
{{- range .Env }}
export {{ .Name }}={{ quote .Value }}
{{- end }}
{{- if .Dir }}
cd {{ quote .Dir }}
{{- end }}
{{ .Command }}
`))

// Render produces the script text. Environment variables are exported in
// name order.
func (s Script) Render() (string, error) {
	if strings.TrimSpace(s.Command) == "" {
		return "", fmt.Errorf("build script command is empty")
	}

	names := make([]string, 0, len(s.Env))
	for name := range s.Env {
		if !envNamePattern.MatchString(name) {
			return "", fmt.Errorf("invalid environment variable name %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]scriptVar, 0, len(names))
	for _, name := range names {
		vars = append(vars, scriptVar{Name: name, Value: s.Env[name]})
	}

	var out bytes.Buffer
	err := scriptTemplate.Execute(&out, struct {
		Env     []scriptVar
		Dir     string
		Command string
	}{vars, s.Dir, s.Command})
	if err != nil {
		return "", fmt.Errorf("render build script: %w", err)
	}
	return out.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
