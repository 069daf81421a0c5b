package ips

import "strings"

// FMRI is a package identifier of the form pkg://publisher/name@version.
// Publisher and Version are optional.
type FMRI struct {
	Publisher string
	Name      string
	Version   string
}

// ParseFMRI splits an identifier into its parts. Any of "pkg://pub/name",
// "pkg:/name", "/name" and "name" are accepted, each with an optional
// "@version" suffix.
func ParseFMRI(s string) FMRI {
	var f FMRI

	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "pkg://"):
		s = strings.TrimPrefix(s, "pkg://")
		if pub, rest, ok := strings.Cut(s, "/"); ok {
			f.Publisher = pub
			s = rest
		}
	case strings.HasPrefix(s, "pkg:/"):
		s = strings.TrimPrefix(s, "pkg:/")
	}
	s = strings.TrimLeft(s, "/")

	if name, version, ok := strings.Cut(s, "@"); ok {
		f.Name = name
		f.Version = version
	} else {
		f.Name = s
	}
	return f
}

// String renders the FMRI in its canonical form.
func (f FMRI) String() string {
	var b strings.Builder
	if f.Publisher != "" {
		b.WriteString("pkg://")
		b.WriteString(f.Publisher)
		b.WriteByte('/')
	} else {
		b.WriteString("pkg:/")
	}
	b.WriteString(f.Name)
	if f.Version != "" {
		b.WriteByte('@')
		b.WriteString(f.Version)
	}
	return b.String()
}

// Normalize reduces an identifier to the bare package name used as the
// planner's identity: pkg:/foo@1.2,5.11-0.1, pkg:/foo and foo all become foo.
func Normalize(s string) string {
	return ParseFMRI(s).Name
}
