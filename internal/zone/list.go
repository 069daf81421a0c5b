package zone

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// splitParsable splits one line of zoneadm/dladm parsable output. Fields are
// separated by ':' and a backslash escapes the next character.
func splitParsable(line string) []string {
	var (
		fields []string
		field  strings.Builder
		escape bool
	)
	for _, c := range line {
		switch {
		case escape:
			field.WriteRune(c)
			escape = false
		case c == '\\':
			escape = true
		case c == ':':
			fields = append(fields, field.String())
			field.Reset()
		default:
			field.WriteRune(c)
		}
	}
	return append(fields, field.String())
}

// ParseList parses the output of `zoneadm list -cip`.
func ParseList(output string) (Zones, error) {
	var zones Zones

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := splitParsable(line)
		if len(f) < 7 {
			return nil, fmt.Errorf("invalid zoneadm list line: %q", line)
		}

		z := Zone{
			Name:   f[1],
			State:  f[2],
			Path:   f[3],
			UUID:   f[4],
			Brand:  f[5],
			IPType: f[6],
		}
		if f[0] != "-" {
			id, err := strconv.ParseInt(f[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid zone id in %q: %w", line, err)
			}
			z.ID = &id
		}
		zones = append(zones, z)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return zones, nil
}
