package memory

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Filter is a compiled MQTT topic filter.
type Filter struct {
	raw string
	g   glob.Glob
}

// CompileFilter compiles an MQTT filter. "+" matches one level and "#",
// which must be the last level, matches the parent and everything below.
func CompileFilter(filter string) (*Filter, error) {
	if filter == "" {
		return nil, fmt.Errorf("empty topic filter")
	}
	levels := strings.Split(filter, "/")
	parts := make([]string, 0, len(levels))
	multi := false
	for i, lvl := range levels {
		switch {
		case lvl == "#":
			if i != len(levels)-1 {
				return nil, fmt.Errorf("topic filter %q: '#' must be the last level", filter)
			}
			multi = true
		case lvl == "+":
			parts = append(parts, "*")
		case strings.ContainsAny(lvl, "+#"):
			return nil, fmt.Errorf("topic filter %q: wildcard must occupy a whole level", filter)
		default:
			parts = append(parts, glob.QuoteMeta(lvl))
		}
	}

	pattern := strings.Join(parts, "/")
	if multi {
		switch len(parts) {
		case 0:
			pattern = "**"
		default:
			pattern = "{" + pattern + "," + pattern + "/**}"
		}
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("topic filter %q: %w", filter, err)
	}
	return &Filter{raw: filter, g: g}, nil
}

// Match reports whether topic matches the filter.
func (f *Filter) Match(topic string) bool {
	return f.g.Match(topic)
}

// String returns the filter as written.
func (f *Filter) String() string { return f.raw }
