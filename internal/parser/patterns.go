package parser

import (
	"fmt"
	"strconv"

	"github.com/gobwas/glob"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Patterns is a compiled log_patterns block:
//
//	{"type": ["*file_added*", "*file_removed*"], "detail": {"state": ["running"]}}
//
// Field order is kept so evaluation is deterministic.
type Patterns struct {
	entries []patternEntry
}

type patternEntry struct {
	field  string
	globs  []glob.Glob
	nested *Patterns
}

// CompilePatterns builds Patterns from field → glob list pairs in order.
// Used by tests and callers assembling configuration by hand.
func CompilePatterns(fields ...string) (*Patterns, error) {
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("log patterns: odd number of arguments")
	}
	p := &Patterns{}
	for i := 0; i < len(fields); i += 2 {
		g, err := glob.Compile(fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("log patterns: field %s: %w", fields[i], err)
		}
		if n := len(p.entries); n > 0 && p.entries[n-1].field == fields[i] {
			p.entries[n-1].globs = append(p.entries[n-1].globs, g)
			continue
		}
		p.entries = append(p.entries, patternEntry{field: fields[i], globs: []glob.Glob{g}})
	}
	return p, nil
}

// UnmarshalYAML compiles every glob at configuration load time.
func (p *Patterns) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: log_patterns must be a mapping", value.Line)
	}

	p.entries = p.entries[:0]
	for i := 0; i+1 < len(value.Content); i += 2 {
		field, v := value.Content[i].Value, value.Content[i+1]
		entry := patternEntry{field: field}

		switch v.Kind {
		case yaml.MappingNode:
			entry.nested = &Patterns{}
			if err := entry.nested.UnmarshalYAML(v); err != nil {
				return err
			}
		case yaml.SequenceNode:
			for _, item := range v.Content {
				g, err := glob.Compile(item.Value)
				if err != nil {
					return fmt.Errorf("line %d: log pattern %q: %w", item.Line, item.Value, err)
				}
				entry.globs = append(entry.globs, g)
			}
		case yaml.ScalarNode:
			g, err := glob.Compile(v.Value)
			if err != nil {
				return fmt.Errorf("line %d: log pattern %q: %w", v.Line, v.Value, err)
			}
			entry.globs = append(entry.globs, g)
		default:
			return fmt.Errorf("line %d: unsupported log pattern for %s", v.Line, field)
		}

		p.entries = append(p.entries, entry)
	}
	return nil
}

// Empty reports whether there is nothing to check.
func (p *Patterns) Empty() bool {
	return p == nil || len(p.entries) == 0
}

// Match reports whether rec satisfies every field's patterns. A nil or empty
// Patterns matches everything. A missing field never matches.
func (p *Patterns) Match(rec map[string]any) bool {
	if p.Empty() {
		return true
	}

	for _, e := range p.entries {
		value, ok := rec[e.field]
		if !ok {
			return false
		}

		if e.nested != nil {
			sub, isMap := value.(map[string]any)
			if !isMap || !e.nested.Match(sub) {
				return false
			}
			continue
		}

		s := patternString(value)
		matched := false
		for _, g := range e.globs {
			if g.Match(s) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func patternString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
