// Package parser holds the closed set of log format parsers used by the classifier.
//
// Every parser turns pre-parsed bytes into zero or more records shaped by a schema
// and can check a record against its configured log_patterns.
package parser

import (
	"fmt"
	"sort"

	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/schema"
)

// Parser is the capability every log format implements.
type Parser interface {
	// Kind returns the identifier recorded as the payload type (json, csv, kv, syslog).
	Kind() string

	// Options returns the per-schema configuration this parser was built with.
	Options() Options

	// Parse returns the records in data that conform to s. An empty result means
	// the schema does not apply.
	Parse(s *schema.Node, data []byte) []model.Record

	// MatchedLogPattern reports whether rec satisfies patterns.
	MatchedLogPattern(rec model.Record, patterns *Patterns) bool
}

// Options is the "configuration" block of a log declaration.
type Options struct {
	LogPatterns          *Patterns    `yaml:"log_patterns"`
	EnvelopeKeys         *schema.Node `yaml:"envelope_keys"`
	OptionalTopLevelKeys []string     `yaml:"optional_top_level_keys"`
	JSONPath             string       `yaml:"json_path"`
	Delimiter            string       `yaml:"delimiter"`
	Separator            string       `yaml:"separator"`
}

// Constructor builds a parser for one log declaration.
type Constructor func(opts Options) Parser

var registry = map[string]Constructor{
	KindJSON:   func(o Options) Parser { return &JSONParser{base{opts: o}} },
	KindCSV:    func(o Options) Parser { return &CSVParser{base{opts: o}} },
	KindKV:     func(o Options) Parser { return &KVParser{base{opts: o}} },
	KindSyslog: func(o Options) Parser { return &SyslogParser{base{opts: o}} },
}

// New returns a parser of the given kind.
func New(kind string, opts Options) (Parser, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown parser: %s", kind)
	}
	return ctor(opts), nil
}

// Kinds returns the names of all parser kinds, sorted.
func Kinds() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// base carries the options and the shared log pattern check.
type base struct {
	opts Options
}

func (b *base) Options() Options { return b.opts }

func (b *base) MatchedLogPattern(rec model.Record, patterns *Patterns) bool {
	return patterns.Match(rec)
}
