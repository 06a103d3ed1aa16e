package parser

import (
	"strings"

	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/schema"
)

// KVParser reads "key=value key2=value2" style lines.
type KVParser struct{ base }

func (p *KVParser) Kind() string { return KindKV }

func (p *KVParser) Parse(s *schema.Node, data []byte) []model.Record {
	if s == nil || s.Kind != schema.KindMap || len(s.Fields) == 0 {
		return nil
	}

	delimiter := p.opts.Delimiter
	if delimiter == "" {
		delimiter = " "
	}
	separator := p.opts.Separator
	if separator == "" {
		separator = "="
	}

	pairs := make(map[string]string)
	for _, field := range strings.Split(strings.TrimSpace(string(data)), delimiter) {
		k, v, ok := strings.Cut(field, separator)
		if !ok {
			continue
		}
		pairs[k] = strings.Trim(v, `"`)
	}

	rec := make(model.Record, len(s.Fields))
	for _, key := range s.Keys() {
		v, ok := pairs[key]
		if !ok {
			return nil
		}
		rec[key] = v
	}
	return []model.Record{rec}
}
