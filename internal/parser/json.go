package parser

import (
	"bytes"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/schema"
)

// Parser kinds.
const (
	KindJSON   = "json"
	KindCSV    = "csv"
	KindKV     = "kv"
	KindSyslog = "syslog"
)

// JSONParser decodes JSON objects (or arrays of objects) and keeps those whose keys
// match the schema.
//
// Options honoured:
//   - json_path: dotted path to the records inside the document (e.g. "Records")
//   - envelope_keys: top-level keys copied into every record under schema.EnvelopeKey
//   - optional_top_level_keys: schema keys filled with a zero value when absent
type JSONParser struct{ base }

func (p *JSONParser) Kind() string { return KindJSON }

func (p *JSONParser) Parse(s *schema.Node, data []byte) []model.Record {
	if s == nil || s.Kind != schema.KindMap {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil
	}

	var envelope map[string]any
	if p.opts.EnvelopeKeys != nil && len(p.opts.EnvelopeKeys.Fields) > 0 {
		top, ok := doc.(map[string]any)
		if !ok {
			return nil
		}
		envelope = make(map[string]any, len(p.opts.EnvelopeKeys.Fields))
		for _, key := range p.opts.EnvelopeKeys.Keys() {
			v, ok := top[key]
			if !ok {
				return nil
			}
			envelope[key] = v
		}
	}

	if p.opts.JSONPath != "" {
		var ok bool
		if doc, ok = walkPath(doc, p.opts.JSONPath); !ok {
			return nil
		}
	}

	candidates := objects(doc)
	if len(candidates) == 0 {
		return nil
	}

	// 파서 내부에서만 쓰는 확장 스키마. 원본(root) 스키마는 수정하지 않는다.
	effective := s
	if envelope != nil {
		effective = s.With(schema.F(schema.EnvelopeKey, p.opts.EnvelopeKeys))
	}

	records := make([]model.Record, 0, len(candidates))
	for _, rec := range candidates {
		p.fillOptional(s, rec)
		if envelope != nil {
			rec[schema.EnvelopeKey] = envelope
		}
		if keysMatch(rec, effective) {
			records = append(records, rec)
		}
	}
	return records
}

// fillOptional 은 optional_top_level_keys 에 선언된 키가 없으면 타입별 기본값으로 채운다.
func (p *JSONParser) fillOptional(s *schema.Node, rec map[string]any) {
	for _, key := range p.opts.OptionalTopLevelKeys {
		if _, ok := rec[key]; ok {
			continue
		}
		decl, ok := s.Lookup(key)
		if !ok {
			continue
		}
		rec[key] = zeroValue(decl)
	}
}

func zeroValue(n *schema.Node) any {
	switch n.Kind {
	case schema.KindMap:
		return map[string]any{}
	case schema.KindList:
		return []any{}
	}
	switch n.Tag {
	case schema.TagInteger:
		return json.Number("0")
	case schema.TagFloat:
		return json.Number("0.0")
	case schema.TagBoolean:
		return false
	default:
		return ""
	}
}

func walkPath(doc any, path string) (any, bool) {
	for _, part := range strings.Split(path, ".") {
		m, ok := doc.(map[string]any)
		if !ok {
			return nil, false
		}
		if doc, ok = m[part]; !ok {
			return nil, false
		}
	}
	return doc, true
}

func objects(doc any) []map[string]any {
	switch t := doc.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil
			}
			out = append(out, m)
		}
		return out
	default:
		return nil
	}
}

// keysMatch 는 레코드의 키 집합이 스키마와 정확히 같은지 확인한다.
// 비어있지 않은 map 노드는 재귀적으로 비교하고, {} 와 list 는 값 모양을 보지 않는다.
func keysMatch(rec map[string]any, s *schema.Node) bool {
	if len(rec) != len(s.Fields) {
		return false
	}
	for _, f := range s.Fields {
		v, ok := rec[f.Name]
		if !ok {
			return false
		}
		if f.Node.Kind != schema.KindMap || f.Node.IsEmptyMap() {
			continue
		}
		sub, ok := v.(map[string]any)
		if !ok {
			// envelope 값은 모양이 어긋나도 허용한다 (coerce 단계에서 skip).
			if f.Name == schema.EnvelopeKey {
				continue
			}
			return false
		}
		if !keysMatch(sub, f.Node) {
			return false
		}
	}
	return true
}
