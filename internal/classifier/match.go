package classifier

import (
	"strings"

	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/parser"
	"github.com/BigRLab/streamalert/internal/schema"
)

// schemaMatch 는 한 번의 분류 호출 안에서만 쓰이는 후보 하나.
type schemaMatch struct {
	logName    string
	rootSchema *schema.Node
	parser     parser.Parser
	parsed     []model.Record
}

// processLogSchemas
//
// entity 에 선언된 스키마를 선언 순서대로 시도한다.
//   - single 모드: 파싱 결과가 log_patterns 를 모두 통과하는 첫 스키마에서 바로 반환
//   - multi 모드: 파싱 결과가 있는 모든 스키마를 모아서 반환 (pattern 검사는 나중에)
func (c *Classifier) processLogSchemas(p *model.Payload) []schemaMatch {
	var matches []schemaMatch

	for _, ls := range c.LogInfoForSource() {
		kind := p.Type
		if kind == "" {
			kind = ls.Parser
		}

		prs, err := parser.New(kind, ls.Configuration)
		if err != nil {
			c.log.Error().Err(err).Str("schema", ls.Name).Msg("unable to build parser")
			continue
		}

		c.log.Debug().Str("schema", ls.Name).Msg("trying schema")
		parsed := prs.Parse(ls.Schema, p.PreParsedRecord)
		if len(parsed) == 0 {
			continue
		}
		c.log.Debug().Str("schema", ls.Name).Int("records", len(parsed)).Msg("parsed records")

		m := schemaMatch{logName: ls.Name, rootSchema: ls.Schema, parser: prs, parsed: parsed}
		if c.multi {
			matches = append(matches, m)
			continue
		}

		if allMatchPatterns(m) {
			return []schemaMatch{m}
		}
	}
	return matches
}

// checkSchemaMatch
//
// 후보 중 하나를 확정한다. matches 는 비어 있으면 안 된다.
//   - 후보가 하나이거나 single 모드: 첫 후보
//   - log_patterns 통과 후보가 정확히 하나: 그 후보
//   - 통과 후보가 여럿: 에러 로그 후 통과 후보 중 첫 번째
//   - 통과 후보가 없음: 에러 로그 후 전체 후보 중 첫 번째
//
// 어느 경우든 선언 순서상 앞선 후보가 이긴다.
func (c *Classifier) checkSchemaMatch(matches []schemaMatch) schemaMatch {
	if len(matches) == 1 || !c.multi {
		return matches[0]
	}

	var survivors []schemaMatch
	for _, m := range matches {
		if allMatchPatterns(m) {
			survivors = append(survivors, m)
			continue
		}
		c.log.Debug().Str("schema", m.logName).Msg("log pattern matching failed")
	}

	if len(survivors) > 0 {
		if len(survivors) > 1 {
			c.log.Error().Str("schemas", joinNames(survivors)).Msg("log patterns matched for multiple schemas")
			c.log.Error().Str("schema", survivors[0].logName).Msg("proceeding with schema")
		}
		return survivors[0]
	}

	// TODO: make the zero-survivor fallback configurable (drop vs. first candidate)
	c.log.Error().Str("schemas", joinNames(matches)).Msg("log classification matched for multiple schemas")
	c.log.Error().Str("schema", matches[0].logName).Msg("proceeding with schema")
	return matches[0]
}

func allMatchPatterns(m schemaMatch) bool {
	patterns := m.parser.Options().LogPatterns
	for _, rec := range m.parsed {
		if !m.parser.MatchedLogPattern(rec, patterns) {
			return false
		}
	}
	return true
}

func joinNames(matches []schemaMatch) string {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.logName)
	}
	return strings.Join(names, ", ")
}
