// Package classifier maps a raw envelope to its declared log schema and
// produces typed records for it.
package classifier

import (
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/BigRLab/streamalert/internal/config"
	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/schema"
)

// Options 는 Classifier 생성 시점에 고정되는 동작 설정.
type Options struct {
	// MultiSchemaMatching 이 true 면 구조적으로 맞는 모든 스키마를 모은 뒤
	// log_patterns 로 하나를 고른다. false 면 첫 번째로 맞는 스키마에서 멈춘다.
	MultiSchemaMatching bool

	// Logger 가 nil 이면 전역 logger 를 쓴다.
	Logger *zerolog.Logger
}

// Classifier
// ------------------------------------------------------------
// Catalog 은 읽기 전용으로 공유하지만, LoadSources 로 채우는 entity 로그 목록은
// 인스턴스 상태다. 여러 goroutine 에서 동시에 쓰려면 goroutine 마다 하나씩 만든다.
type Classifier struct {
	catalog *config.Catalog
	multi   bool
	log     zerolog.Logger

	entityLogSources []string
	entityExclude    []string
}

func New(catalog *config.Catalog, opts Options) *Classifier {
	log := zlog.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Classifier{
		catalog: catalog,
		multi:   opts.MultiSchemaMatching,
		log:     log.With().Str("component", "classifier").Logger(),
	}
}

// LoadSources
//
// service → entity 순으로 sources 선언을 찾아 entity 의 로그 목록을 캐시한다.
// 이전 호출의 목록은 항상 먼저 지운다. 실패하면 false 이고 목록은 비어 있다.
func (c *Classifier) LoadSources(service, entity string) bool {
	c.entityLogSources = c.entityLogSources[:0]
	c.entityExclude = c.entityExclude[:0]

	entities, ok := c.catalog.Sources[service]
	if !ok {
		c.log.Error().Str("service", service).Msg("service not declared in sources configuration")
		return false
	}

	decl, ok := entities[entity]
	if !ok {
		c.log.Error().Str("service", service).Str("entity", entity).
			Msg("entity not declared in sources configuration for service")
		return false
	}

	c.entityLogSources = append(c.entityLogSources, decl.Logs...)
	c.entityExclude = append(c.entityExclude, decl.Exclude...)
	return len(c.entityLogSources) > 0
}

// LogInfoForSource 는 현재 entity 에 선언된 family 에 속하는 스키마를
// logs 선언 순서대로 돌려준다. entity 의 exclude 에 이름 또는 family 가 있으면 뺀다.
func (c *Classifier) LogInfoForSource() []*config.LogSchema {
	var out []*config.LogSchema
	for _, ls := range c.catalog.Logs.All() {
		if !contains(c.entityLogSources, ls.Family()) {
			continue
		}
		if contains(c.entityExclude, ls.Name) || contains(c.entityExclude, ls.Family()) {
			continue
		}
		out = append(out, ls)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ClassifyRecord
//
// payload 를 파싱/분류해 LogSource, Type, Records, NormalizedTypes 를 채운다.
// 파싱 성공 + service / entity / type / log_source / records 가 모두 있을 때만 Valid.
func (c *Classifier) ClassifyRecord(p *model.Payload) {
	ok := c.parse(p)
	p.Valid = ok &&
		p.Service != "" &&
		p.Entity != "" &&
		p.Type != "" &&
		p.LogSource != "" &&
		len(p.Records) > 0

	if !p.Valid {
		c.log.Error().
			Str("payload", p.String()).
			Bytes("pre_parsed_record", p.PreParsedRecord).
			Msg("log failed to match any defined schemas")
		return
	}
	c.log.Debug().Str("payload", p.String()).Msg("classified record")
}

// parse
//
//  1. 후보 스키마 열거 (processLogSchemas)
//  2. 후보가 여럿이면 하나로 확정 (checkSchemaMatch)
//  3. root 스키마로 모든 레코드 타입 변환, 하나라도 실패하면 전체 실패
//  4. payload 에 결과 기록
func (c *Classifier) parse(p *model.Payload) bool {
	matches := c.processLogSchemas(p)
	if len(matches) == 0 {
		c.log.Debug().Str("entity", p.Entity).Msg("no schema matched")
		return false
	}

	m := c.checkSchemaMatch(matches)
	c.log.Debug().Str("schema", m.logName).Int("records", len(m.parsed)).Msg("schema selected")

	typed := make([]model.Record, 0, len(m.parsed))
	for _, rec := range m.parsed {
		// envelope_keys / optional_top_level_keys 가 더해지기 전의 선언 스키마를 쓴다.
		out, ok := schema.Coerce(c.log, rec, m.rootSchema)
		if !ok {
			return false
		}
		typed = append(typed, out)
	}

	p.LogSource = m.logName
	p.Type = m.parser.Kind()
	p.Records = typed
	p.NormalizedTypes = c.catalog.Types[family(m.logName)]
	return true
}

func family(logName string) string {
	f, _, _ := strings.Cut(logName, ":")
	return f
}
