package model

import (
	"fmt"
	"strings"
)

// Payload
// ------------------------------------------------------------
// raw envelope 하나(또는 S3 오브젝트의 한 줄)에 대한 분류 상태.
//
// 생명주기:
//   - payload 패키지가 envelope 로부터 생성하고 Refresh 로 pre-parsed 데이터를 채움
//   - classifier 가 LogSource / Type / Records / Valid 를 채움
//   - 이후 sink(rule 평가 단계)가 읽기만 한다
type Payload struct {
	Service   string         // kinesis, s3, sns
	Entity    string         // stream 이름, bucket 이름, topic 이름
	RawRecord map[string]any // 변환 전 envelope

	PreParsedRecord []byte // envelope 에서 꺼낸 실제 로그 데이터

	LogSource       string              // 매칭된 스키마 이름 (예: "cloudtrail:events")
	Type            string              // 매칭에 성공한 파서 종류 (json, csv, kv, syslog)
	Records         []Record            // 타입 변환이 끝난 레코드들
	NormalizedTypes map[string][]string // 로그 family 의 normalized type 정의
	Valid           bool
}

// NewPayload 는 아직 pre-parse 되지 않은 payload 를 만든다.
func NewPayload(service, entity string, raw map[string]any) *Payload {
	return &Payload{
		Service:   service,
		Entity:    entity,
		RawRecord: raw,
	}
}

// Refresh 는 새 데이터를 싣고 이전 분류 결과를 모두 지운다.
// S3 처럼 하나의 envelope 에서 여러 줄이 나오는 경우 같은 payload 를 재사용한다.
func (p *Payload) Refresh(data []byte) {
	p.PreParsedRecord = data
	p.LogSource = ""
	p.Type = ""
	p.Records = nil
	p.NormalizedTypes = nil
	p.Valid = false
}

// Classified 는 sink 전달용으로 레코드마다 평탄화한 복사본을 돌려준다.
func (p *Payload) Classified() []ClassifiedRecord {
	out := make([]ClassifiedRecord, 0, len(p.Records))
	for _, rec := range p.Records {
		out = append(out, ClassifiedRecord{
			Service:         p.Service,
			Entity:          p.Entity,
			LogSource:       p.LogSource,
			Type:            p.Type,
			NormalizedTypes: p.NormalizedTypes,
			Record:          rec,
		})
	}
	return out
}

func (p *Payload) String() string {
	return fmt.Sprintf("<%sPayload valid:%t log_source:%s entity:%s type:%s record:%v>",
		serviceTitle(p.Service), p.Valid, p.LogSource, p.Entity, p.Type, p.Records)
}

func serviceTitle(service string) string {
	switch service {
	case "s3":
		return "S3"
	case "sns":
		return "Sns"
	case "":
		return "Stream"
	default:
		return strings.ToUpper(service[:1]) + service[1:]
	}
}
