// internal/model/event.go
package model

// Event
// ------------------------------------------------------------
// 한 번의 invocation 으로 전달되는 AWS 이벤트 묶음.
// Records 의 각 원소는 S3 / Kinesis / SNS 중 하나의 envelope 형태를 가진다.
// 원소 간에는 서로 영향을 주지 않으며 하나씩 독립적으로 분류된다.
type Event struct {
	Records []map[string]any `json:"Records"`
}

// Record 는 파서가 만들어 낸 필드 이름 → 값 매핑이다.
// alias 로 선언하여 schema 패키지의 map[string]any 와 그대로 호환된다.
type Record = map[string]any

// ClassifiedRecord
// ------------------------------------------------------------
// 분류가 끝난 레코드 1건을 sink 로 넘길 때 쓰는 평탄화된 형태.
// payload 는 S3 라인마다 재사용되므로 sink 는 반드시 이 값으로 복사해서 보관한다.
type ClassifiedRecord struct {
	Service         string              `json:"service"`
	Entity          string              `json:"entity"`
	LogSource       string              `json:"log_source"`
	Type            string              `json:"type"`
	NormalizedTypes map[string][]string `json:"normalized_types,omitempty"`
	Record          Record              `json:"record"`
}
