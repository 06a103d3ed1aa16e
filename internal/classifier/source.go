package classifier

import "strings"

// envelopeShape 는 raw record 의 최상위 키 하나로 서비스를 식별하고
// 서비스별 규칙으로 entity 이름을 꺼낸다.
type envelopeShape struct {
	key     string
	service string
	entity  func(raw map[string]any) string
}

// 순서가 곧 우선순위다. 한 record 가 둘 이상의 shape 를 만족하면 안 되지만,
// 그런 입력이 와도 항상 앞쪽 shape 가 이긴다.
var envelopeShapes = []envelopeShape{
	{key: "kinesis", service: "kinesis", entity: kinesisEntity},
	{key: "s3", service: "s3", entity: s3Entity},
	{key: "Sns", service: "sns", entity: snsEntity},
}

// ExtractServiceAndEntity
//
// raw envelope 로부터 (service, entity) 를 구한다.
// 알려진 shape 가 없으면 ("", "") 이고, shape 는 맞지만 entity 를 꺼낼 수 없으면
// (service, "") 를 돌려준다. 둘 다 에러가 아니라 "해석 불가" 결과다.
func ExtractServiceAndEntity(raw map[string]any) (string, string) {
	for _, shape := range envelopeShapes {
		if _, ok := raw[shape.key]; ok {
			return shape.service, shape.entity(raw)
		}
	}
	return "", ""
}

// arn:aws:kinesis:us-east-1:123456789012:stream/<name>
func kinesisEntity(raw map[string]any) string {
	arn, _ := raw["eventSourceARN"].(string)
	parts := strings.Split(arn, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func s3Entity(raw map[string]any) string {
	s3, _ := raw["s3"].(map[string]any)
	bucket, _ := s3["bucket"].(map[string]any)
	name, _ := bucket["name"].(string)
	return name
}

// arn:aws:sns:us-east-1:123456789012:<topic>[:<subscription-id>]
func snsEntity(raw map[string]any) string {
	arn, _ := raw["EventSubscriptionArn"].(string)
	parts := strings.Split(arn, ":")
	if len(parts) < 6 {
		return ""
	}
	return parts[5]
}
