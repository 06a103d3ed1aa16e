// Package payload turns a raw event record into one or more pre-parsed payloads.
package payload

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/BigRLab/streamalert/internal/metrics"
	"github.com/BigRLab/streamalert/internal/model"
)

var (
	// ErrUnsupportedService 는 kinesis / s3 / sns 외의 서비스를 받았을 때.
	ErrUnsupportedService = errors.New("unsupported service")

	// ErrMalformedRecord 는 envelope 에서 로그 데이터를 꺼낼 수 없을 때.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrObjectTooLarge 는 S3 객체가 S3_MAX_OBJECT_SIZE 를 넘을 때.
	ErrObjectTooLarge = errors.New("s3 object too large")
)

// Source 는 raw record 하나에서 나오는 payload 들을 차례로 yield 한다.
// S3 는 객체의 줄마다 같은 *model.Payload 를 Refresh 해서 넘기므로,
// yield 안에서 필요한 값은 바로 복사해야 한다.
// yield 가 false 를 돌려주면 즉시 멈춘다.
type Source interface {
	Service() string
	PreParse(ctx context.Context, yield func(*model.Payload) bool) error
}

// Loader 는 서비스 이름에 맞는 Source 를 만든다.
type Loader struct {
	S3        *S3Fetcher        // nil 이면 s3 record 는 에러
	Metrics   *metrics.Metrics  // nil 허용
	Publisher metrics.Publisher // nil 이면 발행하지 않음
	Logger    zerolog.Logger
}

// Load 는 (service, entity) 가 이미 해석된 raw record 의 Source 를 돌려준다.
func (l *Loader) Load(service, entity string, raw map[string]any) (Source, error) {
	p := model.NewPayload(service, entity, raw)

	switch service {
	case "kinesis":
		return &kinesisSource{p: p, log: l.Logger}, nil
	case "sns":
		return &snsSource{p: p, log: l.Logger}, nil
	case "s3":
		if l.S3 == nil {
			return nil, fmt.Errorf("%w: s3 fetcher not configured", ErrUnsupportedService)
		}
		pub := l.Publisher
		if pub == nil {
			pub = metrics.Nop{}
		}
		return &s3Source{p: p, fetcher: l.S3, metrics: l.Metrics, pub: pub, log: l.Logger}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedService, service)
	}
}

func nested(raw map[string]any, keys ...string) (any, bool) {
	var cur any = raw
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func nestedString(raw map[string]any, keys ...string) (string, bool) {
	v, ok := nested(raw, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
