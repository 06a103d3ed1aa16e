package worker

import (
	"bytes"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/pool"
)

// Encoder 는 분류된 레코드 배치를 JSONL → gzip 형태로 직렬화한다.
//
// 특징:
//   - goccy/json 기반 JSON 인코딩
//   - gzip.Writer + bytes.Buffer 재사용(pool 기반)
//   - 결과는 새로운 []byte 로 복사해 호출자에게 소유권을 넘김
//     (pool 버퍼를 그대로 반환하면 다음 사용자가 덮어쓴다)
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeBatchJSONLGZ 는 레코드 하나당 한 줄의 JSON 을 쓰고 gzip 으로 압축한다.
func (e *Encoder) EncodeBatchJSONLGZ(records []model.ClassifiedRecord) ([]byte, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	defer pool.GzipPool.Put(gz)

	enc := json.NewEncoder(gz)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}

	// Close() 시 gzip footer 까지 기록된다.
	if err := gz.Close(); err != nil {
		return nil, err
	}

	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	return data, nil
}
