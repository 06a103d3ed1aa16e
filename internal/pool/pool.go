package pool

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 분류 서버는 요청마다 body 읽기, kinesis 데이터 압축 해제,
// archive 배치 gzip 인코딩 등 임시 버퍼 할당이 빈번하다.
// 아래 Pool 들은 GC 부담을 줄이기 위한 재사용 풀이다.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - /invoke POST body 를 임시 저장하는 버퍼
	//   - 초기 용량 16KB (Records 몇 개짜리 이벤트는 여기에 수용됨)
	//   - 너무 큰 버퍼는 caller(maxCap 조건)에서 재사용하지 않음
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 16*1024))
		},
	}

	// BufferPool:
	//   - gzip 인코딩/디코딩 결과를 담는 임시 버퍼
	//   - 1MB 초과 버퍼는 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 64*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용, BestSpeed
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}

	// GzipReaderPool:
	//   - gzip.Reader 재사용. 사용 전 반드시 Reset 해야 한다.
	GzipReaderPool = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}
)

// Pool에 되돌려줄 최대 버퍼 용량
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// PutBody:
//   - maxCap(보통 MaxBodySize*2)보다 크면 버려서 GC로.
func PutBody(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}

// PutBuffer:
//   - 1MB 이하이면 풀에 재사용
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// Gunzip 은 data 를 풀의 gzip.Reader 로 압축 해제해 caller 소유의 새 slice 로 돌려준다.
func Gunzip(data []byte) ([]byte, error) {
	zr := GzipReaderPool.Get().(*gzip.Reader)
	defer GzipReaderPool.Put(zr)

	if err := zr.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	defer zr.Close()

	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer PutBuffer(buf)

	if _, err := io.Copy(buf, zr); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
