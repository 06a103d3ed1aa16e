package payload

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/BigRLab/streamalert/internal/metrics"
	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/pool"
)

type s3Source struct {
	p       *model.Payload
	fetcher *S3Fetcher
	metrics *metrics.Metrics
	pub     metrics.Publisher
	log     zerolog.Logger
}

func (s *s3Source) Service() string { return "s3" }

// PreParse
//
// notification 이 가리키는 객체를 내려받아 줄 단위로 yield 한다.
//   - bucket / key 는 URL 인코딩을 푼다 (%26 → &)
//   - 선언된 size 가 한도를 넘으면 다운로드 없이 ErrObjectTooLarge
//   - .gz 로 끝나는 key 는 gzip 해제
//   - 각 줄의 끝 공백은 잘라낸다. 빈 줄도 그대로 yield 된다
func (s *s3Source) PreParse(ctx context.Context, yield func(*model.Payload) bool) error {
	bucket, ok := nestedString(s.p.RawRecord, "s3", "bucket", "name")
	if !ok {
		return fmt.Errorf("%w: s3.bucket.name missing", ErrMalformedRecord)
	}
	key, ok := nestedString(s.p.RawRecord, "s3", "object", "key")
	if !ok {
		return fmt.Errorf("%w: s3.object.key missing", ErrMalformedRecord)
	}

	var err error
	if bucket, err = url.PathUnescape(bucket); err != nil {
		return fmt.Errorf("%w: bucket: %v", ErrMalformedRecord, err)
	}
	if key, err = url.PathUnescape(key); err != nil {
		return fmt.Errorf("%w: key: %v", ErrMalformedRecord, err)
	}

	size := objectSize(s.p.RawRecord)
	if s.fetcher.maxSize > 0 && size > s.fetcher.maxSize {
		return fmt.Errorf("%w: %s/%s is %d bytes", ErrObjectTooLarge, bucket, key, size)
	}

	s.log.Info().Str("bucket", bucket).Str("key", key).Int64("size", size).Msg("starting download from s3")

	start := time.Now()
	data, err := s.fetcher.FetchWithRetryCtx(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	elapsed := time.Since(start)

	s.log.Info().Dur("elapsed", elapsed).Msg("completed download")
	if s.metrics != nil {
		atomic.AddInt64(&s.metrics.S3DownloadMillis, elapsed.Milliseconds())
	}
	s.pub.Put(ctx, metrics.NameS3DownloadTime, float64(elapsed.Milliseconds()), types.StandardUnitMilliseconds)

	if strings.HasSuffix(key, ".gz") {
		if data, err = pool.Gunzip(data); err != nil {
			return fmt.Errorf("gunzip s3://%s/%s: %w", bucket, key, err)
		}
	}

	lines, err := eachLine(data, func(line []byte) bool {
		s.p.Refresh(line)
		return yield(s.p)
	})
	s.pub.Put(ctx, metrics.NameTotalS3Records, float64(lines), types.StandardUnitCount)
	return err
}

// eachLine 은 줄마다 fn 을 호출하고 처리한 줄 수를 돌려준다.
// 마지막 개행 뒤의 빈 조각은 줄로 치지 않는다.
func eachLine(data []byte, fn func([]byte) bool) (int, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	n := 0
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			n++
			if !fn(bytes.TrimRight(line, " \t\r\n")) {
				return n, nil
			}
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

func objectSize(raw map[string]any) int64 {
	v, ok := nested(raw, "s3", "object", "size")
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case int64:
		return t
	case int:
		return int64(t)
	}
	return 0
}
