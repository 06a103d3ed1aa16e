// internal/payload/s3_fetcher.go
package payload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/BigRLab/streamalert/internal/config"
	"github.com/BigRLab/streamalert/internal/metrics"
)

// ObjectGetter 는 S3 클라이언트 중 GetObject 만 추린 인터페이스.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher 는 S3 notification 이 가리키는 객체를 메모리로 내려받는다.
// - 재시도(backoff)는 여기서 제어하고 SDK 재시도는 끈다 (RetryMaxAttempts=0)
// - 각 시도는 S3_TIMEOUT 을 가진다
// - S3_MAX_OBJECT_SIZE 를 넘는 객체는 재시도 없이 거절
type S3Fetcher struct {
	client  ObjectGetter
	timeout time.Duration
	retries int
	maxSize int64
	metrics *metrics.Metrics

	backoff    time.Duration
	maxBackoff time.Duration
}

func NewS3Fetcher(client ObjectGetter, cfg config.Config, m *metrics.Metrics) *S3Fetcher {
	retries := cfg.S3AppRetries
	if retries < 1 {
		retries = 1
	}
	if m == nil {
		m = metrics.New()
	}
	return &S3Fetcher{
		client:     client,
		timeout:    cfg.S3Timeout,
		retries:    retries,
		maxSize:    cfg.S3MaxObjectSize,
		metrics:    m,
		backoff:    200 * time.Millisecond,
		maxBackoff: 2 * time.Second,
	}
}

// FetchWithRetryCtx
// -----------------------
// bucket/key 객체 전체를 읽어 caller 소유의 []byte 로 돌려준다.
// - retry + exponential backoff (최대 2초)
// - shutdown-safe: ctx.Done() 시 즉시 중단
// - ErrObjectTooLarge 는 재시도하지 않는다
func (f *S3Fetcher) FetchWithRetryCtx(ctx context.Context, bucket, key string) ([]byte, error) {
	var lastErr error
	backoff := f.backoff

	for attempt := 1; attempt <= f.retries; attempt++ {

		// shutdown 체크
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		data, err := f.getObject(ctx, bucket, key)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrObjectTooLarge) {
			return nil, err
		}
		lastErr = err
		atomic.AddInt64(&f.metrics.S3GetErrorsTotal, 1)

		if attempt == f.retries {
			break
		}

		// backoff 적용
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > f.maxBackoff {
				backoff = f.maxBackoff
			}
		}
	}

	return nil, lastErr
}

// getObject
// ---------
// GetObject 1회 호출 + 본문 읽기. 시도당 timeout 적용.
func (f *S3Fetcher) getObject(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx2, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := f.client.GetObject(ctx2, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	if f.maxSize > 0 && aws.ToInt64(out.ContentLength) > f.maxSize {
		return nil, fmt.Errorf("%w: %s/%s is %d bytes", ErrObjectTooLarge, bucket, key, aws.ToInt64(out.ContentLength))
	}

	var buf bytes.Buffer
	r := io.Reader(out.Body)
	if f.maxSize > 0 {
		r = io.LimitReader(out.Body, f.maxSize+1)
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	if f.maxSize > 0 && int64(buf.Len()) > f.maxSize {
		return nil, fmt.Errorf("%w: %s/%s exceeds %d bytes", ErrObjectTooLarge, bucket, key, f.maxSize)
	}
	return buf.Bytes(), nil
}
