// internal/worker/s3_uploader.go
package worker

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/BigRLab/streamalert/internal/config"
	"github.com/BigRLab/streamalert/internal/metrics"
)

// ObjectPutter 는 S3 클라이언트 중 PutObject 만 추린 인터페이스.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader 는 archive 배치(JSONL.gz)를 ARCHIVE_BUCKET 으로 올린다.
// SDK 재시도는 끄고(RetryMaxAttempts=0) 여기서 retry/backoff 를 제어한다.
type S3Uploader struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  ObjectPutter

	backoff    time.Duration
	maxBackoff time.Duration
}

func NewS3Uploader(client ObjectPutter, cfg config.Config, m *metrics.Metrics) *S3Uploader {
	if m == nil {
		m = metrics.New()
	}
	return &S3Uploader{
		cfg:        cfg,
		metrics:    m,
		client:     client,
		backoff:    200 * time.Millisecond,
		maxBackoff: 2 * time.Second,
	}
}

// UploadBytesWithRetryCtx
// -----------------------
// 메모리에 있는 gzip+JSONL 바이트를 업로드한다.
// - 각 시도는 S3_TIMEOUT
// - retry + exponential backoff (최대 2초)
// - shutdown-safe: ctx.Done() 시 즉시 중단
//
// body 는 매 재시도마다 reader 를 새로 만들어야 하므로 bytes.NewReader 사용.
func (u *S3Uploader) UploadBytesWithRetryCtx(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := u.backoff

	retries := u.cfg.S3AppRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {

		// shutdown 체크
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := u.putObject(ctx, key, body)
		if err == nil {
			return nil
		}
		lastErr = err
		atomic.AddInt64(&u.metrics.ArchivePutErrorsTotal, 1)

		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > u.maxBackoff {
				backoff = u.maxBackoff
			}
		}
	}

	return lastErr
}

// putObject 는 PutObject 1회 호출. 시도당 timeout 적용.
func (u *S3Uploader) putObject(ctx context.Context, key string, body []byte) error {
	ctx2, cancel := context.WithTimeout(ctx, u.cfg.S3Timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:          aws.String(u.cfg.ArchiveBucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}
