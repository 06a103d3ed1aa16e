package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/BigRLab/streamalert/internal/config"
	"github.com/BigRLab/streamalert/internal/metrics"
	"github.com/BigRLab/streamalert/internal/model"
)

// Sink 는 분류에 성공한 payload 를 받는 다음 단계 (rule 평가, 저장 등).
// Consume 은 S3 처럼 같은 payload 가 Refresh 되어 다시 들어올 수 있으므로
// 호출 안에서 필요한 값을 복사해야 한다.
// 여러 Run 이 동시에 호출할 수 있어야 한다.
type Sink interface {
	Consume(ctx context.Context, p *model.Payload) error
	Flush(ctx context.Context) error
}

// LogSink 는 레코드마다 JSON 한 줄을 w 에 쓴다.
type LogSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{enc: json.NewEncoder(w)}
}

func (s *LogSink) Consume(_ context.Context, p *model.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range p.Classified() {
		if err := s.enc.Encode(&rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *LogSink) Flush(context.Context) error { return nil }

// ArchiveSink
// ------------------------------------------------------------
// 분류된 레코드를 모아 ARCHIVE_BATCH_SIZE 마다 gzip JSONL 객체 하나로 S3 에 올린다.
// Flush 는 남은 배치를 올린다. 업로드 실패한 배치는 DLQ 에 저장하고,
// DLQ 가 없거나 저장도 실패하면 버리고 에러를 돌려준다.
type ArchiveSink struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	uploader *S3Uploader
	dlq      *DLQManager
	encoder  *Encoder
	log      zerolog.Logger

	mu    sync.Mutex
	batch []model.ClassifiedRecord

	now func() time.Time
}

// dlq 가 nil 이면 업로드 실패한 배치는 버린다.
func NewArchiveSink(cfg config.Config, m *metrics.Metrics, uploader *S3Uploader, dlq *DLQManager, log zerolog.Logger) *ArchiveSink {
	if cfg.ArchiveBatchSize < 1 {
		cfg.ArchiveBatchSize = 1
	}
	if m == nil {
		m = metrics.New()
	}
	return &ArchiveSink{
		cfg:      cfg,
		metrics:  m,
		uploader: uploader,
		dlq:      dlq,
		encoder:  NewEncoder(),
		log:      log,
		batch:    make([]model.ClassifiedRecord, 0, cfg.ArchiveBatchSize),
		now:      time.Now,
	}
}

func (s *ArchiveSink) Consume(ctx context.Context, p *model.Payload) error {
	s.mu.Lock()
	s.batch = append(s.batch, p.Classified()...)
	if len(s.batch) < s.cfg.ArchiveBatchSize {
		s.mu.Unlock()
		return nil
	}
	batch := s.take()
	s.mu.Unlock()

	return s.upload(ctx, batch)
}

func (s *ArchiveSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.take()
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.upload(ctx, batch)
}

// take 는 현재 batch 를 떼어내고 새 slice 로 교체한다 (재사용 금지). mu 보유 상태에서 호출.
func (s *ArchiveSink) take() []model.ClassifiedRecord {
	batch := s.batch
	s.batch = make([]model.ClassifiedRecord, 0, s.cfg.ArchiveBatchSize)
	return batch
}

func (s *ArchiveSink) upload(ctx context.Context, batch []model.ClassifiedRecord) error {
	data, err := s.encoder.EncodeBatchJSONLGZ(batch)
	if err != nil {
		return err
	}

	now := s.now()
	key := BuildS3Key(now, s.cfg.ArchivePrefix, NewFilename(now, s.cfg.InstanceID))

	if err := s.uploader.UploadBytesWithRetryCtx(ctx, key, data); err != nil {
		s.log.Error().Err(err).Str("key", key).Int("records", len(batch)).Msg("archive upload failed")
		if s.dlq == nil {
			return err
		}
		if err2 := s.dlq.Save(data, len(batch)); err2 != nil {
			s.log.Error().Err(err2).Int("records", len(batch)).Msg("local dlq save failed")
			return errors.Join(err, err2)
		}
		return nil
	}

	atomic.AddInt64(&s.metrics.ArchivedRecordsTotal, int64(len(batch)))
	s.log.Debug().Str("key", key).Int("records", len(batch)).Msg("archived classified records")
	return nil
}

// MultiSink 는 모든 sink 에 전달하고 에러를 모아서 돌려준다.
type MultiSink []Sink

func (m MultiSink) Consume(ctx context.Context, p *model.Payload) error {
	var errs []error
	for _, s := range m {
		if err := s.Consume(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
