package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BigRLab/streamalert/internal/config"
	"github.com/BigRLab/streamalert/internal/metrics"
	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/payload"
)

type recordingSink struct {
	mu      sync.Mutex
	records []model.ClassifiedRecord
	flushes int
	err     error
}

func (s *recordingSink) Consume(_ context.Context, p *model.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, p.Classified()...)
	return s.err
}

func (s *recordingSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	values map[string]float64
}

func (r *recordingPublisher) Put(_ context.Context, name string, value float64, _ types.StandardUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = map[string]float64{}
	}
	r.values[name] = value
}

type fakePutter struct {
	mu    sync.Mutex
	keys  []string
	data  [][]byte
	fails int
	calls int
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("internal error")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.data = append(f.data, b)
	return &s3.PutObjectOutput{}, nil
}

func loadCatalog(t *testing.T) *config.Catalog {
	t.Helper()
	c, err := config.LoadCatalog("../classifier/testdata/conf")
	require.NoError(t, err)
	return c
}

func kinesisRecord(t *testing.T, stream string, data any) map[string]any {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return map[string]any{
		"eventID":        "shardId-000:1",
		"eventSourceARN": "arn:aws:kinesis:EXAMPLE/" + stream,
		"kinesis":        map[string]any{"data": base64.StdEncoding.EncodeToString(b)},
	}
}

func gunzipLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	var out []map[string]any
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func newProcessor(t *testing.T, sink Sink) (*Processor, *metrics.Metrics, *recordingPublisher, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	m := metrics.New()
	pub := &recordingPublisher{}
	log := zerolog.New(&buf)
	loader := &payload.Loader{Metrics: m, Publisher: pub, Logger: log}
	return NewProcessor(loadCatalog(t), loader, sink, ProcessorOptions{Metrics: m, Publisher: pub, Logger: log}), m, pub, &buf
}

func TestRunClassifiesRecords(t *testing.T) {
	sink := &recordingSink{}
	p, m, pub, logs := newProcessor(t, sink)

	ev := model.Event{Records: []map[string]any{
		kinesisRecord(t, "unit_test_default_stream", map[string]any{"unit_key_01": "1", "unit_key_02": "a"}),
		kinesisRecord(t, "unit_test_default_stream", map[string]any{"unit_key_01": "NotInt", "unit_key_02": "b"}),
		{
			"Sns":                  map[string]any{"Message": `{"date":"Jan 01 2017","unixtime":"1485556524","host":"h","data":{"key1":"v","key2":"1.5"},"enabled":"false"}`},
			"EventSubscriptionArn": "arn:aws:sns:us-east-1:123456789012:unit_test_topic",
		},
		{"unknown": "shape"},
		kinesisRecord(t, "unit_test_bad_stream", map[string]any{"unit_key_01": "1", "unit_key_02": "a"}),
	}}

	res := p.Run(context.Background(), ev)

	assert.Equal(t, Result{Records: 5, Valid: 2, Failed: 1}, res)
	require.Len(t, sink.records, 2)
	assert.Equal(t, "unit_test_simple_log", sink.records[0].LogSource)
	assert.Equal(t, int64(1), sink.records[0].Record["unit_key_01"])
	assert.Equal(t, "test_log_type_json_nested", sink.records[1].LogSource)
	assert.Equal(t, "sns", sink.records[1].Service)
	assert.Equal(t, map[string][]string{"sourceAddress": {"host"}}, sink.records[1].NormalizedTypes)
	assert.Equal(t, 1, sink.flushes)

	assert.Equal(t, int64(3), m.TotalRecords)
	assert.Equal(t, int64(2), m.TotalKinesisRecords)
	assert.Equal(t, int64(1), m.TotalSNSRecords)
	assert.Equal(t, int64(1), m.FailedParses)
	assert.Equal(t, int64(2), m.ValidRecords)

	assert.Equal(t, 5.0, pub.values[metrics.NameTotalRecords])
	assert.Equal(t, 1.0, pub.values[metrics.NameFailedParses])
	assert.Equal(t, 2.0, pub.values[metrics.NameTotalKinesisRecords])
	assert.Equal(t, 1.0, pub.values[metrics.NameTotalSNSRecords])

	out := logs.String()
	assert.Contains(t, out, "no valid service found in payload's raw record")
	assert.Contains(t, out, "unable to map entity from payload's raw record")
	assert.Contains(t, out, "entity not declared in sources configuration for service")
}

func TestRunEmptyEvent(t *testing.T) {
	sink := &recordingSink{}
	p, _, pub, _ := newProcessor(t, sink)

	res := p.Run(context.Background(), model.Event{})

	assert.Equal(t, Result{}, res)
	assert.Zero(t, sink.flushes)
	assert.Empty(t, pub.values)
}

func TestRunPreParseFailureCounts(t *testing.T) {
	sink := &recordingSink{}
	p, m, _, logs := newProcessor(t, sink)

	ev := model.Event{Records: []map[string]any{{
		"kinesis":        map[string]any{"data": "!!!"},
		"eventSourceARN": "arn:aws:kinesis:EXAMPLE/unit_test_default_stream",
	}}}

	res := p.Run(context.Background(), ev)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int64(1), m.FailedParses)
	assert.Equal(t, int64(1), m.TotalRecords)
	assert.Equal(t, int64(1), m.TotalKinesisRecords)
	assert.Equal(t, m.TotalRecords, m.ValidRecords+m.FailedParses)
	assert.Contains(t, logs.String(), "pre-parse failed")
}

func TestRunSinkErrorDoesNotFailRecord(t *testing.T) {
	sink := &recordingSink{err: errors.New("down")}
	p, _, _, logs := newProcessor(t, sink)

	ev := model.Event{Records: []map[string]any{
		kinesisRecord(t, "unit_test_default_stream", map[string]any{"unit_key_01": "1", "unit_key_02": "a"}),
	}}

	res := p.Run(context.Background(), ev)

	assert.Equal(t, 1, res.Valid)
	assert.Contains(t, logs.String(), "sink failed")
	assert.Contains(t, logs.String(), "sink flush failed")
}

func TestRunConcurrent(t *testing.T) {
	sink := &recordingSink{}
	p := NewProcessor(loadCatalog(t), &payload.Loader{Logger: zerolog.Nop()}, sink, ProcessorOptions{Logger: zerolog.Nop()})

	ev := model.Event{Records: []map[string]any{
		kinesisRecord(t, "unit_test_default_stream", map[string]any{"unit_key_01": "1", "unit_key_02": "a"}),
		kinesisRecord(t, "test_kv_stream", map[string]any{"ignored": true}),
	}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := p.Run(context.Background(), ev)
			assert.Equal(t, Result{Records: 2, Valid: 1, Failed: 1}, res)
		}()
	}
	wg.Wait()

	assert.Len(t, sink.records, 8)
}

func testArchiveConfig() config.Config {
	return config.Config{
		InstanceID:       "host1",
		ArchiveBucket:    "archive",
		ArchivePrefix:    "classified",
		ArchiveBatchSize: 2,
		S3Timeout:        time.Second,
		S3AppRetries:     3,
	}
}

func classifiedPayload(n int) *model.Payload {
	p := model.NewPayload("kinesis", "stream", nil)
	p.Refresh([]byte("raw"))
	p.LogSource = "unit_test_simple_log"
	p.Type = "json"
	p.Valid = true
	p.Records = []model.Record{{"unit_key_01": int64(n)}}
	return p
}

func TestArchiveSinkBatches(t *testing.T) {
	putter := &fakePutter{}
	m := metrics.New()
	cfg := testArchiveConfig()
	sink := NewArchiveSink(cfg, m, NewS3Uploader(putter, cfg, m), nil, zerolog.Nop())
	sink.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx := context.Background()
	require.NoError(t, sink.Consume(ctx, classifiedPayload(1)))
	assert.Empty(t, putter.keys)

	require.NoError(t, sink.Consume(ctx, classifiedPayload(2)))
	require.Len(t, putter.keys, 1)

	require.NoError(t, sink.Consume(ctx, classifiedPayload(3)))
	require.NoError(t, sink.Flush(ctx))
	require.Len(t, putter.keys, 2)

	// 비어 있으면 업로드하지 않는다.
	require.NoError(t, sink.Flush(ctx))
	assert.Len(t, putter.keys, 2)

	assert.True(t, strings.HasPrefix(putter.keys[0], "classified/dt=2024-01-02/hr=03/1704164645_host1_"), putter.keys[0])
	assert.True(t, strings.HasSuffix(putter.keys[0], ".jsonl.gz"))

	first := gunzipLines(t, putter.data[0])
	require.Len(t, first, 2)
	assert.Equal(t, "unit_test_simple_log", first[0]["log_source"])
	assert.Equal(t, 1.0, first[0]["record"].(map[string]any)["unit_key_01"])
	assert.Equal(t, 2.0, first[1]["record"].(map[string]any)["unit_key_01"])

	assert.Len(t, gunzipLines(t, putter.data[1]), 1)
	assert.Equal(t, int64(3), m.ArchivedRecordsTotal)
}

func newTestDLQ(t *testing.T, cfg config.Config, putter *fakePutter, m *metrics.Metrics) *DLQManager {
	t.Helper()
	u := NewS3Uploader(putter, cfg, m)
	u.backoff = time.Millisecond
	d, err := NewDLQManager(cfg, m, u, zerolog.Nop())
	require.NoError(t, err)
	return d
}

func dlqFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestArchiveSinkSavesFailedBatchToDLQ(t *testing.T) {
	putter := &fakePutter{fails: 100}
	m := metrics.New()
	cfg := testArchiveConfig()
	cfg.S3AppRetries = 1
	cfg.DLQDir = t.TempDir()
	cfg.DLQPrefix = "classified_dlq"
	cfg.DLQMaxAge = time.Hour

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	dlq := newTestDLQ(t, cfg, putter, m)
	dlq.now = func() time.Time { return fixed }

	sink := NewArchiveSink(cfg, m, NewS3Uploader(putter, cfg, m), dlq, zerolog.Nop())
	sink.now = func() time.Time { return fixed }

	ctx := context.Background()
	require.NoError(t, sink.Consume(ctx, classifiedPayload(1)))
	require.NoError(t, sink.Consume(ctx, classifiedPayload(2)))

	assert.Empty(t, putter.keys)
	assert.Len(t, dlqFiles(t, cfg.DLQDir), 2) // data + meta
	assert.Equal(t, int64(2), m.DLQRecordsEnqueuedTotal)
	assert.Equal(t, int64(1), m.DLQFilesCurrent)
	assert.Zero(t, m.ArchivedRecordsTotal)

	// S3 가 돌아오면 다음 주기에 재업로드된다.
	putter.fails = 0
	dlq.Drain(ctx)

	require.Len(t, putter.keys, 1)
	assert.True(t, strings.HasPrefix(putter.keys[0], "classified/dt=2024-01-02/hr=03/1704164645_host1_"), putter.keys[0])
	records := gunzipLines(t, putter.data[0])
	require.Len(t, records, 2)
	assert.Equal(t, "unit_test_simple_log", records[0]["log_source"])

	assert.Empty(t, dlqFiles(t, cfg.DLQDir))
	assert.Equal(t, int64(2), m.DLQRecordsReuploadedTotal)
	assert.Equal(t, int64(2), m.ArchivedRecordsTotal)
	assert.Zero(t, m.DLQFilesCurrent)
	assert.Zero(t, m.DLQSizeBytes)
}

func TestArchiveSinkWithoutDLQReturnsError(t *testing.T) {
	putter := &fakePutter{fails: 100}
	cfg := testArchiveConfig()
	cfg.S3AppRetries = 1
	sink := NewArchiveSink(cfg, nil, NewS3Uploader(putter, cfg, nil), nil, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, sink.Consume(ctx, classifiedPayload(1)))
	assert.EqualError(t, sink.Flush(ctx), "internal error")
}

func TestDLQReuploadFailureKeepsFile(t *testing.T) {
	putter := &fakePutter{fails: 100}
	m := metrics.New()
	cfg := testArchiveConfig()
	cfg.S3AppRetries = 1
	cfg.DLQDir = t.TempDir()
	d := newTestDLQ(t, cfg, putter, m)

	data, err := NewEncoder().EncodeBatchJSONLGZ(classifiedPayload(1).Classified())
	require.NoError(t, err)
	require.NoError(t, d.Save(data, 1))

	assert.False(t, d.ProcessOneCtx(context.Background()))
	assert.Len(t, dlqFiles(t, cfg.DLQDir), 2)
	assert.Equal(t, int64(1), m.DLQFilesCurrent)
	assert.Zero(t, m.DLQRecordsReuploadedTotal)
}

func TestDLQExpiredFileIsDeleted(t *testing.T) {
	putter := &fakePutter{}
	m := metrics.New()
	cfg := testArchiveConfig()
	cfg.DLQDir = t.TempDir()
	cfg.DLQMaxAge = time.Hour
	d := newTestDLQ(t, cfg, putter, m)

	saved := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	d.now = func() time.Time { return saved }
	require.NoError(t, d.Save([]byte("batch"), 3))

	d.now = func() time.Time { return saved.Add(2 * time.Hour) }
	assert.True(t, d.ProcessOneCtx(context.Background()))

	assert.Empty(t, putter.keys)
	assert.Empty(t, dlqFiles(t, cfg.DLQDir))
	assert.Equal(t, int64(1), m.DLQFilesExpiredTotal)
	assert.Zero(t, m.DLQFilesCurrent)
}

func TestDLQCorruptFileGoesToDLQPrefix(t *testing.T) {
	putter := &fakePutter{}
	m := metrics.New()
	cfg := testArchiveConfig()
	cfg.DLQDir = t.TempDir()
	cfg.DLQPrefix = "classified_dlq"
	d := newTestDLQ(t, cfg, putter, m)

	require.NoError(t, d.Save([]byte("not gzip"), 1))
	assert.True(t, d.ProcessOneCtx(context.Background()))

	require.Len(t, putter.keys, 1)
	assert.True(t, strings.HasPrefix(putter.keys[0], "classified_dlq/dt="), putter.keys[0])
	assert.Equal(t, []byte("not gzip"), putter.data[0])
	assert.Zero(t, m.ArchivedRecordsTotal)
	assert.Equal(t, int64(1), m.DLQRecordsReuploadedTotal)
}

func TestDLQCapacityDropsOldest(t *testing.T) {
	m := metrics.New()
	cfg := testArchiveConfig()
	cfg.DLQDir = t.TempDir()
	cfg.DLQMaxSizeBytes = 10
	d := newTestDLQ(t, cfg, &fakePutter{}, m)

	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	d.now = func() time.Time { return base }
	require.NoError(t, d.Save([]byte("aaaaaa"), 1))
	d.now = func() time.Time { return base.Add(time.Second) }
	require.NoError(t, d.Save([]byte("bbbbbb"), 1))

	files := dlqFiles(t, cfg.DLQDir)
	require.Len(t, files, 2)
	assert.True(t, strings.HasPrefix(files[0], "1704164646_"), files[0])
	assert.Equal(t, int64(1), m.DLQFilesExpiredTotal)
	assert.Equal(t, int64(6), m.DLQSizeBytes)

	// 한 배치가 용량보다 크면 버린다.
	require.NoError(t, d.Save([]byte("cccccccccccc"), 4))
	assert.Equal(t, int64(4), m.DLQRecordsDroppedTotal)
	assert.Empty(t, dlqFiles(t, cfg.DLQDir))
}

func TestNewDLQManagerRestoresState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1704164645_host1_000001.jsonl.gz"), []byte("12345"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1704164645_host1_000002.jsonl.gz.meta.json"), []byte(`{"num_records":1}`), 0o600))

	m := metrics.New()
	cfg := testArchiveConfig()
	cfg.DLQDir = dir
	newTestDLQ(t, cfg, &fakePutter{}, m)

	assert.Equal(t, int64(1), m.DLQFilesCurrent)
	assert.Equal(t, int64(5), m.DLQSizeBytes)
	assert.Equal(t, []string{"1704164645_host1_000001.jsonl.gz"}, dlqFiles(t, dir))
}

func TestDLQRunReuploadsOnTick(t *testing.T) {
	putter := &fakePutter{}
	m := metrics.New()
	cfg := testArchiveConfig()
	cfg.DLQDir = t.TempDir()
	d := newTestDLQ(t, cfg, putter, m)

	data, err := NewEncoder().EncodeBatchJSONLGZ(classifiedPayload(1).Classified())
	require.NoError(t, err)
	require.NoError(t, d.Save(data, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, 5*time.Millisecond)
	}()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&m.DLQRecordsReuploadedTotal) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Empty(t, dlqFiles(t, cfg.DLQDir))
}

func TestS3UploaderRetries(t *testing.T) {
	putter := &fakePutter{fails: 2}
	m := metrics.New()
	u := NewS3Uploader(putter, testArchiveConfig(), m)
	u.backoff = time.Millisecond

	require.NoError(t, u.UploadBytesWithRetryCtx(context.Background(), "k", []byte("data")))

	assert.Equal(t, 3, putter.calls)
	assert.Equal(t, int64(2), m.ArchivePutErrorsTotal)
	assert.Equal(t, []byte("data"), putter.data[0])
}

func TestS3UploaderGivesUp(t *testing.T) {
	putter := &fakePutter{fails: 10}
	u := NewS3Uploader(putter, testArchiveConfig(), nil)
	u.backoff = time.Millisecond

	err := u.UploadBytesWithRetryCtx(context.Background(), "k", []byte("data"))

	assert.EqualError(t, err, "internal error")
	assert.Equal(t, 3, putter.calls)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(&buf)

	require.NoError(t, sink.Consume(context.Background(), classifiedPayload(7)))
	require.NoError(t, sink.Flush(context.Background()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got))
	assert.Equal(t, "kinesis", got["service"])
	assert.Equal(t, "stream", got["entity"])
	assert.Equal(t, "json", got["type"])
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("boom")}
	ms := MultiSink{bad, ok}

	err := ms.Consume(context.Background(), classifiedPayload(1))

	assert.ErrorContains(t, err, "boom")
	assert.Len(t, ok.records, 1)

	assert.ErrorContains(t, ms.Flush(context.Background()), "boom")
	assert.Equal(t, 1, ok.flushes)
}

func TestBuildS3Key(t *testing.T) {
	now := time.Date(2024, 12, 31, 23, 59, 0, 0, time.FixedZone("KST", 9*3600))

	key := BuildS3Key(now, "p", "f.jsonl.gz")

	assert.Equal(t, "p/dt=2024-12-31/hr=14/f.jsonl.gz", key)
}
