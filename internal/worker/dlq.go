// internal/worker/dlq.go
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/BigRLab/streamalert/internal/config"
	"github.com/BigRLab/streamalert/internal/metrics"
	"github.com/BigRLab/streamalert/internal/pool"
)

const metaSuffix = ".meta.json"

// DLQManager
// ------------------------------------------------------------
// archive 업로드에 실패한 gzip+JSONL 배치를 DLQ_DIR 에 저장하고 나중에 다시 올린다.
//   - data 파일:  <unix>_<instance>_<counter>.jsonl.gz (archive 와 같은 이름)
//   - meta 파일:  <data>.meta.json, {"num_records": N}
//
// 파일명 prefix 의 unix 초가 TTL 판단과 재업로드 파티션(dt=/hr=)의 기준이다.
type DLQManager struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	uploader *S3Uploader
	log      zerolog.Logger

	// Save 와 ProcessOneCtx 가 서로 다른 goroutine 에서 돈다 (Run 요청 vs ticker).
	mu sync.Mutex

	sizeBytes int64

	now func() time.Time
}

// NewDLQManager 는 DLQ 디렉토리를 만들고 남아있는 파일을 스캔해
// 용량 / 파일 수 지표를 복원한다. data 없이 남은 meta 파일은 지운다.
func NewDLQManager(cfg config.Config, m *metrics.Metrics, uploader *S3Uploader, log zerolog.Logger) (*DLQManager, error) {
	if err := os.MkdirAll(cfg.DLQDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq dir: %w", err)
	}
	if m == nil {
		m = metrics.New()
	}

	d := &DLQManager{
		cfg:      cfg,
		metrics:  m,
		uploader: uploader,
		log:      log.With().Str("component", "dlq").Logger(),
		now:      time.Now,
	}

	entries, err := os.ReadDir(cfg.DLQDir)
	if err != nil {
		return nil, fmt.Errorf("scan dlq dir: %w", err)
	}

	var total, count int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if strings.HasSuffix(name, metaSuffix) {
			dataName := strings.TrimSuffix(name, metaSuffix)
			if _, err := os.Stat(filepath.Join(cfg.DLQDir, dataName)); os.IsNotExist(err) {
				_ = os.Remove(filepath.Join(cfg.DLQDir, name))
			}
			continue
		}

		if info, err := e.Info(); err == nil {
			total += info.Size()
			count++
		}
	}

	d.sizeBytes = total
	atomic.AddInt64(&m.DLQSizeBytes, total)
	atomic.AddInt64(&m.DLQFilesCurrent, count)

	if count > 0 {
		d.log.Info().Int64("files", count).Int64("bytes", total).Msg("dlq restored")
	}
	return d, nil
}

// Save 는 업로드 실패한 배치를 저장한다.
// 용량을 넘으면 오래된 파일부터 지우고, 그래도 안 되면 배치를 버린다 (에러 아님).
func (d *DLQManager) Save(data []byte, numRecords int) error {
	if len(data) == 0 || numRecords <= 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	size := int64(len(data))
	if !d.ensureCapacity(size) {
		d.log.Error().Int64("bytes", size).Int("records", numRecords).Msg("dlq full, batch dropped")
		atomic.AddInt64(&d.metrics.DLQRecordsDroppedTotal, int64(numRecords))
		return nil
	}

	name := NewFilename(d.now(), d.cfg.InstanceID)
	dataPath := filepath.Join(d.cfg.DLQDir, name)

	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		return err
	}
	meta := []byte(fmt.Sprintf(`{"num_records":%d}`, numRecords))
	_ = os.WriteFile(dataPath+metaSuffix, meta, 0o600)

	d.sizeBytes += size
	atomic.AddInt64(&d.metrics.DLQSizeBytes, size)
	atomic.AddInt64(&d.metrics.DLQFilesCurrent, 1)
	atomic.AddInt64(&d.metrics.DLQRecordsEnqueuedTotal, int64(numRecords))

	d.log.Warn().Str("file", name).Int("records", numRecords).Msg("batch saved to dlq")
	return nil
}

// ensureCapacity 는 DLQMaxSizeBytes 를 넘지 않도록 오래된 파일부터 지운다. mu 보유 상태에서 호출.
func (d *DLQManager) ensureCapacity(incoming int64) bool {
	max := d.cfg.DLQMaxSizeBytes
	if max <= 0 {
		return true
	}

	for d.sizeBytes+incoming > max {
		oldest := d.pickOldest()
		if oldest == "" {
			return false
		}
		d.remove(oldest)
		atomic.AddInt64(&d.metrics.DLQFilesExpiredTotal, 1)
		d.log.Warn().Str("file", oldest).Msg("dlq capacity, removed oldest file")
	}
	return true
}

// ProcessOneCtx
//
// 가장 오래된 파일 하나를 처리한다. 처리할 파일이 없거나 재업로드에 실패하면 false.
//   - TTL 초과: 지우기만 한다
//   - 첫 줄이 JSON 인 gzip: ARCHIVE_PREFIX 로 재업로드
//   - 그 외 (깨진 파일): DLQ_PREFIX 로 그대로 올린다
//
// 업로드 실패 시 파일은 남겨두고 다음 주기에 다시 시도한다.
func (d *DLQManager) ProcessOneCtx(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	d.mu.Lock()
	name := d.pickOldest()
	if name == "" {
		d.mu.Unlock()
		return false
	}
	dataPath := filepath.Join(d.cfg.DLQDir, name)

	sec, hasTS := extractUnixFromFilename(name)
	if d.cfg.DLQMaxAge > 0 && hasTS {
		age := d.now().Sub(time.Unix(sec, 0))
		if age > d.cfg.DLQMaxAge {
			d.remove(name)
			d.mu.Unlock()
			atomic.AddInt64(&d.metrics.DLQFilesExpiredTotal, 1)
			d.log.Info().Str("file", name).Dur("age", age).Msg("dlq ttl expired, deleted")
			return true
		}
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		d.remove(name)
		d.mu.Unlock()
		d.log.Warn().Err(err).Str("file", name).Msg("dlq read failed")
		return true
	}
	numRecords := d.readNumRecords(dataPath + metaSuffix)
	d.mu.Unlock()

	ts := d.now()
	if hasTS {
		ts = time.Unix(sec, 0)
	}
	prefix := d.cfg.ArchivePrefix
	valid := validBatch(data)
	if !valid {
		prefix = d.cfg.DLQPrefix
	}
	key := BuildS3Key(ts, prefix, name)

	// 업로드 중에는 lock 을 잡지 않는다. S3 장애 시 Save 가 retry 시간만큼 막히면 안 된다.
	if err := d.uploader.UploadBytesWithRetryCtx(ctx, key, data); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("dlq reupload failed")
		return false
	}

	d.mu.Lock()
	d.remove(name)
	d.mu.Unlock()

	atomic.AddInt64(&d.metrics.DLQRecordsReuploadedTotal, numRecords)
	if valid {
		atomic.AddInt64(&d.metrics.ArchivedRecordsTotal, numRecords)
	}

	d.log.Info().Str("key", key).Int64("records", numRecords).Bool("valid", valid).Msg("dlq reupload success")
	return true
}

// Run 은 interval 마다 DLQ 를 비운다. ctx 가 끝나면 돌아온다.
func (d *DLQManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain 은 현재 DLQ 에 있는 파일 수만큼 처리하고, 재업로드가 실패하면 다음 주기로 미룬다.
func (d *DLQManager) Drain(ctx context.Context) {
	n := atomic.LoadInt64(&d.metrics.DLQFilesCurrent)
	for i := int64(0); i < n; i++ {
		if !d.ProcessOneCtx(ctx) {
			return
		}
	}
}

// remove 는 data / meta 파일을 지우고 지표를 되돌린다. mu 보유 상태에서 호출.
// 이미 지워진 파일(업로드 중 용량 정리 등)이면 지표는 건드리지 않는다.
func (d *DLQManager) remove(name string) {
	dataPath := filepath.Join(d.cfg.DLQDir, name)
	_ = os.Remove(dataPath + metaSuffix)

	info, err := os.Stat(dataPath)
	if err != nil {
		return
	}
	if err := os.Remove(dataPath); err != nil {
		return
	}
	d.sizeBytes -= info.Size()
	atomic.AddInt64(&d.metrics.DLQSizeBytes, -info.Size())
	atomic.AddInt64(&d.metrics.DLQFilesCurrent, -1)
}

// readNumRecords 는 meta 가 없거나 깨져 있으면 1 을 돌려준다.
func (d *DLQManager) readNumRecords(metaPath string) int64 {
	meta, err := os.ReadFile(metaPath)
	if err != nil {
		return 1
	}
	var v struct {
		NumRecords int64 `json:"num_records"`
	}
	if json.Unmarshal(meta, &v) != nil || v.NumRecords <= 0 {
		return 1
	}
	return v.NumRecords
}

// pickOldest 는 data 파일 중 이름순(= 시간순)으로 가장 앞선 것을 돌려준다.
// ReadDir 순서는 보장되지 않으므로 반드시 정렬한다.
func (d *DLQManager) pickOldest() string {
	entries, err := os.ReadDir(d.cfg.DLQDir)
	if err != nil {
		return ""
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "" || name[0] == '.' || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		files = append(files, name)
	}
	if len(files) == 0 {
		return ""
	}

	sort.Strings(files)
	return files[0]
}

// validBatch 는 gzip 을 풀어 첫 줄이 JSON object 인지 본다.
func validBatch(data []byte) bool {
	raw, err := pool.Gunzip(data)
	if err != nil {
		return false
	}
	line, _, _ := bytes.Cut(raw, []byte{'\n'})
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}
	var tmp map[string]any
	return json.Unmarshal(line, &tmp) == nil
}

// extractUnixFromFilename 은 "<unix>_<instance>_<counter>.jsonl.gz" 에서 unix 초를 읽는다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
