package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 분류 파이프라인 상태를 나타내는 카운터 모음이다.
// 모든 필드는 atomic 으로만 접근한다.
type Metrics struct {
	// ======================
	// 입력 레벨 지표
	// ======================

	// TotalRecords
	// - 분류를 시도한 레코드 수 (서비스 무관).
	// - S3 의 경우 "객체" 가 아니라 객체 안의 "줄" 단위로 센다.
	TotalRecords int64

	// TotalKinesisRecords / TotalS3Records / TotalSNSRecords
	// - TotalRecords 를 서비스별로 나눈 값.
	TotalKinesisRecords int64
	TotalS3Records      int64
	TotalSNSRecords     int64

	// ======================
	// 분류 결과 지표
	// ======================

	// FailedParses
	// - 어떤 스키마로도 분류되지 못했거나 타입 변환에 실패한 레코드 수.
	// - 비율: 이 값 / TotalRecords → 스키마 선언이 실제 로그와 얼마나 어긋나는지.
	FailedParses int64

	// ValidRecords
	// - 분류에 성공한 레코드 수. TotalRecords = ValidRecords + FailedParses 가 되어야 한다.
	ValidRecords int64

	// ======================
	// S3 / 발행 지표
	// ======================

	// S3DownloadMillis
	// - S3 GetObject + 본문 읽기에 걸린 누적 시간(ms).
	S3DownloadMillis int64

	// S3GetErrorsTotal
	// - S3 GetObject "시도" 실패 횟수. retry 마다 증가한다.
	S3GetErrorsTotal int64

	// ArchivedRecordsTotal / ArchivePutErrorsTotal
	// - 분류 결과를 S3 archive 로 저장한 레코드 수와 PutObject 시도 실패 횟수.
	ArchivedRecordsTotal  int64
	ArchivePutErrorsTotal int64

	// ======================
	// DLQ 지표
	// ======================

	// DLQSizeBytes / DLQFilesCurrent
	// - 현재 로컬 DLQ 에 남아있는 data 파일의 총 바이트 수와 개수.
	DLQSizeBytes    int64
	DLQFilesCurrent int64

	// DLQRecordsEnqueuedTotal
	// - archive 업로드 실패로 DLQ 에 저장된 레코드 수의 누적 합.
	DLQRecordsEnqueuedTotal int64

	// DLQRecordsReuploadedTotal
	// - DLQ 에서 다시 archive 로 올라간 레코드 수. Enqueued 와 차이가 크면 복구가 밀리고 있다.
	DLQRecordsReuploadedTotal int64

	// DLQRecordsDroppedTotal / DLQFilesExpiredTotal
	// - 용량 부족으로 저장하지 못한 레코드 수, TTL 또는 용량 정리로 지운 파일 수.
	DLQRecordsDroppedTotal int64
	DLQFilesExpiredTotal   int64

	// MetricPublishErrors
	// - CloudWatch PutMetricData 실패 횟수. 발행 실패는 분류 결과에 영향을 주지 않는다.
	MetricPublishErrors int64
}

func New() *Metrics {
	return &Metrics{}
}

// AddRecord 는 서비스별 카운터와 TotalRecords 를 함께 올린다.
func (m *Metrics) AddRecord(service string) {
	atomic.AddInt64(&m.TotalRecords, 1)
	switch service {
	case "kinesis":
		atomic.AddInt64(&m.TotalKinesisRecords, 1)
	case "s3":
		atomic.AddInt64(&m.TotalS3Records, 1)
	case "sns":
		atomic.AddInt64(&m.TotalSNSRecords, 1)
	}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "total_records=%d\n", atomic.LoadInt64(&m.TotalRecords))
	fmt.Fprintf(&sb, "total_kinesis_records=%d\n", atomic.LoadInt64(&m.TotalKinesisRecords))
	fmt.Fprintf(&sb, "total_s3_records=%d\n", atomic.LoadInt64(&m.TotalS3Records))
	fmt.Fprintf(&sb, "total_sns_records=%d\n", atomic.LoadInt64(&m.TotalSNSRecords))

	fmt.Fprintf(&sb, "failed_parses=%d\n", atomic.LoadInt64(&m.FailedParses))
	fmt.Fprintf(&sb, "valid_records=%d\n", atomic.LoadInt64(&m.ValidRecords))

	fmt.Fprintf(&sb, "s3_download_millis=%d\n", atomic.LoadInt64(&m.S3DownloadMillis))
	fmt.Fprintf(&sb, "s3_get_errors_total=%d\n", atomic.LoadInt64(&m.S3GetErrorsTotal))
	fmt.Fprintf(&sb, "archived_records_total=%d\n", atomic.LoadInt64(&m.ArchivedRecordsTotal))
	fmt.Fprintf(&sb, "archive_put_errors_total=%d\n", atomic.LoadInt64(&m.ArchivePutErrorsTotal))

	fmt.Fprintf(&sb, "dlq_size_bytes=%d\n", atomic.LoadInt64(&m.DLQSizeBytes))
	fmt.Fprintf(&sb, "dlq_files_current=%d\n", atomic.LoadInt64(&m.DLQFilesCurrent))
	fmt.Fprintf(&sb, "dlq_records_enqueued_total=%d\n", atomic.LoadInt64(&m.DLQRecordsEnqueuedTotal))
	fmt.Fprintf(&sb, "dlq_records_reuploaded_total=%d\n", atomic.LoadInt64(&m.DLQRecordsReuploadedTotal))
	fmt.Fprintf(&sb, "dlq_records_dropped_total=%d\n", atomic.LoadInt64(&m.DLQRecordsDroppedTotal))
	fmt.Fprintf(&sb, "dlq_files_expired_total=%d\n", atomic.LoadInt64(&m.DLQFilesExpiredTotal))

	fmt.Fprintf(&sb, "metric_publish_errors=%d\n", atomic.LoadInt64(&m.MetricPublishErrors))

	return sb.String()
}
