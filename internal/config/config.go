// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config
//
// 서비스 실행 시 필요한 모든 환경 변수 값을 보관하는 구조체.
// 모든 값은 프로세스 시작 시점에 Load() 에 의해 초기화되며,
// 이후에는 변경되지 않는 불변(read-only) 설정들이다.
//
// 로그 스키마 / 소스 선언(catalog)은 여기가 아니라 CONF_DIR 의 파일에서
// LoadCatalog() 로 읽는다 (catalog.go 참고).
type Config struct {

	// ---------------------------
	// AWS 기본 환경
	// ---------------------------

	AWSRegion string // AWS 리전 (예: us-east-1)

	// ---------------------------
	// 서버 식별자 / 네트워크
	// ---------------------------

	ServiceName string // 로그 / 메트릭에 붙는 서비스 이름
	InstanceID  string // 프로세스 고유 ID (호스트명 기반, 실패 시 랜덤 hex)
	HTTPAddr    string // invocation 서버 bind 주소 (예: ":8080")
	MaxBodySize int64  // 단일 invocation body 최대 크기 (바이트)

	// ---------------------------
	// 분류기
	// ---------------------------

	ConfDir string // sources.json / logs.json / types.json 위치

	// MultiSchemaMatching
	// true 면 모든 후보 스키마를 시도한 뒤 log_patterns 로 모호성을 해소한다.
	// false(기본)면 패턴까지 만족하는 첫 스키마에서 바로 멈춘다.
	MultiSchemaMatching bool

	// ---------------------------
	// S3 (notification 오브젝트 다운로드 / archive 업로드)
	// ---------------------------
	// SDK retry 는 0 으로 고정하고 재시도 횟수는 S3AppRetries 만 사용한다.

	S3MaxObjectSize int64         // 이 크기를 넘는 오브젝트는 처리하지 않음
	S3Timeout       time.Duration // 오브젝트 1개 다운로드 / 업로드 timeout
	S3AppRetries    int           // GetObject / PutObject 시도 횟수

	ArchiveBucket    string // 비어있으면 archive sink 비활성
	ArchivePrefix    string
	ArchiveBatchSize int

	// ---------------------------
	// 로컬 DLQ (Dead Letter Queue)
	// ---------------------------
	// archive 업로드에 실패한 gzip+JSONL 배치를 디스크에 두었다가 다시 올린다.

	DLQDir          string        // 비어있으면 DLQ 비활성 (실패 배치는 버림)
	DLQPrefix       string        // 깨진 DLQ 파일을 올릴 archive bucket 안의 prefix
	DLQMaxAge       time.Duration // DLQ 파일 TTL (초과 시 삭제)
	DLQMaxSizeBytes int64         // DLQ 전체 허용 용량 (바이트, 0 이하면 무제한)
	DLQInterval     time.Duration // 재업로드 주기

	// ---------------------------
	// CloudWatch 메트릭
	// ---------------------------

	MetricsEnabled   bool
	MetricsNamespace string
	MetricsTimeout   time.Duration

	// ---------------------------
	// 로깅
	// ---------------------------

	LogLevel   string // debug, info, warn, error
	LogPretty  bool   // true 면 ConsoleWriter
	LogSampleN uint32 // debug/info 샘플링 (1 이하이면 샘플링 없음)
}

// Load
//
// 환경 변수 기반으로 Config 값을 초기화한다.
// 필수 env 가 비어있거나 형식이 잘못되면 즉시 프로세스를 종료(fail-fast).
func Load() Config {
	return Config{
		AWSRegion: must("AWS_REGION"),

		ServiceName: getenv("SERVICE_NAME", "streamalert"),
		InstanceID:  fallbackInstanceID(),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		MaxBodySize: getenvInt64("MAX_BODY_SIZE", 6*1024*1024),

		ConfDir:             getenv("CONF_DIR", "conf"),
		MultiSchemaMatching: getenvBool("SUPPORT_MULTIPLE_SCHEMA_MATCHING", false),

		S3MaxObjectSize: getenvInt64("S3_MAX_OBJECT_SIZE", 128*1024*1024),
		S3Timeout:       getenvDur("S3_TIMEOUT", 60*time.Second),
		S3AppRetries:    getenvInt("S3_APP_RETRIES", 3),

		ArchiveBucket:    os.Getenv("ARCHIVE_BUCKET"),
		ArchivePrefix:    getenv("ARCHIVE_PREFIX", "classified"),
		ArchiveBatchSize: getenvInt("ARCHIVE_BATCH_SIZE", 500),

		DLQDir:          getenv("DLQ_DIR", "/var/tmp/streamalert/dlq"),
		DLQPrefix:       getenv("DLQ_PREFIX", "classified_dlq"),
		DLQMaxAge:       getenvDur("DLQ_MAX_AGE", 24*time.Hour),
		DLQMaxSizeBytes: getenvInt64("DLQ_MAX_SIZE_BYTES", 1024*1024*1024),
		DLQInterval:     getenvDur("DLQ_INTERVAL", 30*time.Second),

		MetricsEnabled:   getenvBool("METRICS_ENABLED", false),
		MetricsNamespace: getenv("METRICS_NAMESPACE", "StreamAlert"),
		MetricsTimeout:   getenvDur("METRICS_TIMEOUT", 5*time.Second),

		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogPretty:  getenvBool("LOG_PRETTY", false),
		LogSampleN: uint32(getenvInt("LOG_SAMPLE_N", 1)),
	}
}

// must
//
// 필수 환경변수가 없으면 즉시 로그 출력 후 종료(fail-fast).
func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

// getenv / getenvInt / getenvInt64 / getenvDur / getenvBool
//
// 선택 환경변수. 비어있으면 fallback 을 쓰고,
// 값이 있는데 형식이 잘못되었으면 must 계열과 동일하게 종료한다.
// (잘못된 값을 조용히 기본값으로 바꾸면 운영 중에 원인 찾기가 어렵다)
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid int64 env %s=%q: %v", key, v, err)
	}
	return n
}

func getenvDur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool env %s=%q: %v", key, v, err)
	}
	return b
}

// fallbackInstanceID
//
// 이 인스턴스를 식별하는 고유 값.
//   - 기본: hostname (ECS/Fargate에서는 task-id 형태로 고유)
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
