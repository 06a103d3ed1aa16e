package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BigRLab/streamalert/internal/schema"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	for _, key := range []string{
		"SERVICE_NAME", "HTTP_ADDR", "MAX_BODY_SIZE", "CONF_DIR",
		"SUPPORT_MULTIPLE_SCHEMA_MATCHING", "S3_MAX_OBJECT_SIZE", "S3_TIMEOUT",
		"S3_APP_RETRIES", "ARCHIVE_BUCKET", "ARCHIVE_PREFIX", "ARCHIVE_BATCH_SIZE",
		"DLQ_DIR", "DLQ_PREFIX", "DLQ_MAX_AGE", "DLQ_MAX_SIZE_BYTES", "DLQ_INTERVAL",
		"METRICS_ENABLED", "METRICS_NAMESPACE", "METRICS_TIMEOUT",
		"LOG_LEVEL", "LOG_PRETTY", "LOG_SAMPLE_N",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "us-east-1", cfg.AWSRegion)
	assert.Equal(t, "streamalert", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "conf", cfg.ConfDir)
	assert.False(t, cfg.MultiSchemaMatching)
	assert.Equal(t, int64(128*1024*1024), cfg.S3MaxObjectSize)
	assert.Equal(t, 60*time.Second, cfg.S3Timeout)
	assert.Equal(t, 3, cfg.S3AppRetries)
	assert.Empty(t, cfg.ArchiveBucket)
	assert.Equal(t, "classified", cfg.ArchivePrefix)
	assert.Equal(t, "/var/tmp/streamalert/dlq", cfg.DLQDir)
	assert.Equal(t, "classified_dlq", cfg.DLQPrefix)
	assert.Equal(t, 24*time.Hour, cfg.DLQMaxAge)
	assert.Equal(t, 30*time.Second, cfg.DLQInterval)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "StreamAlert", cfg.MetricsNamespace)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, uint32(1), cfg.LogSampleN)
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("SUPPORT_MULTIPLE_SCHEMA_MATCHING", "true")
	t.Setenv("S3_TIMEOUT", "5s")
	t.Setenv("ARCHIVE_BUCKET", "archive")
	t.Setenv("DLQ_DIR", "/data/dlq")
	t.Setenv("DLQ_MAX_SIZE_BYTES", "1024")
	t.Setenv("METRICS_ENABLED", "1")
	t.Setenv("LOG_SAMPLE_N", "10")

	cfg := Load()

	assert.True(t, cfg.MultiSchemaMatching)
	assert.Equal(t, 5*time.Second, cfg.S3Timeout)
	assert.Equal(t, "archive", cfg.ArchiveBucket)
	assert.Equal(t, "/data/dlq", cfg.DLQDir)
	assert.Equal(t, int64(1024), cfg.DLQMaxSizeBytes)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, uint32(10), cfg.LogSampleN)
}

func writeConf(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

const validLogs = `{
  "zeta_log": {"parser": "json", "schema": {"b": "string", "a": "integer"}},
  "alpha_log:01": {"parser": "kv", "schema": {"k": "string"}, "configuration": {"delimiter": ",", "log_patterns": {"k": ["v*"]}}},
  "alpha_log:02": {"parser": "csv", "schema": {"k": "string"}}
}`

func TestLoadCatalog(t *testing.T) {
	dir := writeConf(t, map[string]string{
		"sources.json": `{"kinesis": {"stream_a": {"logs": ["alpha_log"], "exclude": ["alpha_log:02"]}}, "sns": {"topic": {"logs": ["zeta_log"]}}}`,
		"logs.json":    validLogs,
		"types.json":   `{"zeta_log": {"sourceAddress": ["a"]}}`,
	})

	c, err := LoadCatalog(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta_log", "alpha_log:01", "alpha_log:02"}, c.Logs.Names())
	assert.Equal(t, []string{"alpha_log"}, c.Sources["kinesis"]["stream_a"].Logs)
	assert.Equal(t, []string{"alpha_log:02"}, c.Sources["kinesis"]["stream_a"].Exclude)
	assert.Nil(t, c.Sources["sns"]["topic"].Exclude)
	assert.Equal(t, []string{"a"}, c.Types["zeta_log"]["sourceAddress"])

	alpha, ok := c.Logs.Get("alpha_log:01")
	require.True(t, ok)
	assert.Equal(t, "alpha_log", alpha.Family())
	assert.Equal(t, "kv", alpha.Parser)
	assert.Equal(t, ",", alpha.Configuration.Delimiter)
	assert.True(t, alpha.Configuration.LogPatterns.Match(map[string]any{"k": "value"}))

	zeta, _ := c.Logs.Get("zeta_log")
	assert.Equal(t, []string{"b", "a"}, zeta.Schema.Keys())
	assert.Equal(t, "zeta_log", zeta.Family())
}

func TestLoadCatalogTypesOptional(t *testing.T) {
	dir := writeConf(t, map[string]string{
		"sources.json": `{"s3": {"bucket": {"logs": ["zeta_log"]}}}`,
		"logs.json":    validLogs,
	})

	c, err := LoadCatalog(dir)
	require.NoError(t, err)
	assert.Nil(t, c.Types)
}

func TestLoadCatalogErrors(t *testing.T) {
	tests := []struct {
		name    string
		sources string
		logs    string
		want    string
	}{
		{
			name:    "invalid service",
			sources: `{"kinesys": {"s": {"logs": ["zeta_log"]}}}`,
			logs:    validLogs,
			want:    "sources contains invalid key(s): 'kinesys'",
		},
		{
			name:    "missing logs key",
			sources: `{"kinesis": {"s": {"exclude": []}}}`,
			logs:    validLogs,
			want:    "missing 'logs' key for entity: s",
		},
		{
			name:    "empty logs list",
			sources: `{"kinesis": {"s": {"logs": []}}}`,
			logs:    validLogs,
			want:    "list of 'logs' is empty for entity: s",
		},
		{
			name:    "missing parser",
			sources: `{"kinesis": {"s": {"logs": ["x"]}}}`,
			logs:    `{"x": {"schema": {"a": "string"}}}`,
			want:    "schema or parser missing for x",
		},
		{
			name:    "unknown parser",
			sources: `{"kinesis": {"s": {"logs": ["x"]}}}`,
			logs:    `{"x": {"parser": "xml", "schema": {"a": "string"}}}`,
			want:    "unknown parser: xml",
		},
		{
			name:    "malformed json",
			sources: `{"kinesis": {"s": {"logs": ["x"]}}}`,
			logs:    `{"x": {"parser": "json", "schema": `,
			want:    "logs.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConf(t, map[string]string{"sources.json": tt.sources, "logs.json": tt.logs})

			_, err := LoadCatalog(dir)

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCatalog), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(t.TempDir())
	assert.ErrorContains(t, err, "sources.json")
}

func TestNewLogsKeepsOrder(t *testing.T) {
	l := NewLogs(
		&LogSchema{Name: "b", Parser: "json", Schema: schema.Map()},
		&LogSchema{Name: "a", Parser: "json", Schema: schema.Map()},
	)

	assert.Equal(t, []string{"b", "a"}, l.Names())
	_, ok := l.Get("a")
	assert.True(t, ok)
	_, ok = l.Get("c")
	assert.False(t, ok)
}
