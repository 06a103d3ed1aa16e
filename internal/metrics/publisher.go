package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
)

// CloudWatch 로 발행하는 metric 이름.
const (
	NameFailedParses        = "RuleProcessorFailedParses"
	NameS3DownloadTime      = "RuleProcessorS3DownloadTime"
	NameTotalRecords        = "RuleProcessorTotalRecords"
	NameTotalS3Records      = "RuleProcessorTotalS3Records"
	NameTotalSNSRecords     = "RuleProcessorTotalSNSRecords"
	NameTotalKinesisRecords = "RuleProcessorTotalKinesisRecords"
)

var knownNames = map[string]struct{}{
	NameFailedParses:        {},
	NameS3DownloadTime:      {},
	NameTotalRecords:        {},
	NameTotalS3Records:      {},
	NameTotalSNSRecords:     {},
	NameTotalKinesisRecords: {},
}

// Publisher 는 외부 metric 저장소로 값을 보낸다.
// 실패는 내부에서 로그/카운트로 처리하고 호출자에게 돌려주지 않는다.
type Publisher interface {
	Put(ctx context.Context, name string, value float64, unit types.StandardUnit)
}

// Nop 은 아무것도 하지 않는 Publisher (METRICS_ENABLED=false).
type Nop struct{}

func (Nop) Put(context.Context, string, float64, types.StandardUnit) {}

// PutMetricDataAPI 는 CloudWatch 클라이언트 중 사용하는 부분만 추린 인터페이스.
// 테스트에서는 fake 로 대체한다.
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch
// ------------------------------------------------------------
// metric 하나를 PutMetricData 한 번으로 보낸다.
// 호출마다 timeout 을 걸어 분류 경로가 CloudWatch 지연에 묶이지 않게 한다.
type CloudWatch struct {
	client    PutMetricDataAPI
	namespace string
	timeout   time.Duration
	metrics   *Metrics
	log       zerolog.Logger

	now func() time.Time
}

func NewCloudWatch(client PutMetricDataAPI, namespace string, timeout time.Duration, m *Metrics, log zerolog.Logger) *CloudWatch {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		timeout:   timeout,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

func (c *CloudWatch) Put(ctx context.Context, name string, value float64, unit types.StandardUnit) {
	if _, ok := knownNames[name]; !ok {
		c.log.Error().Str("metric", name).Msg("metric name not defined")
		return
	}
	if !validUnit(unit) {
		c.log.Error().Str("metric", name).Str("unit", string(unit)).Msg("metric unit not defined")
		return
	}

	c.log.Debug().Str("metric", name).Float64("value", value).Msg("sending metric data to cloudwatch")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []types.MetricDatum{{
			MetricName: aws.String(name),
			Timestamp:  aws.Time(c.now().UTC()),
			Unit:       unit,
			Value:      aws.Float64(value),
		}},
	})
	if err != nil {
		if c.metrics != nil {
			atomic.AddInt64(&c.metrics.MetricPublishErrors, 1)
		}
		c.log.Error().Err(err).Str("metric", name).Float64("value", value).Msg("failed to send metric to cloudwatch")
	}
}

func validUnit(u types.StandardUnit) bool {
	for _, v := range u.Values() {
		if v == u {
			return true
		}
	}
	return false
}
