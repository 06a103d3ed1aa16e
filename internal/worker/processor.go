// Package worker drives one invocation: resolve, pre-parse and classify every
// raw record of an event, then hand valid payloads to the sinks.
package worker

import (
	"context"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/BigRLab/streamalert/internal/classifier"
	"github.com/BigRLab/streamalert/internal/config"
	"github.com/BigRLab/streamalert/internal/metrics"
	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/payload"
)

// Result 는 Run 한 번의 요약.
type Result struct {
	Records int `json:"records"` // event 의 raw record 수
	Valid   int `json:"valid"`   // 분류에 성공한 payload 수
	Failed  int `json:"failed"`  // 분류 / pre-parse 에 실패한 payload 수
}

// Processor
// ------------------------------------------------------------
// Catalog / Loader / Sink 는 공유하고, Classifier 는 Run 마다 새로 만든다
// (LoadSources 캐시가 인스턴스 상태이므로 동시 Run 끼리 공유하면 안 된다).
type Processor struct {
	catalog *config.Catalog
	loader  *payload.Loader
	sink    Sink
	metrics *metrics.Metrics
	pub     metrics.Publisher
	log     zerolog.Logger
	multi   bool
}

type ProcessorOptions struct {
	MultiSchemaMatching bool
	Metrics             *metrics.Metrics
	Publisher           metrics.Publisher
	Logger              zerolog.Logger
}

func NewProcessor(catalog *config.Catalog, loader *payload.Loader, sink Sink, opts ProcessorOptions) *Processor {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Publisher == nil {
		opts.Publisher = metrics.Nop{}
	}
	return &Processor{
		catalog: catalog,
		loader:  loader,
		sink:    sink,
		metrics: opts.Metrics,
		pub:     opts.Publisher,
		log:     opts.Logger,
		multi:   opts.MultiSchemaMatching,
	}
}

// Run
//
//  1. raw record 마다 (service, entity) 해석 → 실패하면 로그 후 다음 record
//  2. sources 선언 로드 → 실패하면 다음 record
//  3. Source 로 pre-parse, yield 된 payload 마다 분류
//  4. 유효한 payload 는 sink 로, 아니면 실패 카운트
//  5. sink flush, 총 레코드 수 / 실패 수 발행
//
// 한 record 의 실패가 다른 record 처리에 영향을 주지 않는다.
func (p *Processor) Run(ctx context.Context, ev model.Event) Result {
	res := Result{Records: len(ev.Records)}
	p.log.Debug().Int("records", res.Records).Msg("number of records")
	if res.Records == 0 {
		return res
	}

	p.pub.Put(ctx, metrics.NameTotalRecords, float64(res.Records), types.StandardUnitCount)

	logger := p.log
	cls := classifier.New(p.catalog, classifier.Options{MultiSchemaMatching: p.multi, Logger: &logger})

	perService := map[string]int{}

	for _, raw := range ev.Records {
		if ctx.Err() != nil {
			break
		}

		service, entity := classifier.ExtractServiceAndEntity(raw)
		if service == "" {
			p.log.Error().Msg("no valid service found in payload's raw record")
		}
		if entity == "" {
			p.log.Error().Str("service", service).Msg("unable to map entity from payload's raw record")
		}
		if service == "" || entity == "" {
			continue
		}

		if !cls.LoadSources(service, entity) {
			continue
		}

		src, err := p.loader.Load(service, entity, raw)
		if err != nil {
			p.log.Error().Err(err).Str("service", service).Str("entity", entity).Msg("unable to load payload")
			continue
		}

		err = src.PreParse(ctx, func(pl *model.Payload) bool {
			perService[service]++
			p.metrics.AddRecord(service)

			cls.ClassifyRecord(pl)
			if !pl.Valid {
				res.Failed++
				atomic.AddInt64(&p.metrics.FailedParses, 1)
				return ctx.Err() == nil
			}

			res.Valid++
			atomic.AddInt64(&p.metrics.ValidRecords, 1)
			if err := p.sink.Consume(ctx, pl); err != nil {
				p.log.Error().Err(err).Str("log_source", pl.LogSource).Msg("sink failed")
			}
			return ctx.Err() == nil
		})
		if err != nil {
			// 읽지 못한 envelope 도 레코드 하나로 센다 (TotalRecords = Valid + Failed).
			perService[service]++
			p.metrics.AddRecord(service)
			res.Failed++
			atomic.AddInt64(&p.metrics.FailedParses, 1)
			p.log.Error().Err(err).Str("service", service).Str("entity", entity).Msg("pre-parse failed")
		}
	}

	if err := p.sink.Flush(ctx); err != nil {
		p.log.Error().Err(err).Msg("sink flush failed")
	}

	p.log.Debug().Int("failed", res.Failed).Msg("invalid log failure count")
	p.pub.Put(ctx, metrics.NameFailedParses, float64(res.Failed), types.StandardUnitCount)

	// s3 줄 수는 payload 패키지가 객체 단위로 발행한다.
	if n := perService["kinesis"]; n > 0 {
		p.pub.Put(ctx, metrics.NameTotalKinesisRecords, float64(n), types.StandardUnitCount)
	}
	if n := perService["sns"]; n > 0 {
		p.pub.Put(ctx, metrics.NameTotalSNSRecords, float64(n), types.StandardUnitCount)
	}

	return res
}
