package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/BigRLab/streamalert/internal/config"
	"github.com/BigRLab/streamalert/internal/logger"
	"github.com/BigRLab/streamalert/internal/metrics"
	"github.com/BigRLab/streamalert/internal/payload"
	"github.com/BigRLab/streamalert/internal/server"
	"github.com/BigRLab/streamalert/internal/worker"
)

func main() {

	// ====================================================================
	// CPU 설정 (Fargate vCPU 특성 대응)
	// ====================================================================
	//
	// GOMAXPROCS 를 vCPU 수에 맞춘다. 지정이 없으면 1.
	// ====================================================================
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	} else {
		runtime.GOMAXPROCS(1)
	}

	// ====================================================================
	// Config, Logger, Metrics
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)
	m := metrics.New()

	// ====================================================================
	// Catalog (sources.json / logs.json / types.json)
	// ====================================================================
	//
	// 선언 오류는 레코드 하나의 문제가 아니라 배포 문제이므로 여기서 종료한다.
	// ====================================================================
	catalog, err := config.LoadCatalog(cfg.ConfDir)
	if err != nil {
		log.Fatal().Err(err).Str("conf_dir", cfg.ConfDir).Msg("failed to load catalog")
	}
	log.Info().Strs("logs", catalog.Logs.Names()).Msg("catalog loaded")

	// ====================================================================
	// AWS 클라이언트
	// ====================================================================
	//
	// S3 는 SDK 재시도를 끄고(RetryMaxAttempts=0) 애플리케이션 레벨에서
	// retry/backoff 를 제어한다 (payload.S3Fetcher, worker.S3Uploader).
	// ====================================================================
	awsCfg, err := config.LoadAWS(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load aws config")
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	var pub metrics.Publisher = metrics.Nop{}
	if cfg.MetricsEnabled {
		pub = metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.MetricsNamespace, cfg.MetricsTimeout, m, log.Logger)
	}

	// ====================================================================
	// Sink: 항상 stdout JSONL, ARCHIVE_BUCKET 이 있으면 S3 archive 추가
	// ====================================================================
	//
	// 업로드 실패 배치는 DLQ_DIR 에 쌓였다가 DLQ_INTERVAL 마다 다시 올라간다.
	// ====================================================================
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	sinks := worker.MultiSink{worker.NewLogSink(os.Stdout)}
	if cfg.ArchiveBucket != "" {
		uploader := worker.NewS3Uploader(s3Client, cfg, m)

		var dlq *worker.DLQManager
		if cfg.DLQDir != "" {
			dlq, err = worker.NewDLQManager(cfg, m, uploader, log.Logger)
			if err != nil {
				log.Fatal().Err(err).Str("dlq_dir", cfg.DLQDir).Msg("failed to init dlq")
			}
			go dlq.Run(bgCtx, cfg.DLQInterval)
		}
		sinks = append(sinks, worker.NewArchiveSink(cfg, m, uploader, dlq, log.Logger))
	}

	loader := &payload.Loader{
		S3:        payload.NewS3Fetcher(s3Client, cfg, m),
		Metrics:   m,
		Publisher: pub,
		Logger:    log.Logger,
	}

	proc := worker.NewProcessor(catalog, loader, sinks, worker.ProcessorOptions{
		MultiSchemaMatching: cfg.MultiSchemaMatching,
		Metrics:             m,
		Publisher:           pub,
		Logger:              log.Logger,
	})

	// ====================================================================
	// HTTP 서버
	// ====================================================================
	//
	// 엔드포인트:
	//  - /invoke  : event 분류 (핵심)
	//  - /metrics : 운영 지표 확인
	//  - /health  : ALB Target Group Health check용
	//
	// S3 객체 다운로드가 포함될 수 있으므로 WriteTimeout 은 S3_TIMEOUT 기준으로 잡는다.
	// ====================================================================
	h := server.NewHandler(cfg, m, proc, log.Logger)

	writeTimeout := cfg.S3Timeout*time.Duration(cfg.S3AppRetries+1) + 10*time.Second
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      h.Routes(),
		ReadTimeout:  8 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// ====================================================================
	// Graceful Shutdown (ECS/Fargate scale-in 대응)
	// ====================================================================
	//
	// SIGTERM 수신 시 HTTP 서버를 멈추고 진행 중인 요청이 끝날 때까지 기다린다.
	// 진행 중인 Run 은 각자 sink flush 까지 마친다.
	// ====================================================================
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}

		// DLQ 재업로드 중단. 남은 파일은 다음 기동 시 복원된다.
		bgCancel()
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Bool("multi_schema_matching", cfg.MultiSchemaMatching).Msg("classifier server listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server terminated")
	}

	<-done
	log.Info().Msg("shutdown complete")
}
