// internal/logger/logger.go
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/BigRLab/streamalert/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 애플리케이션 시작 시 한 번만 호출되는 로거 초기화 함수.
// 설정에 따라 '개발자용 화면' 또는 '운영용 JSON 로그'로 형태를 바꾼다.
//
//  1. 로그 포맷: LOG_PRETTY=true 면 ConsoleWriter, 아니면 stdout 으로 JSON
//  2. 공통 필드: 모든 로그에 "service", "instance" 가 붙는다
//  3. 샘플링: Debug/Info 는 LOG_SAMPLE_N 중 1개만 기록, Warn/Error 는 항상 기록
//
// 분류 실패 로그(스키마 불일치, 타입 변환 실패)는 Error 레벨이므로 샘플링되지 않는다.
func Init(cfg config.Config) {
	zlog.Logger = New(cfg, nil)

	// 표준 log 패키지 출력도 zerolog 로 보낸다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New 는 Init 과 같은 규칙으로 logger 를 만들되 전역 상태는 건드리지 않는다.
// out 이 nil 이면 stdout (또는 ConsoleWriter) 을 쓴다.
func New(cfg config.Config, out io.Writer) zerolog.Logger {
	level := ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	w := out
	if w == nil {
		if cfg.LogPretty {
			w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		} else {
			w = os.Stdout
		}
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN > 1 {
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}
	return base
}

// ParseLevel 은 알 수 없는 값이면 info 를 돌려준다.
func ParseLevel(s string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
