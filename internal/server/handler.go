package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/BigRLab/streamalert/internal/config"
	"github.com/BigRLab/streamalert/internal/metrics"
	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/pool"
	"github.com/BigRLab/streamalert/internal/worker"
)

// Runner 는 event 하나를 처리한다. *worker.Processor 가 구현한다.
type Runner interface {
	Run(ctx context.Context, ev model.Event) worker.Result
}

type Handler struct {
	cfg     config.Config
	metrics *metrics.Metrics
	runner  Runner
	log     zerolog.Logger
}

func NewHandler(cfg config.Config, m *metrics.Metrics, r Runner, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		metrics: m,
		runner:  r,
		log:     log,
	}
}

// Routes 는 /invoke, /metrics, /health 를 등록한 mux 를 돌려준다.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", h.HandleInvoke)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// HandleInvoke
//
// {"Records": [...]} 형태의 event 를 받아 분류하고 요약을 JSON 으로 돌려준다.
//  1. POST 만 허용
//  2. 요청 길이 제한(MaxBodySize), BodyPool 재사용
//  3. JSON 디코딩 실패 → 400
//  4. Processor.Run → 200 + Result
//
// 분류 실패는 HTTP 에러가 아니다. Result.Failed 로만 드러난다.
func (h *Handler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	defer r.Body.Close()

	buf := pool.BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBody(buf, h.cfg.MaxBodySize*2)

	if _, err := io.Copy(buf, r.Body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var ev model.Event
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		h.log.Warn().Err(err).Msg("invalid event body")
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	res := h.runner.Run(r.Context(), ev)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

// HandleMetrics 는 내부 카운터를 text 로 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}
