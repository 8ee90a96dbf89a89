package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"Behavior-Chain/internal/observability/metrics"
	"Behavior-Chain/internal/pattern"
	"Behavior-Chain/internal/recorder"
	bundlecache "Behavior-Chain/internal/storage/redis"
	"Behavior-Chain/internal/symbol"
	"Behavior-Chain/internal/validation"
)

const maxBodyBytes = 4 << 20

// Options 汇集 API 依赖的组件。为 nil 的组件对应的接口返回 503。
type Options struct {
	Recorder      *recorder.Recorder
	Cache         bundlecache.BundleCache
	Validations   *validation.Service
	Dictionary    *symbol.Dictionary
	Parser        *pattern.Parser
	Metrics       *metrics.Registry
	CORSOrigins   []string
	RateLimit     rate.Limit
	RateBurst     int
	VerifyWorkers int
	Clock         func() time.Time
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	opts    Options
	limiter *rate.Limiter
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts Options) *Server {
	if opts.Parser == nil {
		opts.Parser = pattern.NewParser()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.VerifyWorkers <= 0 {
		opts.VerifyWorkers = 4
	}
	s := &Server{addr: addr, opts: opts}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return s
}

// Handler 返回带完整中间件链的路由。
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agents/", s.handleAgentEvents)
	mux.HandleFunc("/api/v1/proofs", s.handleGenerateProof)
	mux.HandleFunc("/api/v1/proofs/verify", s.handleVerifyProof)
	mux.HandleFunc("/api/v1/proofs/verify/batch", s.handleVerifyBatch)
	mux.HandleFunc("/api/v1/proofs/", s.handleProofDetail)
	mux.HandleFunc("/api/v1/blocks/proofs", s.handleBlockProof)
	mux.HandleFunc("/api/v1/logs/symbols", s.handleDecodeLogs)
	mux.HandleFunc("/api/v1/patterns/parse", s.handleParsePattern)
	mux.HandleFunc("/api/v1/validations", s.handleValidations)
	mux.HandleFunc("/api/v1/validations/", s.handleValidationDetail)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = withContext(ctx, handler)
	handler = s.withRateLimit(handler)
	handler = withCORS(s.opts.CORSOrigins, handler)
	handler = withMetrics(s.opts.Metrics, handler)
	return handler
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) now(unix int64) time.Time {
	if unix > 0 {
		return time.Unix(unix, 0)
	}
	return s.opts.Clock()
}
