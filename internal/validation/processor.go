package validation

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/observability/alerting"
	"Behavior-Chain/internal/proofs"
	"Behavior-Chain/pkg/logger"
)

// Scorer 对一次验证请求打分。
type Scorer func(req proofs.ValidationRequest) (proofs.ValidationResponse, error)

// Observer 接收每次处理的结果，通常由指标模块实现。
type Observer interface {
	ObserveValidation(outcome string, elapsed time.Duration)
}

// Outcomes reported to the Observer.
const (
	OutcomeValid     = "valid"
	OutcomeInvalid   = "invalid"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Processor 负责从队列消费请求并完成评分。
type Processor struct {
	scorer      Scorer
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	observer    Observer
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = dispatcher }
}

// WithObserver 配置结果观察者。
func WithObserver(observer Observer) ProcessorOption {
	return func(p *Processor) { p.observer = observer }
}

// WithScorer 替换默认评分函数。
func WithScorer(scorer Scorer) ProcessorOption {
	return func(p *Processor) {
		if scorer != nil {
			p.scorer = scorer
		}
	}
}

// NewProcessor 构造 Processor，默认使用 proofs.Score 评分。
func NewProcessor(store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		scorer:      proofs.Score,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置验证请求消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func parseRequestID(raw string) (common.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("request id must be %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

func (p *Processor) handle(ctx context.Context, raw string) error {
	if p.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	id, err := parseRequestID(raw)
	if err != nil {
		logger.L().Warn("丢弃无法解析的请求 ID", slog.String("request_id", raw), slog.Any("error", err))
		return nil
	}
	req, err := p.store.Claim(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrRequestNotFound) || stdErrors.Is(err, ErrRequestCompleted) || stdErrors.Is(err, ErrRequestExhausted) {
			p.logDebug("跳过验证请求", slog.String("request_id", raw), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取验证请求失败", slog.Any("error", err), slog.String("request_id", raw))
		p.emitAlert(ctx, &Request{ID: id}, CodeRequestProcessing, err, "claim")
		return err
	}

	started := time.Now()
	resp, scoreErr := p.scorer(req.Scoring())
	if scoreErr != nil {
		return p.handleScoreFailure(ctx, req, resp, scoreErr, started)
	}

	if err := p.store.MarkSucceeded(ctx, req.ID, resp); err != nil {
		p.observe(OutcomeError, started)
		logger.L().Error("记录评分结果失败", slog.Any("error", err), slog.String("request_id", raw))
		return p.retry(ctx, req, xerrors.Wrap(CodeRequestProcessing, err, "记录评分结果失败"))
	}

	outcome := OutcomeInvalid
	if resp.Valid() {
		outcome = OutcomeValid
	}
	p.observe(outcome, started)
	logger.Audit().Info("验证请求评分完成",
		slog.String("request_id", raw),
		slog.String("agent_id", req.AgentID.Hex()),
		slog.Uint64("score", uint64(resp.Score)),
		slog.String("metadata", resp.Metadata),
		slog.Int("attempts", req.Attempts),
	)
	return nil
}

// handleScoreFailure records a proof that could not be decoded. Such
// requests never succeed on retry.
func (p *Processor) handleScoreFailure(ctx context.Context, req *Request, resp proofs.ValidationResponse, cause error, started time.Time) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeRequestProcessing
	}
	if !xerrors.RetryableError(cause) {
		p.observe(OutcomeMalformed, started)
		if err := p.store.MarkFailed(ctx, req.ID, code, cause.Error(), &resp, true); err != nil {
			logger.L().Error("标记验证请求失败状态出错", slog.Any("error", err), slog.String("request_id", req.ID.Hex()))
			return err
		}
		logger.Audit().Warn("验证请求被拒绝",
			slog.String("request_id", req.ID.Hex()),
			slog.String("agent_id", req.AgentID.Hex()),
			slog.String("error_code", string(code)),
			slog.String("error", cause.Error()),
		)
		p.emitAlert(ctx, req, code, cause, "terminal")
		return nil
	}
	p.observe(OutcomeError, started)
	return p.retry(ctx, req, cause)
}

// retry marks a retryable failure and republishes the request until its
// attempts run out.
func (p *Processor) retry(ctx context.Context, req *Request, cause error) error {
	code := xerrors.CodeOf(cause)
	terminal := req.Attempts >= req.MaxRetries
	if err := p.store.MarkFailed(ctx, req.ID, code, cause.Error(), nil, terminal); err != nil {
		logger.L().Error("标记验证请求失败状态出错", slog.Any("error", err), slog.String("request_id", req.ID.Hex()))
		return err
	}
	stage := "retry"
	if terminal {
		stage = "exhausted"
	}
	p.emitAlert(ctx, req, code, cause, stage)
	if terminal {
		return nil
	}
	if p.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置验证请求生产者")
	}
	if err := p.producer.Publish(ctx, req.ID.Hex()); err != nil {
		return xerrors.Wrap(CodeRequestPublish, err, fmt.Sprintf("验证请求 %s 重投失败", req.ID.Hex()))
	}
	p.logDebug("验证请求已重新排队", slog.String("request_id", req.ID.Hex()), slog.Int("attempts", req.Attempts))
	return nil
}

func (p *Processor) observe(outcome string, started time.Time) {
	if p.observer != nil {
		p.observer.ObserveValidation(outcome, time.Since(started))
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, req *Request, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || req == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		RequestID:  req.ID.Hex(),
		Attempts:   req.Attempts,
		MaxRetries: req.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("request_id", req.ID.Hex()),
			slog.String("stage", stage),
		)
	}
}
