package validation

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/pkg/logger"
)

// SubmitRequest 是客户端提交的验证请求。RequestID 为空时自动生成。
type SubmitRequest struct {
	RequestID common.Hash    `json:"request_id"`
	AgentID   common.Address `json:"agent_id"`
	ProofData hexutil.Bytes  `json:"proof_data"`
	Timestamp uint64         `json:"timestamp"`
}

// Service 负责验证请求的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	clock      func() time.Time
}

// NewService 构造验证服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries, clock: time.Now}
}

// NewRequestID derives a request ID from a random UUID.
func NewRequestID() common.Hash {
	id := uuid.New()
	return common.BytesToHash(id[:])
}

// Submit 持久化请求并推送到队列。重复提交同一 ID 返回已有请求。
func (s *Service) Submit(ctx context.Context, in SubmitRequest) (*Request, error) {
	if len(in.ProofData) == 0 {
		return nil, xerrors.New(CodeRequestInvalid, "proof_data 不能为空")
	}
	if in.Timestamp > math.MaxInt64 {
		return nil, xerrors.New(CodeRequestInvalid, "timestamp 超出范围",
			xerrors.WithMetadata("field", "timestamp"))
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "验证服务未初始化")
	}

	id := in.RequestID
	if id != (common.Hash{}) {
		existing, err := s.store.Get(ctx, id)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrRequestNotFound) {
			return nil, err
		}
	} else {
		id = NewRequestID()
	}
	timestamp := in.Timestamp
	if timestamp == 0 {
		timestamp = uint64(s.clock().Unix())
	}

	req := &Request{
		ID:         id,
		AgentID:    in.AgentID,
		ProofData:  append(hexutil.Bytes(nil), in.ProofData...),
		Timestamp:  timestamp,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, req); err != nil {
		if stdErrors.Is(err, ErrRequestConflict) {
			if existing, getErr := s.store.Get(ctx, id); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, id.Hex()); err != nil {
		logger.L().Error("验证请求入队失败", slog.Any("error", err), slog.String("request_id", id.Hex()))
		wrapped := xerrors.Wrap(CodeRequestPublish, err, "发布验证请求到队列失败")
		_ = s.store.MarkFailed(ctx, id, CodeRequestPublish, wrapped.Error(), nil, true)
		return nil, wrapped
	}
	logger.Audit().Info("验证请求入队成功",
		slog.String("request_id", id.Hex()),
		slog.String("agent_id", req.AgentID.Hex()),
		slog.Int("proof_bytes", len(req.ProofData)),
		slog.Int("max_retries", req.MaxRetries),
	)
	return req, nil
}

// Get 返回指定请求的状态。
func (s *Service) Get(ctx context.Context, id common.Hash) (*Request, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "验证存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的请求列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Request, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "验证存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "验证存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// WaitUntilCompleted 轮询请求状态直到评分完成或失败终止。
func (s *Service) WaitUntilCompleted(ctx context.Context, id common.Hash, interval time.Duration) (*Request, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		req, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if req.Status == StatusSucceeded || (req.Status == StatusFailed && req.Attempts >= req.MaxRetries) {
			return req, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}
