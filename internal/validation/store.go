package validation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/proofs"
)

// Store 抽象了验证请求状态的持久化接口。
type Store interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id common.Hash) (*Request, error)
	// Claim moves a pending or retryable request to running and counts the
	// attempt.
	Claim(ctx context.Context, id common.Hash) (*Request, error)
	MarkSucceeded(ctx context.Context, id common.Hash, resp proofs.ValidationResponse) error
	// MarkFailed records a failed attempt. A terminal failure is never
	// claimed again.
	MarkFailed(ctx context.Context, id common.Hash, code xerrors.Code, lastError string, resp *proofs.ValidationResponse, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Request, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了请求状态的统计信息。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Valid           int   `json:"valid"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
