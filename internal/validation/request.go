// Package validation runs validation requests asynchronously: a request is
// persisted, its ID published on a queue, and workers claim it, score the
// enclosed proof bundle and record the outcome.
package validation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/proofs"
)

// Status 表示验证请求在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Request 描述一次排队执行的证明验证请求。
type Request struct {
	ID         common.Hash                `json:"request_id"`
	AgentID    common.Address             `json:"agent_id"`
	ProofData  hexutil.Bytes              `json:"proof_data"`
	Timestamp  uint64                     `json:"timestamp"`
	Status     Status                     `json:"status"`
	Attempts   int                        `json:"attempts"`
	MaxRetries int                        `json:"max_retries"`
	LastError  string                     `json:"last_error,omitempty"`
	ErrorCode  string                     `json:"error_code,omitempty"`
	Response   *proofs.ValidationResponse `json:"response,omitempty"`
	CreatedAt  int64                      `json:"created_at"`
	UpdatedAt  int64                      `json:"updated_at"`
}

// Scoring returns the scorer input carried by the request.
func (r *Request) Scoring() proofs.ValidationRequest {
	return proofs.ValidationRequest{
		RequestID: r.ID,
		AgentID:   r.AgentID,
		ProofData: r.ProofData,
		Timestamp: r.Timestamp,
	}
}

func (r *Request) clone() *Request {
	c := *r
	c.ProofData = append(hexutil.Bytes(nil), r.ProofData...)
	if r.Response != nil {
		resp := *r.Response
		c.Response = &resp
	}
	return &c
}

var (
	// ErrRequestNotFound 表示指定的请求不存在。
	ErrRequestNotFound = xerrors.New(CodeRequestNotFound, "validation request not found")
	// ErrRequestConflict 表示请求在当前状态下无法执行所请求的操作。
	ErrRequestConflict = xerrors.New(CodeRequestConflict, "validation request conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRequestCompleted 表示请求已经完成评分。
	ErrRequestCompleted = xerrors.New(CodeRequestCompleted, "validation request already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrRequestExhausted 表示请求的重试次数已经耗尽。
	ErrRequestExhausted = xerrors.New(CodeRequestExhausted, "validation retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeRequestNotFound   xerrors.Code = "VALIDATION_NOT_FOUND"
	CodeRequestConflict   xerrors.Code = "VALIDATION_CONFLICT"
	CodeRequestCompleted  xerrors.Code = "VALIDATION_COMPLETED"
	CodeRequestExhausted  xerrors.Code = "VALIDATION_RETRIES_EXHAUSTED"
	CodeRequestInvalid    xerrors.Code = "VALIDATION_REQUEST_INVALID"
	CodeRequestPublish    xerrors.Code = "VALIDATION_PUBLISH_FAILED"
	CodeRequestProcessing xerrors.Code = "VALIDATION_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeRequestNotFound, xerrors.Attributes{
		Message:  "validation request not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRequestConflict, xerrors.Attributes{
		Message:  "validation request conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeRequestCompleted, xerrors.Attributes{
		Message:  "validation request already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRequestExhausted, xerrors.Attributes{
		Message:  "validation retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeRequestInvalid, xerrors.Attributes{
		Message:  "validation request invalid",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRequestPublish, xerrors.Attributes{
		Message:   "failed to publish validation request",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeRequestProcessing, xerrors.Attributes{
		Message:   "validation processing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}
