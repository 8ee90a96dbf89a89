package validation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/proofs"
)

// MemoryStore 以内存方式保存请求状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[common.Hash]*Request
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[common.Hash]*Request)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, req *Request) error {
	if req == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "request 不能为空")
	}
	if req.ID == (common.Hash{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "请求 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; ok {
		return ErrRequestConflict
	}
	now := time.Now().Unix()
	if req.CreatedAt == 0 {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	m.requests[req.ID] = req.clone()
	return nil
}

// Get 返回请求。
func (m *MemoryStore) Get(_ context.Context, id common.Hash) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return req.clone(), nil
}

// Claim 将请求状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id common.Hash) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	switch req.Status {
	case StatusSucceeded:
		return req.clone(), ErrRequestCompleted
	case StatusRunning:
		return req.clone(), ErrRequestConflict
	}
	if req.Attempts >= req.MaxRetries {
		return req.clone(), ErrRequestExhausted
	}
	req.Status = StatusRunning
	req.Attempts++
	req.LastError = ""
	req.ErrorCode = ""
	req.UpdatedAt = time.Now().Unix()
	return req.clone(), nil
}

// MarkSucceeded 记录评分结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id common.Hash, resp proofs.ValidationResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	req.Status = StatusSucceeded
	req.Response = &resp
	req.LastError = ""
	req.ErrorCode = ""
	req.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记请求失败。终止性失败会耗尽剩余重试次数。
func (m *MemoryStore) MarkFailed(_ context.Context, id common.Hash, code xerrors.Code, lastError string, resp *proofs.ValidationResponse, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	req.Status = StatusFailed
	req.LastError = lastError
	req.ErrorCode = string(code)
	if resp != nil {
		r := *resp
		req.Response = &r
	}
	if terminal && req.Attempts < req.MaxRetries {
		req.Attempts = req.MaxRetries
	}
	req.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的请求。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.Normalize()
	results := make([]*Request, 0, len(m.requests))
	for _, req := range m.requests {
		if opts.Matches(req) {
			results = append(results, req.clone())
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID.Hex() > b.ID.Hex()
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Request{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的请求数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.Normalize()
	stats := Stats{}
	for _, req := range m.requests {
		if !opts.Matches(req) {
			continue
		}
		stats.Total++
		switch req.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if req.Response != nil && req.Response.Valid() {
			stats.Valid++
		}
		if req.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = req.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (req.UpdatedAt != 0 && req.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = req.UpdatedAt
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
