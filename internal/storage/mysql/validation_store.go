package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	driver "github.com/go-sql-driver/mysql"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/proofs"
	"Behavior-Chain/internal/validation"
)

const validationColumns = `id, agent_id, proof_data, timestamp, status, attempts, max_retries, last_error, error_code,
        score, response_metadata, created_at, updated_at`

// ValidationStore 基于 validation_requests 表实现 validation.Store。
type ValidationStore struct {
	db    *sql.DB
	clock func() time.Time
}

var _ validation.Store = (*ValidationStore)(nil)

func (s *ValidationStore) now() int64 {
	if s.clock != nil {
		return s.clock().Unix()
	}
	return time.Now().Unix()
}

// Create 插入新的验证请求。
func (s *ValidationStore) Create(ctx context.Context, req *validation.Request) error {
	if req == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "request 不能为空")
	}
	if req.ID == (common.Hash{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "请求 ID 不能为空")
	}

	now := s.now()
	if req.CreatedAt == 0 {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	const stmt = `INSERT INTO validation_requests
        (id, agent_id, proof_data, timestamp, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		req.ID.Hex(),
		req.AgentID.Hex(),
		[]byte(req.ProofData),
		req.Timestamp,
		string(req.Status),
		req.Attempts,
		req.MaxRetries,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *driver.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return validation.ErrRequestConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入验证请求失败")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*validation.Request, error) {
	var (
		req       validation.Request
		id        string
		agent     string
		proofData []byte
		status    string
		lastError sql.NullString
		errorCode sql.NullString
		score     sql.NullInt64
		metadata  sql.NullString
	)
	if err := row.Scan(
		&id,
		&agent,
		&proofData,
		&req.Timestamp,
		&status,
		&req.Attempts,
		&req.MaxRetries,
		&lastError,
		&errorCode,
		&score,
		&metadata,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.ID = common.HexToHash(id)
	req.AgentID = common.HexToAddress(agent)
	req.ProofData = proofData
	req.Status = validation.Status(status)
	req.LastError = lastError.String
	req.ErrorCode = errorCode.String
	if score.Valid {
		req.Response = &proofs.ValidationResponse{
			RequestID: req.ID,
			Score:     uint32(score.Int64),
			Metadata:  metadata.String,
		}
	}
	return &req, nil
}

// Get 查询指定请求。
func (s *ValidationStore) Get(ctx context.Context, id common.Hash) (*validation.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+validationColumns+` FROM validation_requests WHERE id = ?`, id.Hex())
	req, err := scanRequest(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, validation.ErrRequestNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询验证请求失败")
	}
	return req, nil
}

// Claim 将请求标记为运行中并返回最新状态。
func (s *ValidationStore) Claim(ctx context.Context, id common.Hash) (*validation.Request, error) {
	const updateStmt = `UPDATE validation_requests SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, updateStmt,
		string(validation.StatusRunning),
		s.now(),
		id.Hex(),
		string(validation.StatusPending),
		string(validation.StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新验证请求状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		switch {
		case req.Status == validation.StatusSucceeded:
			return req, validation.ErrRequestCompleted
		case req.Status == validation.StatusRunning:
			return req, validation.ErrRequestConflict
		case req.Attempts >= req.MaxRetries:
			return req, validation.ErrRequestExhausted
		default:
			return req, validation.ErrRequestConflict
		}
	}
	return req, nil
}

// MarkSucceeded 记录评分结果。
func (s *ValidationStore) MarkSucceeded(ctx context.Context, id common.Hash, resp proofs.ValidationResponse) error {
	const stmt = `UPDATE validation_requests SET status = ?, score = ?, response_metadata = ?, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		string(validation.StatusSucceeded),
		resp.Score,
		resp.Metadata,
		s.now(),
		id.Hex(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录评分结果失败", xerrors.WithRetryable(true))
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return validation.ErrRequestNotFound
	}
	return nil
}

// MarkFailed 标记请求失败。终止性失败会将 attempts 置为 max_retries。
func (s *ValidationStore) MarkFailed(ctx context.Context, id common.Hash, code xerrors.Code, lastError string, resp *proofs.ValidationResponse, terminal bool) error {
	stmt := `UPDATE validation_requests SET status = ?, last_error = ?, error_code = ?, updated_at = ?`
	args := []any{string(validation.StatusFailed), lastError, string(code), s.now()}
	if resp != nil {
		stmt += `, score = ?, response_metadata = ?`
		args = append(args, resp.Score, resp.Metadata)
	}
	if terminal {
		stmt += `, attempts = GREATEST(attempts, max_retries)`
	}
	stmt += ` WHERE id = ?`
	args = append(args, id.Hex())

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记验证请求失败状态出错")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return validation.ErrRequestNotFound
	}
	return nil
}

// List 返回符合过滤条件的请求。
func (s *ValidationStore) List(ctx context.Context, opts validation.ListOptions) ([]*validation.Request, error) {
	opts.Normalize()

	query := `SELECT ` + validationColumns + ` FROM validation_requests`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == validation.SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询验证请求列表失败")
	}
	defer rows.Close()

	requests := make([]*validation.Request, 0, opts.Limit)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析验证请求失败")
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历验证请求失败")
	}
	return requests, nil
}

// Stats 返回符合过滤条件的聚合信息。
func (s *ValidationStore) Stats(ctx context.Context, opts validation.ListOptions) (validation.Stats, error) {
	opts.Normalize()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN score = ? THEN 1 ELSE 0 END), 0) AS valid,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM validation_requests`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(validation.StatusPending),
		string(validation.StatusRunning),
		string(validation.StatusSucceeded),
		string(validation.StatusFailed),
		proofs.ScoreValid,
	}
	args = append(args, filterArgs...)

	var stats validation.Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Valid,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return validation.Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询验证统计失败")
	}
	return stats, nil
}

// Close 由 Database 统一关闭连接池。
func (s *ValidationStore) Close() error { return nil }

func buildFilterClause(opts validation.ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.AgentID != nil {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID.Hex())
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	return strings.Join(conditions, " AND "), args
}
