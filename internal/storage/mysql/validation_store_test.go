package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	mysqldriver "github.com/go-sql-driver/mysql"

	"Behavior-Chain/internal/proofs"
	"Behavior-Chain/internal/validation"
)

var (
	storeRequestID = common.HexToHash("0x0c")
	storeAgent     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	fixedClock     = func() time.Time { return time.Unix(1_700_000_000, 0) }
)

func insertRequestSQL() string {
	return `INSERT INTO validation_requests
    (id, agent_id, proof_data, timestamp, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`
}

func selectRequestSQL() string {
	return `SELECT ` + validationColumns + ` FROM validation_requests WHERE id = ?`
}

func claimSQL() string {
	return `UPDATE validation_requests SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
    WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`
}

func requestRow(status validation.Status, attempts int, score driver.Value) mockRowsData {
	return mockRowsData{
		columns: []string{"id", "agent_id", "proof_data", "timestamp", "status", "attempts", "max_retries", "last_error", "error_code", "score", "response_metadata", "created_at", "updated_at"},
		values: [][]driver.Value{{
			storeRequestID.Hex(), storeAgent.Hex(), []byte(`{"id":"x"}`), int64(42), string(status),
			int64(attempts), int64(3), "", "", score, "Behavioral proof successfully verified", int64(10), int64(20),
		}},
	}
}

func TestValidationStoreCreate(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		withArgs(execOp(insertRequestSQL(), mockResult{rowsAffected: 1}),
			storeRequestID.Hex(), storeAgent.Hex(), []byte("proof"), int64(42), "pending", int64(0), int64(3), int64(1_700_000_000), int64(1_700_000_000)),
		failingOp(opExec, insertRequestSQL(), &mysqldriver.MySQLError{Number: 1062}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &ValidationStore{db: db, clock: fixedClock}
	req := &validation.Request{ID: storeRequestID, AgentID: storeAgent, ProofData: []byte("proof"), Timestamp: 42, Status: validation.StatusPending, MaxRetries: 3}
	if err := store.Create(context.Background(), req); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if req.CreatedAt != 1_700_000_000 || req.UpdatedAt != 1_700_000_000 {
		t.Fatalf("timestamps not assigned: %+v", req)
	}
	if err := store.Create(context.Background(), req); !errors.Is(err, validation.ErrRequestConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.Create(context.Background(), &validation.Request{}); err == nil {
		t.Fatalf("expected empty id to be rejected")
	}
}

func TestValidationStoreGet(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		withArgs(queryOp(selectRequestSQL(), requestRow(validation.StatusSucceeded, 1, int64(100))), storeRequestID.Hex()),
		queryOp(selectRequestSQL(), mockRowsData{columns: requestRow("", 0, nil).columns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &ValidationStore{db: db}
	req, err := store.Get(context.Background(), storeRequestID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if req.ID != storeRequestID || req.AgentID != storeAgent || req.Timestamp != 42 || req.Status != validation.StatusSucceeded {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Response == nil || !req.Response.Valid() || req.Response.RequestID != storeRequestID {
		t.Fatalf("expected scored response, got %+v", req.Response)
	}

	if _, err := store.Get(context.Background(), storeRequestID); !errors.Is(err, validation.ErrRequestNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestValidationStoreClaim(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		affected int64
		status   validation.Status
		attempts int
		want     error
	}{
		{"claimed", 1, validation.StatusRunning, 1, nil},
		{"completed", 0, validation.StatusSucceeded, 1, validation.ErrRequestCompleted},
		{"running", 0, validation.StatusRunning, 1, validation.ErrRequestConflict},
		{"exhausted", 0, validation.StatusFailed, 3, validation.ErrRequestExhausted},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			db, drv := newMockDB(t, []mockOperation{
				withArgs(execOp(claimSQL(), mockResult{rowsAffected: tc.affected}),
					"running", anyArg, storeRequestID.Hex(), "pending", "failed"),
				queryOp(selectRequestSQL(), requestRow(tc.status, tc.attempts, nil)),
			})
			defer drv.assertConsumed(t)
			defer db.Close()

			req, err := (&ValidationStore{db: db}).Claim(context.Background(), storeRequestID)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("claim failed: %v", err)
				}
				if req.Status != validation.StatusRunning || req.Response != nil {
					t.Fatalf("unexpected claimed request %+v", req)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidationStoreMarkOutcome(t *testing.T) {
	t.Parallel()

	resp := proofs.ValidationResponse{RequestID: storeRequestID, Score: proofs.ScoreInvalid, Metadata: "malformed"}
	db, drv := newMockDB(t, []mockOperation{
		withArgs(execOp(`UPDATE validation_requests SET status = ?, score = ?, response_metadata = ?, updated_at = ?, last_error = '', error_code = ''
            WHERE id = ?`, mockResult{rowsAffected: 1}),
			"succeeded", int64(100), "ok", int64(1_700_000_000), storeRequestID.Hex()),
		withArgs(execOp(`UPDATE validation_requests SET status = ?, last_error = ?, error_code = ?, updated_at = ?, score = ?, response_metadata = ?,
            attempts = GREATEST(attempts, max_retries) WHERE id = ?`, mockResult{rowsAffected: 1}),
			"failed", "bad bundle", "MALFORMED_BUNDLE", int64(1_700_000_000), int64(0), "malformed", storeRequestID.Hex()),
		execOp(`UPDATE validation_requests SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`, mockResult{rowsAffected: 0}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &ValidationStore{db: db, clock: fixedClock}
	ctx := context.Background()
	if err := store.MarkSucceeded(ctx, storeRequestID, proofs.ValidationResponse{Score: proofs.ScoreValid, Metadata: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if err := store.MarkFailed(ctx, storeRequestID, proofs.CodeMalformedBundle, "bad bundle", &resp, true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkFailed(ctx, storeRequestID, validation.CodeRequestProcessing, "retry", nil, false); !errors.Is(err, validation.ErrRequestNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestValidationStoreListAndStats(t *testing.T) {
	t.Parallel()

	listSQL := `SELECT ` + validationColumns + ` FROM validation_requests WHERE status IN (?,?) AND agent_id = ?
        ORDER BY updated_at ASC, created_at ASC, id ASC LIMIT ? OFFSET ?`
	statsSQL := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN score = ? THEN 1 ELSE 0 END), 0) AS valid,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM validation_requests WHERE updated_at >= ?`
	statsRows := mockRowsData{
		columns: []string{"total", "pending", "running", "succeeded", "failed", "valid", "oldest", "newest"},
		values:  [][]driver.Value{{int64(5), int64(1), int64(1), int64(2), int64(1), int64(2), int64(100), int64(200)}},
	}

	db, drv := newMockDB(t, []mockOperation{
		withArgs(queryOp(listSQL, requestRow(validation.StatusFailed, 2, nil)),
			"failed", "succeeded", storeAgent.Hex(), int64(5), int64(0)),
		withArgs(queryOp(statsSQL, statsRows),
			"pending", "running", "succeeded", "failed", int64(100), int64(100)),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &ValidationStore{db: db}
	ctx := context.Background()
	list, err := store.List(ctx, validation.BuildListOptions(
		validation.WithStatuses(validation.StatusFailed, validation.StatusSucceeded),
		validation.WithAgent(storeAgent),
		validation.WithSortOrder(validation.SortByUpdatedAsc),
		validation.WithLimit(5),
	))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].Attempts != 2 {
		t.Fatalf("unexpected list %+v", list)
	}

	stats, err := store.Stats(ctx, validation.BuildListOptions(validation.WithUpdatedSince(time.Unix(100, 0))))
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 5 || stats.Succeeded != 2 || stats.Valid != 2 || stats.NewestUpdatedAt != 200 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
