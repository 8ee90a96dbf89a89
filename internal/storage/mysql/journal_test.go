package mysql

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/holiman/uint256"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/recorder"
	"Behavior-Chain/internal/symbol"
)

const insertEventSQL = `INSERT INTO behavior_events (actor, nonce, sequence, name, payload, created_at)
    VALUES (?, ?, ?, ?, ?, ?)`

var journalActor = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func journalEvent(t *testing.T, nonce uint64, seq uint32) (symbol.Symbol, string) {
	t.Helper()
	event := symbol.MustNew("swap",
		symbol.WithCausality(journalActor, nonce, seq),
		symbol.WithValue(uint256.NewInt(1_000)),
		symbol.WithResult(symbol.ResultProfit),
	)
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return event, string(payload)
}

func TestEventJournalAppend(t *testing.T) {
	t.Parallel()

	event, payload := journalEvent(t, 3, 1)
	db, drv := newMockDB(t, []mockOperation{
		withArgs(execOp(insertEventSQL, mockResult{lastInsertID: 1, rowsAffected: 1}),
			journalActor.Hex(), int64(3), int64(1), "swap", payload, int64(1_700_000_000)),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	j := &EventJournal{db: db, clock: func() time.Time { return time.Unix(1_700_000_000, 0) }}
	if err := j.Append(context.Background(), event); err != nil {
		t.Fatalf("append failed: %v", err)
	}
}

func TestEventJournalAppendErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code xerrors.Code
	}{
		{"duplicate", &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}, xerrors.CodeConflict},
		{"storage", errors.New("connection reset"), xerrors.CodeStorageFailure},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			event, _ := journalEvent(t, 0, 0)
			db, drv := newMockDB(t, []mockOperation{failingOp(opExec, insertEventSQL, tc.err)})
			defer drv.assertConsumed(t)
			defer db.Close()

			err := (&EventJournal{db: db}).Append(context.Background(), event)
			if xerrors.CodeOf(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestEventJournalLoadAllRestoresRecorder(t *testing.T) {
	t.Parallel()

	first, p1 := journalEvent(t, 0, 0)
	second, p2 := journalEvent(t, 0, 1)
	rows := mockRowsData{
		columns: []string{"payload"},
		values:  [][]driver.Value{{p1}, {p2}},
	}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT payload FROM behavior_events ORDER BY id ASC`, rows),
		execOp(`DELETE FROM behavior_events`, mockResult{rowsAffected: 2}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	j := &EventJournal{db: db}
	events, err := j.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(events) != 2 || !events[0].Equal(first) || !events[1].Equal(second) {
		t.Fatalf("unexpected events %v", events)
	}

	rec := recorder.New()
	if err := rec.Restore(context.Background(), events); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if last, ok := rec.Last(journalActor); !ok || last.Sequence != 1 {
		t.Fatalf("unexpected restored history")
	}

	if err := j.Clear(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
}

func TestEventJournalLoadAllRejectsCorruptPayload(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{columns: []string{"payload"}, values: [][]driver.Value{{"{not json"}}}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT payload FROM behavior_events ORDER BY id ASC`, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if _, err := (&EventJournal{db: db}).LoadAll(context.Background()); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}
