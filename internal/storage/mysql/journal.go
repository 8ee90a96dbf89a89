package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	driver "github.com/go-sql-driver/mysql"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/symbol"
)

const mysqlDuplicateEntry = 1062

// EventJournal 将录入的行为事件追加写入 behavior_events 表，用于重启后恢复。
type EventJournal struct {
	db    *sql.DB
	clock func() time.Time
}

// Append 写入一条已通过顺序校验的事件。
func (j *EventJournal) Append(ctx context.Context, event symbol.Symbol) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化行为事件失败")
	}
	const stmt = `INSERT INTO behavior_events (actor, nonce, sequence, name, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, stmt,
		event.Actor.Hex(),
		event.Nonce,
		event.Sequence,
		event.Name,
		string(payload),
		j.now().Unix(),
	); err != nil {
		var mysqlErr *driver.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return xerrors.Wrap(xerrors.CodeConflict, err, fmt.Sprintf("事件 %s/%d/%d 已存在", event.Actor.Hex(), event.Nonce, event.Sequence))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入行为事件失败", xerrors.WithRetryable(true))
	}
	return nil
}

// Clear 删除全部已记录事件。
func (j *EventJournal) Clear(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM behavior_events`); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空行为事件失败")
	}
	return nil
}

// LoadAll 按写入顺序返回全部事件。
func (j *EventJournal) LoadAll(ctx context.Context) ([]symbol.Symbol, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT payload FROM behavior_events ORDER BY id ASC`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询行为事件失败")
	}
	defer rows.Close()

	var events []symbol.Symbol
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析行为事件失败")
		}
		var event symbol.Symbol
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "反序列化行为事件失败")
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历行为事件失败")
	}
	return events, nil
}

func (j *EventJournal) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
