package reputation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// MySQLLedger 将反馈记录持久化到 MySQL。
// 连接由调用方负责打开与关闭,便于多个存储共享同一个连接池。
type MySQLLedger struct {
	db *sql.DB
}

var _ Ledger = (*MySQLLedger)(nil)

// NewMySQLLedger 基于已打开的数据库连接创建账本。
func NewMySQLLedger(db *sql.DB) *MySQLLedger {
	return &MySQLLedger{db: db}
}

// Record 实现 Ledger 接口。
func (m *MySQLLedger) Record(ctx context.Context, record FeedbackRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().Unix()
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO feedback_records (client_id, server_id, score, comment, client_domain, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ClientID, record.ServerID, record.Score, record.Comment, record.ClientDomain, record.Timestamp,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入反馈记录失败")
	}
	return nil
}

// Summarize 实现 Ledger 接口。
func (m *MySQLLedger) Summarize(ctx context.Context, serverID uint64) (Summary, error) {
	summary := Summary{ServerID: serverID}

	row := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(score), 0) FROM feedback_records WHERE server_id = ?`,
		serverID,
	)
	if err := row.Scan(&summary.Count, &summary.AverageScore); err != nil {
		return Summary{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "聚合反馈记录失败")
	}
	if summary.Count == 0 {
		return summary, nil
	}

	last := FeedbackRecord{}
	// 最新记录按时间戳取,同一时间戳以插入顺序靠后者为准。
	row = m.db.QueryRowContext(ctx,
		`SELECT client_id, server_id, score, comment, client_domain, created_at
		 FROM feedback_records WHERE server_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		serverID,
	)
	err := row.Scan(&last.ClientID, &last.ServerID, &last.Score, &last.Comment, &last.ClientDomain, &last.Timestamp)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// 计数与取尾之间被清表时直接返回聚合结果。
	case err != nil:
		return Summary{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取最近反馈失败")
	default:
		summary.LastRecord = &last
	}
	return summary, nil
}

// History 实现 Ledger 接口。
func (m *MySQLLedger) History(ctx context.Context, serverID uint64) ([]FeedbackRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT client_id, server_id, score, comment, client_domain, created_at
		 FROM feedback_records WHERE (? = 0 OR server_id = ?) ORDER BY id`,
		serverID, serverID,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询反馈历史失败")
	}
	defer rows.Close()

	out := make([]FeedbackRecord, 0, 16)
	for rows.Next() {
		record := FeedbackRecord{}
		if err := rows.Scan(&record.ClientID, &record.ServerID, &record.Score,
			&record.Comment, &record.ClientDomain, &record.Timestamp); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描反馈记录失败")
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历反馈记录失败")
	}
	return out, nil
}

// Close 实现 Ledger 接口。连接归调用方所有,这里不做关闭。
func (m *MySQLLedger) Close() error { return nil }
