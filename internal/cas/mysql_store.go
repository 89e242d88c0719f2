package cas

import (
	"context"
	"database/sql"
	stdErrors "errors"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// MySQLStore 使用 MySQL 保存内容包。表结构由 deploy/migrations 统一建立。
type MySQLStore struct {
	db *sql.DB
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore 基于已初始化的连接创建 MySQLStore。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	return &MySQLStore{db: db}, nil
}

// Put 实现 Store 接口。依赖 (namespace, hash) 主键做键级幂等 upsert。
func (s *MySQLStore) Put(ctx context.Context, ns Namespace, hash string, payload []byte) error {
	if err := validateKey(ns, hash); err != nil {
		return err
	}
	const stmt = `INSERT INTO content_packages (namespace, hash, payload, created_at)
        VALUES (?, ?, ?, UNIX_TIMESTAMP())
        ON DUPLICATE KEY UPDATE payload = VALUES(payload)`
	if _, err := s.db.ExecContext(ctx, stmt, string(ns), hash, payload); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入内容包失败")
	}
	return nil
}

// Get 实现 Store 接口。
func (s *MySQLStore) Get(ctx context.Context, ns Namespace, hash string) ([]byte, error) {
	if err := validateKey(ns, hash); err != nil {
		return nil, err
	}
	const stmt = `SELECT payload FROM content_packages WHERE namespace = ? AND hash = ?`
	var payload []byte
	if err := s.db.QueryRowContext(ctx, stmt, string(ns), hash).Scan(&payload); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询内容包失败")
	}
	return payload, nil
}

// Close 实现 Store 接口。连接由调用方统一管理,这里不负责关闭。
func (s *MySQLStore) Close() error {
	return nil
}
