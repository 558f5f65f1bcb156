package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"contractkit/internal/logging"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS contract_abis (
	address    TEXT PRIMARY KEY,
	abi        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS pending_transactions (
	hash         TEXT PRIMARY KEY,
	contract     TEXT,
	function     TEXT,
	submitted_at TIMESTAMPTZ NOT NULL
);`

// PostgresStore 基于PostgreSQL的共享存储
type PostgresStore struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewPostgresStore 连接数据库并建表
func NewPostgresStore(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	logger = logging.OrDiscard(logger)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storageError(err, "连接数据库")
	}

	// 测试连接
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageError(err, "数据库连接测试")
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, storageError(err, "初始化表结构")
	}

	logger.Info("PostgreSQL存储已连接")
	return &PostgresStore{DB: db, logger: logger}, nil
}

// SaveABI 保存或覆盖ABI文档
func (s *PostgresStore) SaveABI(ctx context.Context, address common.Address, doc json.RawMessage) error {
	query := `
		INSERT INTO contract_abis (address, abi, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (address)
		DO UPDATE SET abi = $2, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.DB.ExecContext(ctx, query, address.Hex(), []byte(doc)); err != nil {
		return storageError(err, "保存ABI")
	}
	return nil
}

// LoadABI 读取ABI文档
func (s *PostgresStore) LoadABI(ctx context.Context, address common.Address) (json.RawMessage, error) {
	var doc []byte
	err := s.DB.QueryRowContext(ctx, `SELECT abi FROM contract_abis WHERE address = $1`, address.Hex()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, abiNotFound(address)
	}
	if err != nil {
		return nil, storageError(err, "读取ABI")
	}
	return json.RawMessage(doc), nil
}

// ListABIs 已登记ABI的地址
func (s *PostgresStore) ListABIs(ctx context.Context) ([]common.Address, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT address FROM contract_abis`)
	if err != nil {
		return nil, storageError(err, "列出ABI")
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, storageError(err, "列出ABI")
		}
		out = append(out, common.HexToAddress(addr))
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "列出ABI")
	}
	sortAddresses(out)
	return out, nil
}

// SavePending 记录已提交的交易
func (s *PostgresStore) SavePending(ctx context.Context, tx models.PendingTransaction) error {
	var contract sql.NullString
	if tx.Contract != nil {
		contract = sql.NullString{String: tx.Contract.Hex(), Valid: true}
	}
	query := `
		INSERT INTO pending_transactions (hash, contract, function, submitted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hash) DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, query, tx.Hash.Hex(), contract, tx.Function, tx.SubmittedAt); err != nil {
		return storageError(err, "保存待确认交易")
	}
	return nil
}

// RemovePending 交易确认后删除记录
func (s *PostgresStore) RemovePending(ctx context.Context, hash common.Hash) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM pending_transactions WHERE hash = $1`, hash.Hex()); err != nil {
		return storageError(err, "删除待确认交易")
	}
	return nil
}

// ListPending 按提交时间排列的待确认交易
func (s *PostgresStore) ListPending(ctx context.Context) ([]models.PendingTransaction, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT hash, contract, function, submitted_at FROM pending_transactions`)
	if err != nil {
		return nil, storageError(err, "列出待确认交易")
	}
	defer rows.Close()

	var out []models.PendingTransaction
	for rows.Next() {
		var (
			hash     string
			contract sql.NullString
			function sql.NullString
			p        models.PendingTransaction
		)
		if err := rows.Scan(&hash, &contract, &function, &p.SubmittedAt); err != nil {
			return nil, storageError(err, "列出待确认交易")
		}
		p.Hash = common.HexToHash(hash)
		p.Function = function.String
		if contract.Valid {
			addr := common.HexToAddress(contract.String)
			p.Contract = &addr
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "列出待确认交易")
	}
	sortPending(out)
	return out, nil
}

// Close 关闭数据库连接
func (s *PostgresStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
