package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"contractkit/internal/logging"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultBoltPath 默认数据库路径
	DefaultBoltPath = "./data/contractkit.db"

	// 存储桶名称
	ABIBucket     = "abis"
	PendingBucket = "pending"
)

// BoltStore 基于BoltDB的本地存储
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
}

// NewBoltStore 打开或创建数据库文件
func NewBoltStore(dbPath string, logger *logrus.Logger) (*BoltStore, error) {
	logger = logging.OrDiscard(logger)
	if dbPath == "" {
		dbPath = DefaultBoltPath
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, storageError(err, "创建数据目录")
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, storageError(err, "打开数据库")
	}

	s := &BoltStore{db: db, logger: logger, dbPath: dbPath}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, storageError(err, "初始化数据库")
	}

	logger.Infof("本地存储已打开，数据库路径: %s", dbPath)
	return s, nil
}

func (s *BoltStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ABIBucket, PendingBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// SaveABI 以地址为键保存ABI文档
func (s *BoltStore) SaveABI(_ context.Context, address common.Address, doc json.RawMessage) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ABIBucket)).Put(address.Bytes(), doc)
	})
	if err != nil {
		return storageError(err, "保存ABI")
	}
	return nil
}

// LoadABI 读取ABI文档
func (s *BoltStore) LoadABI(_ context.Context, address common.Address) (json.RawMessage, error) {
	var doc json.RawMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		// bolt返回的切片只在事务内有效
		if v := tx.Bucket([]byte(ABIBucket)).Get(address.Bytes()); v != nil {
			doc = append(json.RawMessage(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err, "读取ABI")
	}
	if doc == nil {
		return nil, abiNotFound(address)
	}
	return doc, nil
}

// ListABIs 已登记ABI的地址
func (s *BoltStore) ListABIs(_ context.Context) ([]common.Address, error) {
	var out []common.Address
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ABIBucket)).ForEach(func(k, _ []byte) error {
			out = append(out, common.BytesToAddress(k))
			return nil
		})
	})
	if err != nil {
		return nil, storageError(err, "列出ABI")
	}
	sortAddresses(out)
	return out, nil
}

// SavePending 记录已提交的交易
func (s *BoltStore) SavePending(_ context.Context, pending models.PendingTransaction) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return storageError(err, "序列化待确认交易")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(PendingBucket)).Put(pending.Hash.Bytes(), data)
	})
	if err != nil {
		return storageError(err, "保存待确认交易")
	}
	return nil
}

// RemovePending 交易确认后删除记录
func (s *BoltStore) RemovePending(_ context.Context, hash common.Hash) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(PendingBucket)).Delete(hash.Bytes())
	})
	if err != nil {
		return storageError(err, "删除待确认交易")
	}
	return nil
}

// ListPending 按提交时间排列的待确认交易
func (s *BoltStore) ListPending(_ context.Context) ([]models.PendingTransaction, error) {
	var out []models.PendingTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(PendingBucket)).ForEach(func(k, v []byte) error {
			var p models.PendingTransaction
			if err := json.Unmarshal(v, &p); err != nil {
				s.logger.Warnf("跳过损坏的待确认交易记录 %x: %v", k, err)
				return nil
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, storageError(err, "列出待确认交易")
	}
	sortPending(out)
	return out, nil
}

// Path 数据库路径
func (s *BoltStore) Path() string {
	return s.dbPath
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	if s.db != nil {
		s.logger.Info("关闭本地存储")
		return s.db.Close()
	}
	return nil
}
