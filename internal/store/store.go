package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"contractkit/internal/config"
	"contractkit/internal/errors"
	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Store 合约ABI与待确认交易的持久化
type Store interface {
	SaveABI(ctx context.Context, address common.Address, doc json.RawMessage) error
	LoadABI(ctx context.Context, address common.Address) (json.RawMessage, error)
	ListABIs(ctx context.Context) ([]common.Address, error)

	SavePending(ctx context.Context, tx models.PendingTransaction) error
	RemovePending(ctx context.Context, hash common.Hash) error
	ListPending(ctx context.Context) ([]models.PendingTransaction, error)

	Close() error
}

// Open 按配置打开存储，driver为none时使用内存存储
func Open(ctx context.Context, cfg *config.StoreConfig, logger *logrus.Logger) (Store, error) {
	if cfg == nil {
		return NewMemoryStore(), nil
	}
	switch cfg.Driver {
	case "", "none":
		return NewMemoryStore(), nil
	case "bolt":
		s, err := NewBoltStore(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.NewContractError(errors.ErrorTypeConfig, errors.SeverityHigh, "UNSUPPORTED_STORE",
			fmt.Sprintf("不支持的存储驱动: %s", cfg.Driver))
	}
}

func storageError(err error, op string) *errors.ContractError {
	return errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityHigh, "STORAGE_FAILED",
		fmt.Sprintf("%s失败", op)).WithComponent("store")
}

func abiNotFound(address common.Address) *errors.ContractError {
	return errors.NotFound("ABI_NOT_FOUND", "地址 %s 没有登记ABI", address.Hex()).
		WithContext("address", address.Hex())
}

func sortPending(txs []models.PendingTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].SubmittedAt.Equal(txs[j].SubmittedAt) {
			return txs[i].Hash.Hex() < txs[j].Hash.Hex()
		}
		return txs[i].SubmittedAt.Before(txs[j].SubmittedAt)
	})
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })
}

// MemoryStore 进程内存储，未配置持久化时使用
type MemoryStore struct {
	mu      sync.RWMutex
	abis    map[common.Address]json.RawMessage
	pending map[common.Hash]models.PendingTransaction
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		abis:    make(map[common.Address]json.RawMessage),
		pending: make(map[common.Hash]models.PendingTransaction),
	}
}

func (m *MemoryStore) SaveABI(_ context.Context, address common.Address, doc json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abis[address] = append(json.RawMessage(nil), doc...)
	return nil
}

func (m *MemoryStore) LoadABI(_ context.Context, address common.Address) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.abis[address]
	if !ok {
		return nil, abiNotFound(address)
	}
	return append(json.RawMessage(nil), doc...), nil
}

func (m *MemoryStore) ListABIs(_ context.Context) ([]common.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]common.Address, 0, len(m.abis))
	for addr := range m.abis {
		out = append(out, addr)
	}
	sortAddresses(out)
	return out, nil
}

func (m *MemoryStore) SavePending(_ context.Context, tx models.PendingTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[tx.Hash] = tx
	return nil
}

func (m *MemoryStore) RemovePending(_ context.Context, hash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, hash)
	return nil
}

func (m *MemoryStore) ListPending(_ context.Context) ([]models.PendingTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PendingTransaction, 0, len(m.pending))
	for _, tx := range m.pending {
		out = append(out, tx)
	}
	sortPending(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
