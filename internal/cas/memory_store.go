package cas

import (
	"context"
	"sync"

	"ZKRebalance-Chain/pkg/logger"
)

// MemoryStore 以内存方式保存内容包，主要用于测试与单机开发。
type MemoryStore struct {
	mu       sync.RWMutex
	packages map[Namespace]map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages: map[Namespace]map[string][]byte{
			NamespaceProofs:      {},
			NamespaceValidations: {},
		},
	}
}

// Put 实现 Store 接口。同一哈希重复写入直接覆盖，内容寻址保证等价。
func (m *MemoryStore) Put(_ context.Context, ns Namespace, hash string, payload []byte) error {
	if err := validateKey(ns, hash); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.packages[ns][hash]; exists {
		logger.Named("cas").Debug("覆盖已存在的内容包", "namespace", string(ns), "hash", hash)
	}
	m.packages[ns][hash] = append([]byte(nil), payload...)
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, ns Namespace, hash string) ([]byte, error) {
	if err := validateKey(ns, hash); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.packages[ns][hash]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return append([]byte(nil), payload...), nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}
