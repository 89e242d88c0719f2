package reputation

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger 以内存方式保存反馈记录,主要用于开发与测试。
type MemoryLedger struct {
	mu      sync.RWMutex
	records []FeedbackRecord
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger 创建 MemoryLedger。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Record 实现 Ledger 接口。
func (m *MemoryLedger) Record(_ context.Context, record FeedbackRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().Unix()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// Summarize 实现 Ledger 接口。
func (m *MemoryLedger) Summarize(_ context.Context, serverID uint64) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := Summary{ServerID: serverID}
	total := 0
	for i := range m.records {
		if m.records[i].ServerID != serverID {
			continue
		}
		summary.Count++
		total += m.records[i].Score
		// 最新记录按时间戳取,同一时间戳后写入者胜出。
		if summary.LastRecord == nil || m.records[i].Timestamp >= summary.LastRecord.Timestamp {
			last := m.records[i]
			summary.LastRecord = &last
		}
	}
	if summary.Count > 0 {
		summary.AverageScore = float64(total) / float64(summary.Count)
	}
	return summary, nil
}

// History 实现 Ledger 接口。
func (m *MemoryLedger) History(_ context.Context, serverID uint64) ([]FeedbackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FeedbackRecord, 0, len(m.records))
	for _, record := range m.records {
		if serverID != 0 && record.ServerID != serverID {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// Close 实现 Ledger 接口。
func (m *MemoryLedger) Close() error { return nil }
