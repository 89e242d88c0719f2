// Package reputation 维护客户代理对服务代理的反馈账本,
// 并据此聚合服务方的信誉摘要。账本仅追加,历史记录按提交顺序保存。
package reputation

import (
	"context"
	"fmt"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// FeedbackRecord 是客户代理提交的一条服务反馈。
type FeedbackRecord struct {
	ClientID     uint64 `json:"client_id"`
	ServerID     uint64 `json:"server_id"`
	Score        int    `json:"score"`
	Comment      string `json:"comment,omitempty"`
	ClientDomain string `json:"client_domain,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// Summary 是某个服务代理的信誉聚合结果。
// 没有任何反馈时 Count 为零,AverageScore 为零,LastRecord 为空。
type Summary struct {
	ServerID     uint64          `json:"server_id"`
	Count        int             `json:"feedback_count"`
	AverageScore float64         `json:"average_score"`
	LastRecord   *FeedbackRecord `json:"last_feedback,omitempty"`
}

// Ledger 定义反馈账本的访问接口。
type Ledger interface {
	// Record 追加一条反馈。
	Record(ctx context.Context, record FeedbackRecord) error
	// Summarize 聚合某个服务代理收到的全部反馈。
	Summarize(ctx context.Context, serverID uint64) (Summary, error)
	// History 按提交顺序返回反馈记录;serverID 为零时返回全部记录。
	History(ctx context.Context, serverID uint64) ([]FeedbackRecord, error)
	// Close 释放底层资源。
	Close() error
}

// validateRecord 校验反馈记录的基本约束。
func validateRecord(record FeedbackRecord) error {
	if record.ClientID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "反馈缺少客户代理编号")
	}
	if record.ServerID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "反馈缺少服务代理编号")
	}
	if record.Score < 0 || record.Score > 100 {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("反馈评分必须在 0 到 100 之间: %d", record.Score))
	}
	return nil
}
