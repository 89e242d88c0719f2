package agent

import (
	"context"
	"time"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/reputation"
	"ZKRebalance-Chain/internal/zk"
)

// 质量评估的评分构成:基础分加各组件的存在分,上限 100。
const (
	qualityBase            = 50
	qualityProofBonus      = 15
	qualityInputsBonus     = 10
	qualityPlanBonus       = 15
	qualityAllocationBonus = 10
	qualityDiversityBonus  = 10

	// diversityCeiling 是单资产配比的集中度上限,
	// 全部低于该值才算分散良好。
	diversityCeiling = 50.0
)

// Client 是消费方:评估服务质量,提交反馈,查询服务方信誉。
type Client struct {
	*Base
	ledger reputation.Ledger
}

// NewClient 创建消费方角色。
func NewClient(base *Base, ledger reputation.Ledger) *Client {
	return &Client{Base: base, ledger: ledger}
}

// EvaluateQuality 按证明包的组件完整度与配比分散度打质量分。
// 这是消费方视角的服务评价,与验证流水线的密码学结论相互独立。
func (c *Client) EvaluateQuality(pkg *zk.ProofPackage) int {
	if pkg == nil {
		return 0
	}

	score := qualityBase
	if pkg.Proof.HasRequiredFields() {
		score += qualityProofBonus
	}
	if len(pkg.PublicInputs) > 0 {
		score += qualityInputsBonus
	}
	if len(pkg.Plan.NewBalances) > 0 {
		score += qualityPlanBonus
	}
	if len(pkg.Plan.Allocations) > 0 {
		score += qualityAllocationBonus

		diversified := true
		for _, allocation := range pkg.Plan.Allocations {
			if allocation.Percentage >= diversityCeiling {
				diversified = false
				break
			}
		}
		if diversified {
			score += qualityDiversityBonus
		}
	}

	if score > 100 {
		score = 100
	}
	c.log.Info("服务质量评估完成", "score", score)
	return score
}

// SubmitFeedback 以本代理身份向账本提交一条反馈。
func (c *Client) SubmitFeedback(ctx context.Context, serverID uint64, score int, comment string) (reputation.FeedbackRecord, error) {
	identity, err := c.requireIdentity()
	if err != nil {
		return reputation.FeedbackRecord{}, err
	}
	if c.ledger == nil {
		return reputation.FeedbackRecord{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置反馈账本")
	}

	record := reputation.FeedbackRecord{
		ClientID:     identity.ID,
		ServerID:     serverID,
		Score:        score,
		Comment:      comment,
		ClientDomain: identity.Domain,
		Timestamp:    time.Now().Unix(),
	}
	if err := c.ledger.Record(ctx, record); err != nil {
		return reputation.FeedbackRecord{}, err
	}

	c.log.Info("反馈已提交", "server", serverID, "score", score)
	return record, nil
}

// Reputation 查询服务方的信誉聚合。
func (c *Client) Reputation(ctx context.Context, serverID uint64) (reputation.Summary, error) {
	if c.ledger == nil {
		return reputation.Summary{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置反馈账本")
	}
	return c.ledger.Summarize(ctx, serverID)
}

// FeedbackHistory 查询反馈历史;serverID 为零时返回全部。
func (c *Client) FeedbackHistory(ctx context.Context, serverID uint64) ([]reputation.FeedbackRecord, error) {
	if c.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置反馈账本")
	}
	return c.ledger.History(ctx, serverID)
}
