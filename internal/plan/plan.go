// Package plan 负责构建并本地校验投资组合再平衡计划。
// 余额与价格一律使用十进制大整数字符串，杜绝浮点误差；
// 价值守恒在构建期是硬性前置条件，配比越界只产生警告，
// 真正的强制校验发生在验证方的逻辑阶段。
package plan

import (
	"fmt"
	"math/big"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// Allocation 描述再平衡后单个资产的持仓情况。
type Allocation struct {
	Index      int     `json:"index"`
	Balance    string  `json:"balance"`
	Value      string  `json:"value"`
	Percentage float64 `json:"percentage"`
}

// Plan 是一次再平衡的完整计划，哈希后作为证明包的一部分分发。
type Plan struct {
	OldBalances   []string     `json:"old_balances"`
	NewBalances   []string     `json:"new_balances"`
	Prices        []string     `json:"prices"`
	OldTotalValue string       `json:"old_total_value"`
	NewTotalValue string       `json:"new_total_value"`
	Allocations   []Allocation `json:"allocations"`
	MinPct        int          `json:"min_pct"`
	MaxPct        int          `json:"max_pct"`
}

// BuildRequest 是构建计划的输入。MaxPct 为 0 时按 100 处理。
type BuildRequest struct {
	OldBalances []string
	NewBalances []string
	Prices      []string
	MinPct      int
	MaxPct      int
}

// Warning 记录构建期发现的非致命问题，例如配比越界。
type Warning struct {
	Index      int     `json:"index"`
	Percentage float64 `json:"percentage"`
	Detail     string  `json:"detail"`
}

const (
	CodeValuePreservation xerrors.Code = "VALUE_PRESERVATION_VIOLATION"
)

// ErrValueNotPreserved 表示新旧组合总价值不相等，计划被拒绝。
var ErrValueNotPreserved = xerrors.New(CodeValuePreservation, "再平衡前后总价值不一致")

func init() {
	xerrors.Register(CodeValuePreservation, xerrors.Attributes{
		Message:   "portfolio value not preserved",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Build 构建再平衡计划。总价值不守恒返回 ErrValueNotPreserved 且不产出计划；
// 单资产配比越界只记为警告，计划仍然返回。
func Build(req BuildRequest) (*Plan, []Warning, error) {
	if len(req.OldBalances) == 0 {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "余额序列为空")
	}
	if len(req.OldBalances) != len(req.NewBalances) || len(req.OldBalances) != len(req.Prices) {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("序列长度不一致: old=%d new=%d prices=%d",
				len(req.OldBalances), len(req.NewBalances), len(req.Prices)))
	}

	minPct, maxPct := req.MinPct, req.MaxPct
	if maxPct <= 0 {
		maxPct = 100
	}
	if minPct < 0 || minPct > maxPct || maxPct > 100 {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("配比约束非法: [%d, %d]", minPct, maxPct))
	}

	oldTotal, err := SumProducts(req.OldBalances, req.Prices)
	if err != nil {
		return nil, nil, err
	}
	newTotal, err := SumProducts(req.NewBalances, req.Prices)
	if err != nil {
		return nil, nil, err
	}

	if oldTotal.Cmp(newTotal) != 0 {
		return nil, nil, xerrors.New(CodeValuePreservation,
			fmt.Sprintf("再平衡前后总价值不一致: %s != %s", oldTotal.String(), newTotal.String()))
	}

	allocations := make([]Allocation, 0, len(req.NewBalances))
	var warnings []Warning
	for i, balance := range req.NewBalances {
		value := new(big.Int).Mul(mustInt(balance), mustInt(req.Prices[i]))
		pct := PercentageOf(value, newTotal)
		allocations = append(allocations, Allocation{
			Index:      i,
			Balance:    balance,
			Value:      value.String(),
			Percentage: pct,
		})
		if pct < float64(minPct) || pct > float64(maxPct) {
			warnings = append(warnings, Warning{
				Index:      i,
				Percentage: pct,
				Detail:     fmt.Sprintf("资产 %d 配比 %.2f%% 超出 [%d%%, %d%%]", i, pct, minPct, maxPct),
			})
		}
	}

	p := &Plan{
		OldBalances:   append([]string(nil), req.OldBalances...),
		NewBalances:   append([]string(nil), req.NewBalances...),
		Prices:        append([]string(nil), req.Prices...),
		OldTotalValue: oldTotal.String(),
		NewTotalValue: newTotal.String(),
		Allocations:   allocations,
		MinPct:        minPct,
		MaxPct:        maxPct,
	}
	return p, warnings, nil
}

// SumProducts 计算 Σ balance[i]*price[i]。序列长度必须一致。
func SumProducts(balances, prices []string) (*big.Int, error) {
	if len(balances) != len(prices) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("序列长度不一致: balances=%d prices=%d", len(balances), len(prices)))
	}
	total := new(big.Int)
	for i := range balances {
		balance, err := ParseAmount(balances[i])
		if err != nil {
			return nil, err
		}
		price, err := ParseAmount(prices[i])
		if err != nil {
			return nil, err
		}
		total.Add(total, new(big.Int).Mul(balance, price))
	}
	return total, nil
}

// ParseAmount 解析非负十进制整数字符串。
func ParseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("无法解析整数: %q", raw))
	}
	if v.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("数值不允许为负: %q", raw))
	}
	return v, nil
}

// PercentageOf 返回 value 占 total 的百分比，保留两位小数，
// 四舍五入采用 round-half-away-from-zero。total 为零时返回 0。
// 构建与验证两侧共用同一套舍入，保证边界判定一致。
func PercentageOf(value, total *big.Int) float64 {
	if total.Sign() == 0 {
		return 0
	}
	// 以万分比整数运算保证精确，再转成两位小数的 float64。
	scaled := new(big.Int).Mul(value, big.NewInt(10000))
	quo, rem := new(big.Int).QuoRem(scaled, total, new(big.Int))
	if new(big.Int).Lsh(rem, 1).Cmp(total) >= 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return float64(quo.Int64()) / 100
}

// mustInt 在已通过 SumProducts 校验后二次解析，仅限内部使用。
func mustInt(raw string) *big.Int {
	v, _ := new(big.Int).SetString(raw, 10)
	return v
}
