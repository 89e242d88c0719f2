package pipeline

import (
	"math/big"

	"ZKRebalance-Chain/internal/plan"
)

// 逻辑检查的分档返回值。
const (
	logicEmptyPlan     = 0
	logicValueMismatch = 30
	logicMalformedPlan = 50
	logicBoundBreach   = 70
	logicPassed        = 100
)

// LogicScore 独立复算计划的价值守恒与配比约束,不信任包内存储的
// 总值与配比数字,是纯函数:
//
//	0   余额或价格序列为空
//	50  计划畸形,无法复算(解析失败、长度不一致)
//	30  复算后新旧总价值不相等
//	70  价值守恒但存在配比越界
//	100 全部通过
func LogicScore(p plan.Plan) int {
	if len(p.OldBalances) == 0 || len(p.NewBalances) == 0 || len(p.Prices) == 0 {
		return logicEmptyPlan
	}

	oldTotal, err := plan.SumProducts(p.OldBalances, p.Prices)
	if err != nil {
		return logicMalformedPlan
	}
	newTotal, err := plan.SumProducts(p.NewBalances, p.Prices)
	if err != nil {
		return logicMalformedPlan
	}
	if oldTotal.Cmp(newTotal) != 0 {
		return logicValueMismatch
	}

	minPct, maxPct := p.MinPct, p.MaxPct
	if maxPct == 0 {
		maxPct = 100
	}
	for i := range p.NewBalances {
		balance, err := plan.ParseAmount(p.NewBalances[i])
		if err != nil {
			return logicMalformedPlan
		}
		price, err := plan.ParseAmount(p.Prices[i])
		if err != nil {
			return logicMalformedPlan
		}
		value := new(big.Int).Mul(balance, price)
		pct := plan.PercentageOf(value, newTotal)
		if pct < float64(minPct) || pct > float64(maxPct) {
			return logicBoundBreach
		}
	}
	return logicPassed
}
