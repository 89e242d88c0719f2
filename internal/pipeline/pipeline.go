// Package pipeline 实现三阶段证明验证:结构检查、密码学验证、逻辑复算。
// 三个阶段考察同一证明包的互不重叠侧面,按固定顺序执行,
// 外部验证器的故障被隔离成中间分,不会污染其余阶段。
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"ZKRebalance-Chain/internal/zk"
	"ZKRebalance-Chain/pkg/logger"
)

// Pipeline 聚合三个阶段并产出完整报告。
type Pipeline struct {
	verifier      zk.VerifierGateway
	verifyTimeout time.Duration
	log           *slog.Logger
}

// New 创建 Pipeline。timeout 只约束外部验证器调用。
func New(verifier zk.VerifierGateway, verifyTimeout time.Duration) *Pipeline {
	if verifyTimeout <= 0 {
		verifyTimeout = 2 * time.Minute
	}
	return &Pipeline{
		verifier:      verifier,
		verifyTimeout: verifyTimeout,
		log:           logger.Named("pipeline"),
	}
}

// Validate 对证明包执行完整验证并返回报告。报告总是完整:
// 即使验证工具不可达,密码学阶段也映射为中间分 50 而非失败。
func (p *Pipeline) Validate(ctx context.Context, pkg *zk.ProofPackage) Report {
	structure := StructureScore(pkg)
	crypto := p.cryptoScore(ctx, pkg)
	logic := LogicScore(pkg.Plan)

	report := Compose(structure, crypto, logic)
	logger.Audit().Info("验证流水线完成",
		"structure", report.StructureScore,
		"crypto", report.CryptoScore,
		"logic", report.LogicScore,
		"overall", report.OverallScore,
		"proof_valid", report.ProofValid,
		"meets_constraints", report.MeetsConstraints,
	)
	return report
}

// cryptoScore 把验证器的三态结论映射成离散得分:
// 有效 100,无效 0,工具故障 50(不确定,而非无效)。
func (p *Pipeline) cryptoScore(ctx context.Context, pkg *zk.ProofPackage) int {
	if p.verifier == nil {
		p.log.Warn("未配置验证器,密码学阶段记为不确定")
		return 50
	}

	verifyCtx, cancel := context.WithTimeout(ctx, p.verifyTimeout)
	defer cancel()

	valid, err := p.verifier.VerifyProof(verifyCtx, pkg.Proof, pkg.PublicInputs)
	if err != nil {
		p.log.Warn("密码学验证不确定",
			"code", string(zk.CodeVerifierIndeterminate),
			"error", err.Error(),
		)
		return 50
	}
	if valid {
		return 100
	}
	p.log.Info("密码学验证未通过", "code", string(zk.CodeVerificationFailed))
	return 0
}
