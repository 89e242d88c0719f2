package pipeline

import "ZKRebalance-Chain/internal/zk"

// Report 汇总三个阶段的离散得分与派生标志。任何阶段的结果都不丢弃,
// 运维方由此区分策略违规、密码学失败与基础设施故障。
type Report struct {
	StructureScore   int  `json:"structure_score"`
	CryptoScore      int  `json:"cryptographic_score"`
	LogicScore       int  `json:"logic_score"`
	OverallScore     int  `json:"overall_score"`
	ProofValid       bool `json:"proof_valid"`
	MeetsConstraints bool `json:"meets_constraints"`
}

// Compose 按固定权重 0.2/0.5/0.3 聚合三个阶段得分,整体分向下取整。
// 密码学正确性权重最高。
func Compose(structure, crypto, logic int) Report {
	overall := (2*structure + 5*crypto + 3*logic) / 10
	return Report{
		StructureScore:   structure,
		CryptoScore:      crypto,
		LogicScore:       logic,
		OverallScore:     overall,
		ProofValid:       crypto == 100,
		MeetsConstraints: logic >= 80,
	}
}

// IsValid 报告整体是否可接受。
func (r Report) IsValid() bool {
	return r.OverallScore >= 70
}

// ValidationPackage 是验证方产出并按 data_hash 落库的验证包,
// 同一哈希只产出一次。
type ValidationPackage struct {
	DataHash        string          `json:"data_hash"`
	ValidatorID     uint64          `json:"validator_agent_id"`
	ValidatorDomain string          `json:"validator_domain"`
	Timestamp       int64           `json:"timestamp"`
	Score           int             `json:"validation_score"`
	Report          Report          `json:"validation_report"`
	OriginalProof   zk.ProofPackage `json:"original_proof"`
}
