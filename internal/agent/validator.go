package agent

import (
	"context"
	"time"

	"ZKRebalance-Chain/internal/cas"
	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/pipeline"
	"ZKRebalance-Chain/internal/registry"
	"ZKRebalance-Chain/internal/zk"
)

// Validator 是验证方:按内容哈希取回证明包,跑三段式验证流水线,
// 落盘验证包并把总分写回链上。
type Validator struct {
	*Base
	packages cas.Store
	pipeline *pipeline.Pipeline
}

// NewValidator 创建验证方角色。
func NewValidator(base *Base, packages cas.Store, pipe *pipeline.Pipeline) *Validator {
	return &Validator{Base: base, packages: packages, pipeline: pipe}
}

// FetchPackage 按内容哈希取回并解码证明包。
// 取不到包返回可重试的 PACKAGE_NOT_FOUND(验证请求可能先于发布到达);
// 包内容无法解码则是终态 INVALID_PROOF_FORMAT。
func (v *Validator) FetchPackage(ctx context.Context, digest cas.Digest) (*zk.ProofPackage, error) {
	payload, err := v.packages.Get(ctx, cas.NamespaceProofs, digest.Hex())
	if err != nil {
		return nil, err
	}
	return zk.DecodeProofPackage(payload)
}

// Evaluate 对证明包跑三段式流水线,返回各阶段评分。
func (v *Validator) Evaluate(ctx context.Context, pkg *zk.ProofPackage) (pipeline.Report, error) {
	if v.pipeline == nil {
		return pipeline.Report{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置验证流水线")
	}
	report := v.pipeline.Validate(ctx, pkg)
	v.log.Info("验证完成",
		"structure", report.StructureScore,
		"crypto", report.CryptoScore,
		"logic", report.LogicScore,
		"overall", report.OverallScore,
		"valid", report.IsValid(),
	)
	return report, nil
}

// PublishValidation 组装验证包并写入验证命名空间,键沿用原证明包哈希。
func (v *Validator) PublishValidation(ctx context.Context, digest cas.Digest, pkg *zk.ProofPackage, report pipeline.Report) (*pipeline.ValidationPackage, error) {
	identity, err := v.requireIdentity()
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "证明包不能为空")
	}

	vpkg := &pipeline.ValidationPackage{
		DataHash:        digest.Hex(),
		ValidatorID:     identity.ID,
		ValidatorDomain: identity.Domain,
		Timestamp:       time.Now().Unix(),
		Score:           report.OverallScore,
		Report:          report,
		OriginalProof:   *pkg,
	}
	vpayload, err := cas.Canonicalize(vpkg)
	if err != nil {
		return nil, err
	}
	if err := v.packages.Put(ctx, cas.NamespaceValidations, digest.Hex(), vpayload); err != nil {
		return nil, err
	}
	v.log.Info("验证包已发布", "hash", digest.Hex(), "score", report.OverallScore)
	return vpkg, nil
}

// ValidateByHash 执行一次完整验证:取包、评分、落盘验证包。
func (v *Validator) ValidateByHash(ctx context.Context, digest cas.Digest) (*pipeline.Report, *pipeline.ValidationPackage, error) {
	if _, err := v.requireIdentity(); err != nil {
		return nil, nil, err
	}

	pkg, err := v.FetchPackage(ctx, digest)
	if err != nil {
		return nil, nil, err
	}
	report, err := v.Evaluate(ctx, pkg)
	if err != nil {
		return nil, nil, err
	}
	vpkg, err := v.PublishValidation(ctx, digest, pkg, report)
	if err != nil {
		return nil, nil, err
	}
	return &report, vpkg, nil
}

// SubmitResponse 把验证总分写回验证注册表。
func (v *Validator) SubmitResponse(ctx context.Context, digest cas.Digest, report *pipeline.Report) (registry.TxRef, error) {
	if _, err := v.requireIdentity(); err != nil {
		return registry.TxRef{}, err
	}
	if report == nil {
		return registry.TxRef{}, xerrors.New(xerrors.CodeInvalidArgument, "验证报告不能为空")
	}

	score := report.OverallScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	ref, err := v.registry.SubmitValidationResponse(ctx, digest.Bytes32(), uint8(score))
	if err != nil {
		return registry.TxRef{}, err
	}
	v.log.Info("验证响应已上链", "hash", digest.Hex(), "score", score, "tx", ref.Hash.Hex())
	return ref, nil
}
