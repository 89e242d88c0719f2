package agent

import (
	"context"
	"time"

	"ZKRebalance-Chain/internal/cas"
	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/plan"
	"ZKRebalance-Chain/internal/registry"
	"ZKRebalance-Chain/internal/zk"
)

// defaultCircuitName 是证明元数据中记录的电路名。
const defaultCircuitName = "rebalancing"

// Provider 是再平衡服务方:构建计划,生成证明,发布证明包,
// 并通过注册表发起验证请求与反馈授权。
type Provider struct {
	*Base
	prover   zk.ProverGateway
	packages cas.Store
	circuit  string
}

// ProviderOption 定义 Provider 的可选配置。
type ProviderOption func(*Provider)

// WithCircuitName 覆盖证明元数据中的电路名。
func WithCircuitName(name string) ProviderOption {
	return func(p *Provider) {
		if name != "" {
			p.circuit = name
		}
	}
}

// NewProvider 创建服务方角色。
func NewProvider(base *Base, prover zk.ProverGateway, packages cas.Store, opts ...ProviderOption) *Provider {
	p := &Provider{
		Base:     base,
		prover:   prover,
		packages: packages,
		circuit:  defaultCircuitName,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// BuildPlan 构建价值守恒的再平衡计划。越界配比只产生警告,
// 由验证阶段裁决;总值不守恒则直接失败。
func (p *Provider) BuildPlan(req plan.BuildRequest) (*plan.Plan, []plan.Warning, error) {
	built, warnings, err := plan.Build(req)
	if err != nil {
		return nil, nil, err
	}
	for _, warning := range warnings {
		p.log.Warn("计划配比越界", "asset", warning.Index, "percentage", warning.Percentage, "detail", warning.Detail)
	}
	return built, warnings, nil
}

// GenerateProof 把计划转成电路输入并调用证明网关。
func (p *Provider) GenerateProof(ctx context.Context, built *plan.Plan) (*zk.ProverOutput, zk.CircuitInput, error) {
	if built == nil {
		return nil, zk.CircuitInput{}, xerrors.New(xerrors.CodeInvalidArgument, "计划不能为空")
	}
	if p.prover == nil {
		return nil, zk.CircuitInput{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置证明网关")
	}

	input := zk.CircuitInput{
		OldBalances:          built.OldBalances,
		NewBalances:          built.NewBalances,
		Prices:               built.Prices,
		TotalValueCommitment: built.NewTotalValue,
		MinPct:               built.MinPct,
		MaxPct:               built.MaxPct,
	}
	output, err := p.prover.GenerateProof(ctx, input)
	if err != nil {
		return nil, zk.CircuitInput{}, err
	}
	p.log.Info("证明生成完成", "circuit", p.circuit)
	return output, input, nil
}

// PublishProof 组装证明包,计算规范化内容哈希并存入内容仓库。
// 包一经发布不可变更,后续角色只凭哈希取用。
func (p *Provider) PublishProof(ctx context.Context, built *plan.Plan, input zk.CircuitInput, output *zk.ProverOutput) (cas.Digest, *zk.ProofPackage, error) {
	identity, err := p.requireIdentity()
	if err != nil {
		return cas.Digest{}, nil, err
	}
	if built == nil || output == nil {
		return cas.Digest{}, nil, xerrors.New(xerrors.CodeInvalidArgument, "计划与证明产物不能为空")
	}

	pkg := &zk.ProofPackage{
		Proof:        output.Proof,
		PublicInputs: output.PublicInputs,
		Plan:         *built,
		CircuitInput: input,
		Metadata: zk.ProofMetadata{
			ProofSystem: zk.ProtocolGroth16,
			Curve:       zk.CurveBN128,
			CircuitName: p.circuit,
			ProducerID:  identity.ID,
			Timestamp:   time.Now().Unix(),
		},
	}

	digest, payload, err := cas.Sum(pkg)
	if err != nil {
		return cas.Digest{}, nil, err
	}
	if err := p.packages.Put(ctx, cas.NamespaceProofs, digest.Hex(), payload); err != nil {
		return cas.Digest{}, nil, err
	}

	p.log.Info("证明包已发布", "hash", digest.Hex(), "producer", identity.ID)
	return digest, pkg, nil
}

// RequestValidation 在链上请求指定验证者校验哈希对应的证明包。
// 必须先发布再请求,否则验证者取包会扑空。
func (p *Provider) RequestValidation(ctx context.Context, validatorID uint64, digest cas.Digest) (registry.TxRef, error) {
	identity, err := p.requireIdentity()
	if err != nil {
		return registry.TxRef{}, err
	}

	ref, err := p.registry.RequestValidation(ctx, validatorID, identity.ID, digest.Bytes32())
	if err != nil {
		return registry.TxRef{}, err
	}
	p.log.Info("验证请求已上链",
		"validator", validatorID,
		"server", identity.ID,
		"hash", digest.Hex(),
		"tx", ref.Hash.Hex(),
	)
	return ref, nil
}

// AuthorizeFeedback 授权客户代理对本服务留反馈。
func (p *Provider) AuthorizeFeedback(ctx context.Context, clientID uint64) (registry.TxRef, error) {
	identity, err := p.requireIdentity()
	if err != nil {
		return registry.TxRef{}, err
	}

	ref, err := p.registry.AuthorizeFeedback(ctx, clientID, identity.ID)
	if err != nil {
		return registry.TxRef{}, err
	}
	p.log.Info("反馈授权已上链", "client", clientID, "server", identity.ID, "tx", ref.Hash.Hex())
	return ref, nil
}
