package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ZKRebalance-Chain/internal/agent"
	"ZKRebalance-Chain/internal/cas"
	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/observability/metrics"
	"ZKRebalance-Chain/internal/pipeline"
	"ZKRebalance-Chain/internal/plan"
	"ZKRebalance-Chain/internal/policy"
	"ZKRebalance-Chain/internal/registry"
	"ZKRebalance-Chain/internal/reputation"
	"ZKRebalance-Chain/internal/zk"
	"ZKRebalance-Chain/pkg/logger"
)

// 步骤轨迹中使用的固定步骤名。顺序即协议顺序。
const (
	StepRegisterProvider  = "register_provider"
	StepRegisterValidator = "register_validator"
	StepRegisterClient    = "register_client"
	StepBuildPlan         = "build_plan"
	StepGenerateProof     = "generate_proof"
	StepPublishProof      = "publish_proof"
	StepRequestValidation = "request_validation"
	StepLoadPackage       = "load_package"
	StepRunPipeline       = "run_pipeline"
	StepPublishValidation = "publish_validation"
	StepSubmitResponse    = "submit_response"
	StepAuthorizeFeedback = "authorize_feedback"
	StepEvaluateQuality   = "evaluate_quality"
	StepSubmitFeedback    = "submit_feedback"
	StepSummarize         = "summarize"
)

// defaultFeedbackComment 是运行参数未给出评语时客户端提交的默认反馈。
const defaultFeedbackComment = "Excellent ZK proof-based rebalancing service with strong privacy guarantees"

// OrchestratorDeps 汇集编排器依赖的外部网关。
// 三个注册表客户端各代表一个签名账户,Catalog 可为 nil。
type OrchestratorDeps struct {
	ProviderRegistry  registry.Client
	ValidatorRegistry registry.Client
	ClientRegistry    registry.Client
	Prover            zk.ProverGateway
	Pipeline          *pipeline.Pipeline
	Packages          cas.Store
	Ledger            reputation.Ledger
	Catalog           policy.Catalog
}

// OrchestratorConfig 描述编排器的静态参数。
type OrchestratorConfig struct {
	ProviderDomain  string
	ValidatorDomain string
	ClientDomain    string
	DefaultMinPct   int
	DefaultMaxPct   int
	CircuitName     string
	StepTimeout     time.Duration
}

// Orchestrator 按固定顺序驱动一次完整的三方再平衡协议:
// 注册三个角色、构建计划、生成并发布证明、请求验证、执行验证管线、
// 发布验证包并回写链上、授权反馈、评估质量、提交反馈、汇总信誉。
// 任一步骤报告致命错误时中止剩余序列,已完成的步骤轨迹保留在结果中。
type Orchestrator struct {
	deps OrchestratorDeps
	cfg  OrchestratorConfig
	log  *slog.Logger
}

// NewOrchestrator 创建编排器并校验必要依赖。
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) (*Orchestrator, error) {
	if deps.ProviderRegistry == nil || deps.ValidatorRegistry == nil || deps.ClientRegistry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "三个角色的注册表客户端均不能为空")
	}
	if deps.Prover == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "证明网关不能为空")
	}
	if deps.Pipeline == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "验证管线不能为空")
	}
	if deps.Packages == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "证明包存储不能为空")
	}
	if deps.Ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "反馈账本不能为空")
	}
	if cfg.ProviderDomain == "" {
		cfg.ProviderDomain = "rebalancer.agent.local"
	}
	if cfg.ValidatorDomain == "" {
		cfg.ValidatorDomain = "validator.agent.local"
	}
	if cfg.ClientDomain == "" {
		cfg.ClientDomain = "client.agent.local"
	}
	if cfg.DefaultMaxPct <= 0 || cfg.DefaultMaxPct > 100 {
		cfg.DefaultMaxPct = 100
	}
	if cfg.DefaultMinPct < 0 {
		cfg.DefaultMinPct = 0
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 90 * time.Second
	}
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		log:  logger.Named("workflow.orchestrator"),
	}, nil
}

// Execute 实现 Executor 接口,执行一次完整的运行。
// 返回的结果在失败时仍携带已完成步骤的轨迹,供持久层落盘。
func (o *Orchestrator) Execute(ctx context.Context, params RunParams) (*RunResult, error) {
	minPct, maxPct, err := o.resolveBounds(params)
	if err != nil {
		return nil, err
	}

	provider, validator, client := o.buildTriad(params)
	result := &RunResult{}

	// 阶段一:三个角色各自确保链上身份。
	if err := o.step(ctx, result, StepRegisterProvider, func(stepCtx context.Context) (string, error) {
		identity, err := provider.EnsureRegistered(stepCtx)
		if err != nil {
			return "", err
		}
		result.ProviderID = identity.ID
		return fmt.Sprintf("agent_id=%d domain=%s", identity.ID, identity.Domain), nil
	}); err != nil {
		return result, err
	}
	if err := o.step(ctx, result, StepRegisterValidator, func(stepCtx context.Context) (string, error) {
		identity, err := validator.EnsureRegistered(stepCtx)
		if err != nil {
			return "", err
		}
		result.ValidatorID = identity.ID
		return fmt.Sprintf("agent_id=%d domain=%s", identity.ID, identity.Domain), nil
	}); err != nil {
		return result, err
	}
	if err := o.step(ctx, result, StepRegisterClient, func(stepCtx context.Context) (string, error) {
		identity, err := client.EnsureRegistered(stepCtx)
		if err != nil {
			return "", err
		}
		result.ClientID = identity.ID
		return fmt.Sprintf("agent_id=%d domain=%s", identity.ID, identity.Domain), nil
	}); err != nil {
		return result, err
	}

	// 阶段二:服务方构建计划、生成并发布证明,然后在链上请求验证。
	// 发布先于请求是硬性顺序,保证链上引用的哈希一定可取回。
	var built *plan.Plan
	if err := o.step(ctx, result, StepBuildPlan, func(context.Context) (string, error) {
		planned, warnings, err := provider.BuildPlan(plan.BuildRequest{
			OldBalances: params.OldBalances,
			NewBalances: params.NewBalances,
			Prices:      params.Prices,
			MinPct:      minPct,
			MaxPct:      maxPct,
		})
		if err != nil {
			return "", err
		}
		built = planned
		if len(warnings) > 0 {
			return fmt.Sprintf("total=%s warnings=%d", built.NewTotalValue, len(warnings)), nil
		}
		return "total=" + built.NewTotalValue, nil
	}); err != nil {
		return result, err
	}

	var output *zk.ProverOutput
	var input zk.CircuitInput
	if err := o.step(ctx, result, StepGenerateProof, func(stepCtx context.Context) (string, error) {
		generated, circuitInput, err := provider.GenerateProof(stepCtx, built)
		if err != nil {
			return "", err
		}
		output = generated
		input = circuitInput
		return fmt.Sprintf("protocol=%s curve=%s", generated.Proof.Protocol, generated.Proof.Curve), nil
	}); err != nil {
		return result, err
	}

	var digest cas.Digest
	if err := o.step(ctx, result, StepPublishProof, func(stepCtx context.Context) (string, error) {
		publishedDigest, _, err := provider.PublishProof(stepCtx, built, input, output)
		if err != nil {
			return "", err
		}
		digest = publishedDigest
		result.DataHash = digest.Hex()
		return "hash=" + digest.Hex(), nil
	}); err != nil {
		return result, err
	}

	if err := o.step(ctx, result, StepRequestValidation, func(stepCtx context.Context) (string, error) {
		tx, err := provider.RequestValidation(stepCtx, result.ValidatorID, digest)
		if err != nil {
			return "", err
		}
		result.ValidationTx = tx.Hash.Hex()
		return "tx=" + tx.Hash.Hex(), nil
	}); err != nil {
		return result, err
	}

	// 阶段三:验证方按哈希取包、执行三阶段管线、发布验证包并回写评分。
	var fetched *zk.ProofPackage
	if err := o.step(ctx, result, StepLoadPackage, func(stepCtx context.Context) (string, error) {
		loaded, err := validator.FetchPackage(stepCtx, digest)
		if err != nil {
			return "", err
		}
		fetched = loaded
		return "hash=" + digest.Hex(), nil
	}); err != nil {
		return result, err
	}

	var report pipeline.Report
	if err := o.step(ctx, result, StepRunPipeline, func(stepCtx context.Context) (string, error) {
		evaluated, err := validator.Evaluate(stepCtx, fetched)
		if err != nil {
			return "", err
		}
		report = evaluated
		result.Report = report
		metrics.ObserveValidation(report.IsValid(), report.OverallScore)
		return fmt.Sprintf("overall=%d valid=%t", report.OverallScore, report.IsValid()), nil
	}); err != nil {
		return result, err
	}

	if err := o.step(ctx, result, StepPublishValidation, func(stepCtx context.Context) (string, error) {
		vpkg, err := validator.PublishValidation(stepCtx, digest, fetched, report)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("validator_id=%d score=%d", vpkg.ValidatorID, vpkg.Score), nil
	}); err != nil {
		return result, err
	}

	if err := o.step(ctx, result, StepSubmitResponse, func(stepCtx context.Context) (string, error) {
		tx, err := validator.SubmitResponse(stepCtx, digest, &report)
		if err != nil {
			return "", err
		}
		result.ResponseTx = tx.Hash.Hex()
		return "tx=" + tx.Hash.Hex(), nil
	}); err != nil {
		return result, err
	}

	// 阶段四:服务方授权客户端反馈,客户端评估质量并提交,最后汇总信誉。
	if err := o.step(ctx, result, StepAuthorizeFeedback, func(stepCtx context.Context) (string, error) {
		tx, err := provider.AuthorizeFeedback(stepCtx, result.ClientID)
		if err != nil {
			return "", err
		}
		result.FeedbackAuthTx = tx.Hash.Hex()
		return "tx=" + tx.Hash.Hex(), nil
	}); err != nil {
		return result, err
	}

	if err := o.step(ctx, result, StepEvaluateQuality, func(context.Context) (string, error) {
		result.QualityScore = client.EvaluateQuality(fetched)
		return fmt.Sprintf("score=%d", result.QualityScore), nil
	}); err != nil {
		return result, err
	}

	if err := o.step(ctx, result, StepSubmitFeedback, func(stepCtx context.Context) (string, error) {
		comment := strings.TrimSpace(params.Comment)
		if comment == "" {
			comment = defaultFeedbackComment
		}
		record, err := client.SubmitFeedback(stepCtx, result.ProviderID, result.QualityScore, comment)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("server_id=%d score=%d", record.ServerID, record.Score), nil
	}); err != nil {
		return result, err
	}

	if err := o.step(ctx, result, StepSummarize, func(stepCtx context.Context) (string, error) {
		summary, err := client.Reputation(stepCtx, result.ProviderID)
		if err != nil {
			return "", err
		}
		result.Reputation = summary
		return fmt.Sprintf("count=%d average=%.2f", summary.Count, summary.AverageScore), nil
	}); err != nil {
		return result, err
	}

	o.log.Info("再平衡工作流完成",
		"data_hash", result.DataHash,
		"overall_score", result.Report.OverallScore,
		"quality_score", result.QualityScore,
		"reputation_count", result.Reputation.Count,
	)
	return result, nil
}

// step 执行一个步骤并把结果追加到轨迹。阻塞型步骤受统一的步骤超时约束。
func (o *Orchestrator) step(ctx context.Context, result *RunResult, name string, fn func(context.Context) (string, error)) error {
	stepCtx := ctx
	cancel := func() {}
	if o.cfg.StepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
	}
	detail, err := fn(stepCtx)
	cancel()

	event := StepEvent{Name: name, Status: StepOK, Detail: detail, At: time.Now().Unix()}
	if err != nil {
		event.Status = StepFailed
		event.Detail = err.Error()
		result.Steps = append(result.Steps, event)
		o.log.Error("工作流步骤失败", "step", name, "error", err)
		return err
	}
	result.Steps = append(result.Steps, event)
	o.log.Debug("工作流步骤完成", "step", name, "detail", detail)
	return nil
}

// buildTriad 为一次运行构建三个角色。注册表客户端与存储在运行之间共享,
// 角色壳按运行构建,因此单次运行可以覆盖代理域名。
func (o *Orchestrator) buildTriad(params RunParams) (*agent.Provider, *agent.Validator, *agent.Client) {
	providerBase := agent.NewBase("provider", domainOr(params.ProviderDomain, o.cfg.ProviderDomain), o.deps.ProviderRegistry)
	validatorBase := agent.NewBase("validator", domainOr(params.ValidatorDomain, o.cfg.ValidatorDomain), o.deps.ValidatorRegistry)
	clientBase := agent.NewBase("client", domainOr(params.ClientDomain, o.cfg.ClientDomain), o.deps.ClientRegistry)

	var opts []agent.ProviderOption
	if o.cfg.CircuitName != "" {
		opts = append(opts, agent.WithCircuitName(o.cfg.CircuitName))
	}
	provider := agent.NewProvider(providerBase, o.deps.Prover, o.deps.Packages, opts...)
	validator := agent.NewValidator(validatorBase, o.deps.Packages, o.deps.Pipeline)
	client := agent.NewClient(clientBase, o.deps.Ledger)
	return provider, validator, client
}

// resolveBounds 解析本次运行的配比边界:策略档位优先,其次显式参数,
// 最后落到配置默认值。未知策略名是致命错误。
func (o *Orchestrator) resolveBounds(params RunParams) (int, int, error) {
	if name := strings.TrimSpace(params.Policy); name != "" {
		if o.deps.Catalog == nil {
			return 0, 0, xerrors.New(CodeRunValidation, "未配置策略目录,无法解析策略 "+name)
		}
		profile, ok := o.deps.Catalog.Resolve(name)
		if !ok {
			return 0, 0, xerrors.New(CodeRunValidation, "未知的配比策略: "+name)
		}
		return profile.MinPct, profile.MaxPct, nil
	}
	minPct := params.MinPct
	if minPct < 0 {
		minPct = o.cfg.DefaultMinPct
	}
	maxPct := params.MaxPct
	if maxPct <= 0 {
		maxPct = o.cfg.DefaultMaxPct
	}
	return minPct, maxPct, nil
}

func domainOr(override, fallback string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return fallback
}

// Ensure Orchestrator 实现 Executor 接口。
var _ Executor = (*Orchestrator)(nil)

