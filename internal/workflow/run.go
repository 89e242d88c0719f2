// Package workflow 把一次完整的三方再平衡协议(构建计划、生成证明、
// 发布、验证、反馈、信誉汇总)作为可持久化、可重试的运行来调度。
// 运行排队执行,状态落入 RunStore,处理器按错误的可重试性决定重投或终态。
package workflow

import (
	stdErrors "errors"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/pipeline"
	"ZKRebalance-Chain/internal/reputation"
)

// Status 表示运行在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StepStatus 是步骤轨迹中单步的结论。
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepEvent 记录编排序列中一步的执行情况。失败运行保留已完成的部分轨迹。
type StepEvent struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	At     int64      `json:"at"`
}

// RunParams 是一次再平衡运行的输入。
// Policy 引用配比策略目录中的命名档位,留空时使用显式的 MinPct/MaxPct。
// 三个 Domain 字段可按运行覆盖默认的代理域名,留空时取配置值。
type RunParams struct {
	OldBalances     []string `json:"old_balances"`
	NewBalances     []string `json:"new_balances"`
	Prices          []string `json:"prices"`
	MinPct          int      `json:"min_pct"`
	MaxPct          int      `json:"max_pct"`
	Policy          string   `json:"policy,omitempty"`
	ProviderDomain  string   `json:"provider_domain,omitempty"`
	ValidatorDomain string   `json:"validator_domain,omitempty"`
	ClientDomain    string   `json:"client_domain,omitempty"`
	Comment         string   `json:"comment,omitempty"`
}

// RunResult 汇总一次运行产出的全部事实。失败时 Steps 保留部分轨迹,
// 其余字段停留在失败步骤之前的取值。
type RunResult struct {
	ProviderID     uint64             `json:"provider_id,omitempty"`
	ValidatorID    uint64             `json:"validator_id,omitempty"`
	ClientID       uint64             `json:"client_id,omitempty"`
	DataHash       string             `json:"data_hash,omitempty"`
	Report         pipeline.Report    `json:"report"`
	ValidationTx   string             `json:"validation_tx,omitempty"`
	ResponseTx     string             `json:"response_tx,omitempty"`
	FeedbackAuthTx string             `json:"feedback_auth_tx,omitempty"`
	QualityScore   int                `json:"quality_score"`
	Reputation     reputation.Summary `json:"reputation"`
	Steps          []StepEvent        `json:"steps"`
}

// Run 描述一次排队执行的再平衡运行。
type Run struct {
	ID          string     `json:"id"`
	Params      RunParams  `json:"params"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Result      *RunResult `json:"result,omitempty"`
	CreatedAt   int64      `json:"created_at"`
	UpdatedAt   int64      `json:"updated_at"`
}

var (
	// ErrRunNotFound 表示指定的运行不存在。
	ErrRunNotFound = xerrors.New(CodeRunNotFound, "run not found")
	// ErrRunConflict 表示运行在当前状态下无法进行所请求的操作。
	ErrRunConflict = xerrors.New(CodeRunConflict, "run conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRunCompleted 表示运行已经成功完成。
	ErrRunCompleted = xerrors.New(CodeRunCompleted, "run already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrRunExhausted 表示运行的重试次数已经耗尽。
	ErrRunExhausted = xerrors.New(CodeRunExhausted, "run attempts exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeRunNotFound   xerrors.Code = "RUN_NOT_FOUND"
	CodeRunConflict   xerrors.Code = "RUN_CONFLICT"
	CodeRunCompleted  xerrors.Code = "RUN_COMPLETED"
	CodeRunExhausted  xerrors.Code = "RUN_ATTEMPTS_EXHAUSTED"
	CodeRunValidation xerrors.Code = "RUN_VALIDATION_FAILED"
	CodeRunPublish    xerrors.Code = "RUN_PUBLISH_FAILED"
	CodeRunProcessing xerrors.Code = "RUN_PROCESSING_FAILED"
	CodeQueueClosed   xerrors.Code = "QUEUE_CLOSED"
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:   "run not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRunConflict, xerrors.Attributes{
		Message:   "run conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRunCompleted, xerrors.Attributes{
		Message:   "run already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRunExhausted, xerrors.Attributes{
		Message:   "run attempts exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeRunValidation, xerrors.Attributes{
		Message:   "run parameters invalid",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{
		Message:   "failed to enqueue run",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeRunProcessing, xerrors.Attributes{
		Message:   "run execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeQueueClosed, xerrors.Attributes{
		Message:   "run queue closed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// IsRunError 判断错误是否为指定的运行错误。
func IsRunError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeRunNotFound:
		return stdErrors.Is(err, ErrRunNotFound)
	case CodeRunConflict:
		return stdErrors.Is(err, ErrRunConflict)
	case CodeRunCompleted:
		return stdErrors.Is(err, ErrRunCompleted)
	case CodeRunExhausted:
		return stdErrors.Is(err, ErrRunExhausted)
	default:
		return false
	}
}

// IsValidStatus 检查给定的运行状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneParams(params RunParams) RunParams {
	clone := params
	clone.OldBalances = append([]string(nil), params.OldBalances...)
	clone.NewBalances = append([]string(nil), params.NewBalances...)
	clone.Prices = append([]string(nil), params.Prices...)
	return clone
}

func cloneResult(result *RunResult) *RunResult {
	if result == nil {
		return nil
	}
	clone := *result
	clone.Steps = append([]StepEvent(nil), result.Steps...)
	if result.Reputation.LastRecord != nil {
		record := *result.Reputation.LastRecord
		clone.Reputation.LastRecord = &record
	}
	return &clone
}
