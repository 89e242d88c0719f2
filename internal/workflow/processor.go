package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/observability/alerting"
	"ZKRebalance-Chain/internal/observability/metrics"
	"ZKRebalance-Chain/pkg/logger"
)

// Executor 定义了处理器所需的编排能力。
// 执行失败时返回的结果可以非空,携带失败前已完成步骤的部分轨迹。
type Executor interface {
	Execute(ctx context.Context, params RunParams) (*RunResult, error)
}

// Processor 负责从队列消费运行并交给编排器执行。
type Processor struct {
	executor     Executor
	store        RunStore
	consumer     Consumer
	producer     Producer
	workerCount  int
	retryBackoff time.Duration
	logger       *slog.Logger
	alerter      alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRetryBackoff 设置可重试失败重投前的退避时长。
func WithRetryBackoff(backoff time.Duration) ProcessorOption {
	return func(p *Processor) {
		if backoff > 0 {
			p.retryBackoff = backoff
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store RunStore, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动运行处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	run, err := p.store.Claim(ctx, runID)
	if err != nil {
		if stdErrors.Is(err, ErrRunNotFound) || stdErrors.Is(err, ErrRunCompleted) ||
			stdErrors.Is(err, ErrRunExhausted) || stdErrors.Is(err, ErrRunConflict) {
			p.logDebug("跳过运行", slog.String("run_id", runID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取运行失败", slog.Any("error", err), slog.String("run_id", runID))
		p.emitAlert(ctx, &Run{ID: runID}, CodeRunProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, cloneParams(run.Params))
	if execErr != nil {
		return p.handleExecutionFailure(ctx, run, result, execErr)
	}

	record := RunResult{}
	if result != nil {
		record = *result
	}
	if err := p.store.MarkSucceeded(ctx, run.ID, record); err != nil {
		logger.L().Error("标记运行成功状态失败", slog.Any("error", err), slog.String("run_id", run.ID))
		if storeErr := p.store.MarkFailed(ctx, run.ID, CodeRunProcessing, err.Error(), false, result); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("run_id", run.ID))
			return storeErr
		}
		if pubErr := p.republish(ctx, run.ID); pubErr != nil {
			return xerrors.Wrap(CodeRunPublish, pubErr, fmt.Sprintf("运行 %s 在标记成功失败后重投失败", run.ID))
		}
		logger.Audit().Warn("运行标记成功失败后重试",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	metrics.ObserveRunOutcome("succeeded")
	logger.Audit().Info("运行执行成功",
		slog.String("run_id", run.ID),
		slog.String("data_hash", record.DataHash),
		slog.Int("overall_score", record.Report.OverallScore),
		slog.Int("quality_score", record.QualityScore),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, run *Run, partial *RunResult, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeRunProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := run.Attempts >= run.MaxAttempts || !retryable

	if storeErr := p.store.MarkFailed(ctx, run.ID, code, execErr.Error(), terminal, partial); storeErr != nil {
		logger.L().Error("标记运行失败状态出错", slog.Any("error", storeErr), slog.String("run_id", run.ID))
		return storeErr
	}
	completedSteps := 0
	if partial != nil {
		completedSteps = len(partial.Steps)
	}
	logger.Audit().Warn("运行执行失败",
		slog.String("run_id", run.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", run.Attempts),
		slog.Int("max_attempts", run.MaxAttempts),
		slog.Int("completed_steps", completedSteps),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, run, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.republish(ctx, run.ID); pubErr != nil {
			return xerrors.Wrap(CodeRunPublish, pubErr, fmt.Sprintf("运行 %s 重投失败", run.ID))
		}
		metrics.ObserveRunOutcome("requeued")
		p.logDebug("运行已重新排队", slog.String("run_id", run.ID), slog.Int("attempts", run.Attempts))
		return nil
	}
	metrics.ObserveRunOutcome("failed")
	return nil
}

// republish 把运行重新投递回队列,重投前按配置退避。
func (p *Processor) republish(ctx context.Context, runID string) error {
	if p.retryBackoff > 0 {
		timer := time.NewTimer(p.retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return p.producer.Publish(ctx, runID)
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		// 将slog.Attr转换为[]any
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, run *Run, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || run == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		RunID:       run.ID,
		Attempts:    run.Attempts,
		MaxAttempts: run.MaxAttempts,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("run_id", run.ID),
			slog.String("stage", stage),
		)
	}
}
