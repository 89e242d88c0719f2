package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/pkg/logger"
)

// SubmitRequest 是提交运行的入参。指定 ID 时提交幂等:
// 已存在的运行直接返回,不会重复入队。
type SubmitRequest struct {
	ID     string    `json:"id,omitempty"`
	Params RunParams `json:"params"`
}

// Service 负责运行的创建与查询。
type Service struct {
	store       RunStore
	producer    Producer
	maxAttempts int
}

// NewService 构造运行服务。
func NewService(store RunStore, producer Producer, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{store: store, producer: producer, maxAttempts: maxAttempts}
}

// Submit 创建一个新的运行并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Run, error) {
	if err := validateParams(req.Params); err != nil {
		return nil, err
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化")
	}

	runID := strings.TrimSpace(req.ID)
	if runID != "" {
		run, err := s.store.Get(ctx, runID)
		if err == nil {
			return run, nil
		}
		if !stdErrors.Is(err, ErrRunNotFound) {
			return nil, err
		}
	} else {
		runID = uuid.NewString()
	}

	run := &Run{
		ID:          runID,
		Params:      cloneParams(req.Params),
		Status:      StatusPending,
		Attempts:    0,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.Create(ctx, run); err != nil {
		if stdErrors.Is(err, ErrRunConflict) {
			existing, getErr := s.store.Get(ctx, runID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrRunNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, runID); err != nil {
		logger.L().Error("运行入队失败", slog.Any("error", err), slog.String("run_id", runID))
		wrapped := xerrors.Wrap(CodeRunPublish, err, "发布运行到队列失败")
		_ = s.store.MarkFailed(ctx, runID, CodeRunPublish, wrapped.Error(), true, nil)
		return nil, wrapped
	}
	logger.Audit().Info("运行入队成功",
		slog.String("run_id", runID),
		slog.String("policy", run.Params.Policy),
		slog.Int("assets", len(run.Params.NewBalances)),
		slog.Int("max_attempts", run.MaxAttempts),
	)
	return run, nil
}

// Get 返回指定运行的状态。
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的运行列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的运行统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (RunStats, error) {
	if s.store == nil {
		return RunStats{}, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询运行状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Status == StatusSucceeded || run.Status == StatusFailed {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func validateParams(params RunParams) error {
	if len(params.OldBalances) == 0 || len(params.NewBalances) == 0 || len(params.Prices) == 0 {
		return xerrors.New(CodeRunValidation, "余额与价格数组不能为空")
	}
	if len(params.OldBalances) != len(params.NewBalances) || len(params.OldBalances) != len(params.Prices) {
		return xerrors.New(CodeRunValidation, "余额与价格数组长度必须一致")
	}
	if params.MinPct < 0 || params.MinPct > 100 {
		return xerrors.New(CodeRunValidation, "min_pct 必须位于 [0,100] 区间")
	}
	if params.MaxPct < 0 || params.MaxPct > 100 {
		return xerrors.New(CodeRunValidation, "max_pct 必须位于 [0,100] 区间")
	}
	if params.MaxPct > 0 && params.MinPct > params.MaxPct {
		return xerrors.New(CodeRunValidation, "min_pct 不能大于 max_pct")
	}
	return nil
}
