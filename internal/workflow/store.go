package workflow

import (
	"context"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// RunStore 抽象了运行状态的持久化接口。
// MarkFailed 接受失败时刻已经累积的部分结果,使步骤轨迹在中止后仍可追溯。
type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Claim(ctx context.Context, id string) (*Run, error)
	MarkSucceeded(ctx context.Context, id string, result RunResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool, partial *RunResult) error
	List(ctx context.Context, opts ListOptions) ([]*Run, error)
	Stats(ctx context.Context, opts ListOptions) (RunStats, error)
	Close() error
}
