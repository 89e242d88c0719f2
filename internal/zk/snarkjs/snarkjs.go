// Package snarkjs 通过调用 snarkjs 命令行工具实现 zk 网关端口。
// 每次调用都在独立的临时工作目录中完成,互不干扰。
package snarkjs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// Config 描述 snarkjs 工具链与电路制品的位置。
type Config struct {
	Binary          string
	BuildDir        string
	CircuitWasm     string
	CircuitR1CS     string
	ProvingKey      string
	VerificationKey string
	Timeout         time.Duration
}

func (c *Config) applyDefaults() {
	if c.Binary == "" {
		c.Binary = "snarkjs"
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
}

// runCommand 执行一条 snarkjs 子命令并返回标准输出。
func runCommand(ctx context.Context, binary string, args ...string) (string, error) {
	command := exec.CommandContext(ctx, binary, args...)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return stdout.String(), fmt.Errorf("snarkjs %s 执行失败: %w, stderr=%s",
			strings.Join(args[:min(2, len(args))], " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func workDir(base, pattern string) (string, func(), error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建构建目录失败")
		}
	}
	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return "", nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时工作目录失败")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	return dir, cleanup, nil
}
