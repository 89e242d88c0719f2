package snarkjs

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/zk"
	"ZKRebalance-Chain/pkg/logger"
)

// Verifier 通过 snarkjs groth16 verify 判定证明有效性。
// 判定语义:退出码为 0 且标准输出含 "OK" 才算有效;
// 工具正常运行但拒绝证明是"无效",工具本身无法运行是"不确定"。
type Verifier struct {
	cfg Config
}

var _ zk.VerifierGateway = (*Verifier)(nil)

// NewVerifier 创建 Verifier。
func NewVerifier(cfg Config) (*Verifier, error) {
	cfg.applyDefaults()
	if cfg.VerificationKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "验证需要 verification_key")
	}
	return &Verifier{cfg: cfg}, nil
}

// VerifyProof 实现 zk.VerifierGateway。
func (v *Verifier) VerifyProof(ctx context.Context, proof zk.Proof, publicInputs json.RawMessage) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	dir, cleanup, err := workDir(v.cfg.BuildDir, "verify-*")
	if err != nil {
		return false, xerrors.Wrap(zk.CodeVerifierIndeterminate, err, "准备验证工作目录失败")
	}
	defer cleanup()

	proofPath := filepath.Join(dir, "proof.json")
	publicPath := filepath.Join(dir, "public.json")

	proofRaw, err := json.Marshal(proof)
	if err != nil {
		return false, xerrors.Wrap(zk.CodeVerifierIndeterminate, err, "序列化证明失败")
	}
	if err := os.WriteFile(proofPath, proofRaw, 0o644); err != nil {
		return false, xerrors.Wrap(zk.CodeVerifierIndeterminate, err, "写入证明文件失败")
	}
	if len(publicInputs) == 0 {
		publicInputs = json.RawMessage("[]")
	}
	if err := os.WriteFile(publicPath, publicInputs, 0o644); err != nil {
		return false, xerrors.Wrap(zk.CodeVerifierIndeterminate, err, "写入公开输入失败")
	}

	stdout, runErr := runCommand(ctx, v.cfg.Binary, "groth16", "verify",
		v.cfg.VerificationKey, publicPath, proofPath)
	if runErr != nil {
		// 超时或进程被取消:结论不确定。
		if ctx.Err() != nil {
			return false, xerrors.Wrap(zk.CodeVerifierIndeterminate, ctx.Err(), "验证超时")
		}
		// 工具运行了但以非零码退出:证明被明确拒绝。
		var exitErr *exec.ExitError
		if stdErrors.As(runErr, &exitErr) {
			logger.Named("snarkjs").Info("证明被验证工具拒绝", "exit_code", exitErr.ExitCode())
			return false, nil
		}
		return false, xerrors.Wrap(zk.CodeVerifierIndeterminate, runErr, "验证工具无法运行")
	}

	if strings.Contains(stdout, "OK") {
		return true, nil
	}
	return false, nil
}
