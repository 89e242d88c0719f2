package snarkjs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/zk"
	"ZKRebalance-Chain/pkg/logger"
)

// Prover 通过 snarkjs 完成见证计算与 Groth16 证明生成。
type Prover struct {
	cfg Config
}

var _ zk.ProverGateway = (*Prover)(nil)

// NewProver 创建 Prover。电路制品路径缺一不可。
func NewProver(cfg Config) (*Prover, error) {
	cfg.applyDefaults()
	if cfg.CircuitWasm == "" || cfg.CircuitR1CS == "" || cfg.ProvingKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			"证明生成需要 circuit_wasm、circuit_r1cs 与 proving_key")
	}
	return &Prover{cfg: cfg}, nil
}

// GenerateProof 实现 zk.ProverGateway:
// wtns calculate → wtns check → groth16 prove,任一步失败即 PROVER_FAILURE。
func (p *Prover) GenerateProof(ctx context.Context, input zk.CircuitInput) (*zk.ProverOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	dir, cleanup, err := workDir(p.cfg.BuildDir, "prove-*")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	inputPath := filepath.Join(dir, "input.json")
	witnessPath := filepath.Join(dir, "witness.wtns")
	proofPath := filepath.Join(dir, "proof.json")
	publicPath := filepath.Join(dir, "public.json")

	encoded, err := json.Marshal(input)
	if err != nil {
		return nil, xerrors.Wrap(zk.CodeProverFailure, err, "序列化电路输入失败")
	}
	if err := os.WriteFile(inputPath, encoded, 0o644); err != nil {
		return nil, xerrors.Wrap(zk.CodeProverFailure, err, "写入电路输入失败")
	}

	if _, err := runCommand(ctx, p.cfg.Binary, "wtns", "calculate",
		p.cfg.CircuitWasm, inputPath, witnessPath); err != nil {
		return nil, xerrors.Wrap(zk.CodeProverFailure, err, "计算见证失败")
	}
	if _, err := runCommand(ctx, p.cfg.Binary, "wtns", "check",
		p.cfg.CircuitR1CS, witnessPath); err != nil {
		return nil, xerrors.Wrap(zk.CodeProverFailure, err, "见证约束检查失败")
	}
	if _, err := runCommand(ctx, p.cfg.Binary, "groth16", "prove",
		p.cfg.ProvingKey, witnessPath, proofPath, publicPath); err != nil {
		return nil, xerrors.Wrap(zk.CodeProverFailure, err, "生成证明失败")
	}

	proofRaw, err := os.ReadFile(proofPath)
	if err != nil {
		return nil, xerrors.Wrap(zk.CodeProverFailure, err, "读取证明文件失败")
	}
	var proof zk.Proof
	if err := json.Unmarshal(proofRaw, &proof); err != nil {
		return nil, xerrors.Wrap(zk.CodeProverFailure, err, "解析证明文件失败")
	}

	publicRaw, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, xerrors.Wrap(zk.CodeProverFailure, err, "读取公开输入失败")
	}
	if _, err := zk.PublicInputList(publicRaw); err != nil {
		return nil, xerrors.Wrap(zk.CodeProverFailure, err, "公开输入格式非法")
	}

	logger.Named("snarkjs").Info("证明生成完成",
		"protocol", proof.Protocol, "curve", proof.Curve)
	return &zk.ProverOutput{Proof: proof, PublicInputs: json.RawMessage(publicRaw)}, nil
}
