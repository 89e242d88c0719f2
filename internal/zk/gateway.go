package zk

import (
	"context"
	"encoding/json"
)

// ProverOutput 是一次证明生成的产物。
type ProverOutput struct {
	Proof        Proof
	PublicInputs json.RawMessage
}

// ProverGateway 是证明生成端口。调用会阻塞直到外部工具完成,
// 实现必须尊重 ctx 超时。
type ProverGateway interface {
	GenerateProof(ctx context.Context, input CircuitInput) (*ProverOutput, error)
}

// VerifierGateway 是证明验证端口。返回值语义:
// (true, nil) 证明有效;(false, nil) 证明无效;
// (false, err) 工具链故障,结论不确定。
type VerifierGateway interface {
	VerifyProof(ctx context.Context, proof Proof, publicInputs json.RawMessage) (bool, error)
}
