// Package zk 定义零知识证明的类型化数据结构与证明/验证网关端口。
// 网关以外部进程方式实现(见 snarkjs 子包),未来换成进程内密码学库时
// 验证流水线无需改动。
package zk

import (
	"bytes"
	"encoding/json"

	xerrors "ZKRebalance-Chain/internal/errors"
	"ZKRebalance-Chain/internal/plan"
)

// 证明系统与曲线的固定标识。结构检查按不透明标签比较。
const (
	ProtocolGroth16 = "groth16"
	CurveBN128      = "bn128"
)

const (
	CodeInvalidProofFormat    xerrors.Code = "INVALID_PROOF_FORMAT"
	CodeProverFailure         xerrors.Code = "PROVER_FAILURE"
	CodeVerifierIndeterminate xerrors.Code = "CRYPTO_VERIFICATION_INDETERMINATE"
	CodeVerificationFailed    xerrors.Code = "CRYPTO_VERIFICATION_FAILED"
)

func init() {
	xerrors.Register(CodeInvalidProofFormat, xerrors.Attributes{
		Message:   "invalid proof format",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProverFailure, xerrors.Attributes{
		Message:   "proof generation failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeVerifierIndeterminate, xerrors.Attributes{
		Message:   "cryptographic verification indeterminate",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeVerificationFailed, xerrors.Attributes{
		Message:   "cryptographic verification failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Proof 是 Groth16 证明对象。字段缺失时解码为零值,
// 结构检查据此分档,不在这里直接报错。
type Proof struct {
	PiA      []json.RawMessage `json:"pi_a"`
	PiB      []json.RawMessage `json:"pi_b"`
	PiC      []json.RawMessage `json:"pi_c"`
	Protocol string            `json:"protocol"`
	Curve    string            `json:"curve"`
}

// HasRequiredFields 检查五个必备字段是否齐全。
func (p Proof) HasRequiredFields() bool {
	return p.PiA != nil && p.PiB != nil && p.PiC != nil && p.Protocol != "" && p.Curve != ""
}

// CircuitInput 是交给证明电路的输入。键名必须与电路信号名完全一致,
// snarkjs 按名字绑定信号。
type CircuitInput struct {
	OldBalances          []string `json:"oldBalances"`
	NewBalances          []string `json:"newBalances"`
	Prices               []string `json:"prices"`
	TotalValueCommitment string   `json:"totalValueCommitment"`
	MinPct               int      `json:"minAllocationPct"`
	MaxPct               int      `json:"maxAllocationPct"`
}

// ProofMetadata 描述证明的产出背景。
type ProofMetadata struct {
	ProofSystem string `json:"proof_system"`
	Curve       string `json:"curve"`
	CircuitName string `json:"circuit"`
	ProducerID  uint64 `json:"agent_id"`
	Timestamp   int64  `json:"timestamp"`
}

// ProofPackage 是提供方发布、验证方消费的完整证明包。
// 哈希化之后不可再变更,以内容哈希在角色间传递。
type ProofPackage struct {
	Proof        Proof           `json:"proof"`
	PublicInputs json.RawMessage `json:"public_inputs"`
	Plan         plan.Plan       `json:"rebalancing_plan"`
	CircuitInput CircuitInput    `json:"circuit_input"`
	Metadata     ProofMetadata   `json:"metadata"`
}

// DecodeProofPackage 严格解码证明包:未知字段一律拒绝,
// 缺失字段保留零值交给结构检查分档。
func DecodeProofPackage(raw []byte) (*ProofPackage, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	var pkg ProofPackage
	if err := decoder.Decode(&pkg); err != nil {
		return nil, xerrors.Wrap(CodeInvalidProofFormat, err, "解码证明包失败")
	}
	return &pkg, nil
}

// PublicInputList 把公开输入解析成有序字符串序列,
// 不是 JSON 数组时返回 INVALID_PROOF_FORMAT。
func PublicInputList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, xerrors.New(CodeInvalidProofFormat, "公开输入为空")
	}
	var generic []any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, xerrors.Wrap(CodeInvalidProofFormat, err, "公开输入不是有序序列")
	}
	out := make([]string, 0, len(generic))
	for _, item := range generic {
		switch typed := item.(type) {
		case string:
			out = append(out, typed)
		case float64:
			encoded, _ := json.Marshal(item)
			out = append(out, string(encoded))
		default:
			encoded, err := json.Marshal(item)
			if err != nil {
				return nil, xerrors.Wrap(CodeInvalidProofFormat, err, "公开输入元素无法编码")
			}
			out = append(out, string(encoded))
		}
	}
	return out, nil
}
