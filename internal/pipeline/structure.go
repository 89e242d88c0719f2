package pipeline

import (
	"encoding/json"

	"ZKRebalance-Chain/internal/zk"
)

// 结构检查的分档返回值。档位按优先级判定,先命中者生效。
const (
	structureMissingFields = 0
	structureWrongIdents   = 50
	structureBadPoints     = 60
	structurePassed        = 100
)

// StructureScore 检查证明包的形态完整性,是纯函数:
//
//	0   必备字段缺失 (pi_a/pi_b/pi_c/protocol/curve)
//	50  协议或曲线标识错误,或公开输入不是有序序列
//	60  点坐标数组存在但长度不为 3
//	100 全部通过
func StructureScore(pkg *zk.ProofPackage) int {
	if pkg == nil || !pkg.Proof.HasRequiredFields() {
		return structureMissingFields
	}
	if pkg.Proof.Protocol != zk.ProtocolGroth16 || pkg.Proof.Curve != zk.CurveBN128 {
		return structureWrongIdents
	}
	if !isJSONArray(pkg.PublicInputs) {
		return structureWrongIdents
	}
	if len(pkg.Proof.PiA) != 3 || len(pkg.Proof.PiB) != 3 || len(pkg.Proof.PiC) != 3 {
		return structureBadPoints
	}
	return structurePassed
}

func isJSONArray(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var arr []json.RawMessage
	return json.Unmarshal(raw, &arr) == nil
}
