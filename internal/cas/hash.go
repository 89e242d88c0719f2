package cas

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// Digest 是规范化 JSON 的 SHA-256 摘要，作为证明包的全局标识。
type Digest [32]byte

// Hex 返回小写十六进制形式，用作存储键与文件名。
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Bytes32 返回链上调用所需的定长形式。
func (d Digest) Bytes32() [32]byte {
	return [32]byte(d)
}

// ParseDigest 解析 64 位小写十六进制摘要。
func ParseDigest(raw string) (Digest, error) {
	var d Digest
	if len(raw) != 64 {
		return d, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("摘要长度非法: %d", len(raw)))
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return d, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "摘要不是合法十六进制")
	}
	copy(d[:], decoded)
	return d, nil
}

// Sum 计算任意值的规范化摘要，同时返回规范化后的字节，
// 保证入库字节与链上引用的哈希来自同一份序列化结果。
func Sum(v any) (Digest, []byte, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return Digest{}, nil, err
	}
	return Digest(sha256.Sum256(canonical)), canonical, nil
}

// Canonicalize 生成确定性的 JSON 字节:对象键按字典序排序、
// 数字保持原文、无多余空白。字段写入顺序不影响结果。
func Canonicalize(v any) ([]byte, error) {
	var raw []byte
	switch typed := v.(type) {
	case []byte:
		raw = typed
	case json.RawMessage:
		raw = typed
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化对象失败")
		}
		raw = encoded
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 JSON 失败")
	}

	// encoding/json 对 map 键做字典序输出,重编码即得到规范形式。
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "重编码 JSON 失败")
	}
	return canonical, nil
}
