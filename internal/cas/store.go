// Package cas 提供内容寻址存储:证明包与验证包都以规范化 JSON 的
// SHA-256 哈希为键,分属两个命名空间。生产者负责计算哈希,存储层
// 从不代算,确保链上请求与落盘对象引用同一份字节。
package cas

import (
	"context"
	"fmt"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// Namespace 区分待验证的证明包与已完成的验证包。
type Namespace string

const (
	// NamespaceProofs 存放提供方发布、等待验证的证明包。
	NamespaceProofs Namespace = "proofs"
	// NamespaceValidations 存放验证方产出的验证包。
	NamespaceValidations Namespace = "validations"
)

// Valid 检查命名空间取值。
func (n Namespace) Valid() bool {
	return n == NamespaceProofs || n == NamespaceValidations
}

const (
	CodePackageNotFound xerrors.Code = "PACKAGE_NOT_FOUND"
)

// ErrPackageNotFound 表示指定哈希下没有内容。调用方必须将其视为
// 可恢复条件:验证请求可能先于证明包发布到达。
var ErrPackageNotFound = xerrors.New(CodePackageNotFound, "package not found")

func init() {
	xerrors.Register(CodePackageNotFound, xerrors.Attributes{
		Message:   "package not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
}

// Store 是内容寻址存储的统一接口。Put 为键级幂等 upsert,
// 相同哈希重复写入等价于一次写入。
type Store interface {
	Put(ctx context.Context, ns Namespace, hash string, payload []byte) error
	Get(ctx context.Context, ns Namespace, hash string) ([]byte, error)
	Close() error
}

func validateKey(ns Namespace, hash string) error {
	if !ns.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知命名空间: %s", ns))
	}
	if _, err := ParseDigest(hash); err != nil {
		return err
	}
	return nil
}
