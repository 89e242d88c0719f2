package cas

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// FileStore 把内容包落成 <base>/data/<hash>.json 与
// <base>/validations/<hash>.json 两组文件,与线下工具链的目录约定一致。
type FileStore struct {
	baseDir string
}

var _ Store = (*FileStore)(nil)

// 命名空间到子目录的映射。证明包沿用历史目录名 data。
var namespaceDirs = map[Namespace]string{
	NamespaceProofs:      "data",
	NamespaceValidations: "validations",
}

// NewFileStore 创建 FileStore 并准备好两个子目录。
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "存储目录不能为空")
	}
	for _, sub := range namespaceDirs {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
				fmt.Sprintf("创建存储目录 %s 失败", sub))
		}
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Put 实现 Store 接口。先写临时文件再原子重命名,避免读到半截内容。
func (f *FileStore) Put(_ context.Context, ns Namespace, hash string, payload []byte) error {
	if err := validateKey(ns, hash); err != nil {
		return err
	}
	target := f.path(ns, hash)
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+hash+".tmp-*")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时文件失败")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入临时文件失败")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭临时文件失败")
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "落盘内容包失败")
	}
	return nil
}

// Get 实现 Store 接口。
func (f *FileStore) Get(_ context.Context, ns Namespace, hash string) ([]byte, error) {
	if err := validateKey(ns, hash); err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(f.path(ns, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPackageNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取内容包失败")
	}
	return payload, nil
}

// Close 实现 Store 接口。
func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) path(ns Namespace, hash string) string {
	return filepath.Join(f.baseDir, namespaceDirs[ns], hash+".json")
}
