// Package fsx 提供 report 与分区缓存共用的文件写入。
package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// WriteFileAtomic 在 dir 下原子写入 name，已存在则覆盖。
//
// 临时文件建在 dir 内再 rename，读者要么看到旧文件，要么看到完整的新文件；
// 任何一步失败都会删除临时文件，旧文件保持不变。
func WriteFileAtomic(dir, name string, data []byte) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	dst := filepath.Join(dir, name)
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("写入 %s：%w", dst, err)
	}

	// 目录 fsync 失败不影响结果。
	if runtime.GOOS != "windows" {
		if d, derr := os.Open(dir); derr == nil {
			_ = d.Sync()
			_ = d.Close()
		}
	}
	return nil
}
