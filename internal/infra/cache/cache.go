package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/airsync/internal/infra/fsx"
)

// Store 提供 <root>/<source>/<key>.raw 形式的分区原始内容缓存。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
// - Root 为空表示禁用缓存：读总是未命中，写直接忽略
type Store struct {
	Root     string
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	root = strings.TrimSpace(root)
	if root != "" {
		root = filepath.Clean(root)
	}
	return Store{Root: root, ReadOnly: readOnly}
}

// Enabled 表示是否配置了缓存目录。
func (s Store) Enabled() bool { return s.Root != "" }

// Path 返回分区缓存文件的路径。
func (s Store) Path(source, key string) (string, error) {
	src, err := cleanName("source", source)
	if err != nil {
		return "", err
	}
	k, err := cleanName("key", key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, src, k+".raw"), nil
}

func (s Store) Read(source, key string) ([]byte, bool, error) {
	if !s.Enabled() {
		return nil, false, nil
	}
	path, err := s.Path(source, key)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s Store) Write(source, key string, raw []byte) error {
	if !s.Enabled() {
		return nil
	}
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.Path(source, key)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), raw)
}

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func cleanName(what, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s 不能为空", what)
	}
	// 最小约束：避免路径穿越。
	if !nameRE.MatchString(v) {
		return "", fmt.Errorf("非法 %s：%q", what, v)
	}
	return v, nil
}
