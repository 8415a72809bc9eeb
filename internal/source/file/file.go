package file

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/airsync/internal/domain"
	"github.com/John-Robertt/airsync/internal/source"
)

const ext = ".wikitext"

// Source 从本地目录读取离线保存的 wikitext：<Dir>/<key>.wikitext。
//
// 用于离线运行与回放（例如把维基页面导出后反复对比）。
type Source struct {
	Dir string
}

var _ source.Source = Source{}

func (Source) Name() string { return "file" }

// Partitions 按文件名排序返回目录下所有 *.wikitext 的 key。
func (s Source) Partitions() []string {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(keys)
	return keys
}

// PageURL 返回 file:// 形式的页面地址。
func (s Source) PageURL(key string) string {
	return "file://" + filepath.ToSlash(filepath.Join(s.Dir, key+ext))
}

func (s Source) Fetch(ctx context.Context, key string, _ *http.Client) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, `/\`) || key == ".." {
		return nil, fmt.Errorf("非法 key：%q", key)
	}
	return os.ReadFile(filepath.Join(s.Dir, key+ext))
}

func (Source) Parse(key string, raw []byte) ([]domain.Candidate, []domain.RowIssue, error) {
	if len(raw) == 0 {
		return nil, nil, errors.New("文件为空")
	}
	cands, dropped := source.ParseTable(raw)
	return cands, dropped, nil
}
