package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/John-Robertt/airsync/internal/domain"
)

// Source 把“源站变化”限制在 source 包内部；核心流程只依赖统一接口与稳定的 Candidate。
//
// 约束：
// - Fetch 不做缓存、不做重试（这些由 httpx/cache 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - 单行解析失败只丢弃该行（返回在 dropped 里），不作为 error 返回
type Source interface {
	Name() string
	// Partitions 返回默认的分区键（按处理顺序）。
	Partitions() []string
	// PageURL 返回分区对应的人类可读地址（写入 report）；与是否命中缓存无关。
	PageURL(key string) string
	Fetch(ctx context.Context, key string, c *http.Client) (raw []byte, err error)
	Parse(key string, raw []byte) (cands []domain.Candidate, dropped []domain.RowIssue, err error)
}

// HTTPStatusError 表示源站返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// FetchURL 以 GET 读取 u 的完整响应体；非 2xx 返回 *HTTPStatusError。
func FetchURL(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// Error 是 source 阶段的可追溯错误。
// 上层可以据此把失败归类为 fetch_failed / parse_failed，并写入 report。
type Error struct {
	Source string
	Key    string
	Stage  string // "fetch" 或 "parse"
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source=%s key=%s stage=%s: %v", e.Source, e.Key, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry 是 source 的只读注册表（按 name 索引）。
type Registry struct {
	byName map[string]Source
}

func NewRegistry(sources ...Source) (Registry, error) {
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		if s == nil {
			return Registry{}, fmt.Errorf("source 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(s.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("source.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 source：%q", name)
		}
		byName[name] = s
	}
	return Registry{byName: byName}, nil
}

func (r Registry) Get(name string) (Source, bool) {
	if r.byName == nil {
		return nil, false
	}
	s, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}
