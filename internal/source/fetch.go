package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/airsync/internal/domain"
	"github.com/John-Robertt/airsync/internal/infra/cache"
)

// Partition 是一个分区（例如字母 "A" 对应的页面）解析后的结果。
type Partition struct {
	Key        string
	URL        string
	Candidates []domain.Candidate
	Dropped    []domain.RowIssue
	// FromCache 表示原始内容来自本地缓存（未访问网络）。
	FromCache bool
}

// Options 控制 FetchPartition 的缓存行为。
type Options struct {
	Cache cache.Store
	// ReadCache=true：缓存命中则不访问网络。
	ReadCache bool
	// WriteCache=true：成功抓取后写回缓存（dry-run 禁止写入）。
	WriteCache bool
}

// FetchPartition 抓取并解析一个分区。
// 完整分区解析完成后才返回；逐条匹配由上层负责。
func FetchPartition(ctx context.Context, src Source, key string, c *http.Client, opt Options) (Partition, error) {
	if src == nil {
		return Partition{}, fmt.Errorf("source 不能为空")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Partition{}, fmt.Errorf("partition key 不能为空")
	}
	name := src.Name()

	var (
		raw       []byte
		fromCache bool
	)
	if opt.ReadCache {
		if b, ok, err := opt.Cache.Read(name, key); err == nil && ok {
			raw, fromCache = b, true
		}
		// 坏缓存/读失败：忽略，走网络。
	}
	if !fromCache {
		b, err := src.Fetch(ctx, key, c)
		if err != nil {
			return Partition{}, &Error{Source: name, Key: key, Stage: "fetch", Err: err}
		}
		raw = b
	}

	cands, dropped, err := src.Parse(key, raw)
	if err != nil {
		return Partition{}, &Error{Source: name, Key: key, Stage: "parse", Err: err}
	}

	// 只缓存能解析的内容，避免把错误页固化到本地。
	if !fromCache && opt.WriteCache && !opt.Cache.ReadOnly {
		_ = opt.Cache.Write(name, key, raw)
	}

	return Partition{
		Key:        key,
		URL:        src.PageURL(key),
		Candidates: cands,
		Dropped:    dropped,
		FromCache:  fromCache,
	}, nil
}
