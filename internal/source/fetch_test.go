package source

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/John-Robertt/airsync/internal/domain"
	"github.com/John-Robertt/airsync/internal/infra/cache"
)

type stubSource struct {
	raw      []byte
	fetchErr error
	parseErr error

	fetchCalls int
}

func (s *stubSource) Name() string         { return "stub" }
func (s *stubSource) Partitions() []string { return []string{"A"} }

func (s *stubSource) PageURL(key string) string { return "https://example.test/" + key }

func (s *stubSource) Fetch(ctx context.Context, key string, c *http.Client) ([]byte, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.raw, nil
}

func (s *stubSource) Parse(key string, raw []byte) ([]domain.Candidate, []domain.RowIssue, error) {
	if s.parseErr != nil {
		return nil, nil, s.parseErr
	}
	return []domain.Candidate{{Name: string(raw)}}, nil, nil
}

func TestFetchPartition_WritesThenReadsCache(t *testing.T) {
	root := t.TempDir()
	src := &stubSource{raw: []byte("Alpha Air")}

	p, err := FetchPartition(context.Background(), src, "A", nil, Options{Cache: cache.New(root, false), WriteCache: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if p.FromCache || p.URL != "https://example.test/A" {
		t.Fatalf("首次应走网络，实际 %+v", p)
	}

	// dry-run：只读缓存，命中时不访问网络。
	p, err = FetchPartition(context.Background(), src, "A", nil, Options{Cache: cache.New(root, true), ReadCache: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !p.FromCache {
		t.Fatalf("期望命中缓存")
	}
	if p.URL != "https://example.test/A" {
		t.Fatalf("命中缓存时也应带上页面地址，实际 %q", p.URL)
	}
	if src.fetchCalls != 1 {
		t.Fatalf("期望只访问网络 1 次，实际 %d", src.fetchCalls)
	}
	if len(p.Candidates) != 1 || p.Candidates[0].Name != "Alpha Air" {
		t.Fatalf("缓存内容解析不正确：%+v", p.Candidates)
	}
}

func TestFetchPartition_StageTaggedErrors(t *testing.T) {
	cases := []struct {
		name  string
		src   *stubSource
		stage string
	}{
		{name: "fetch", src: &stubSource{fetchErr: &HTTPStatusError{StatusCode: 503}}, stage: "fetch"},
		{name: "parse", src: &stubSource{raw: []byte("x"), parseErr: errors.New("bad json")}, stage: "parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			_, err := FetchPartition(context.Background(), tc.src, "B", nil, Options{Cache: cache.New(root, false), WriteCache: true})
			var se *Error
			if !errors.As(err, &se) {
				t.Fatalf("期望 *source.Error，实际 %T %v", err, err)
			}
			if se.Stage != tc.stage || se.Key != "B" || se.Source != "stub" {
				t.Fatalf("错误字段不正确：%+v", se)
			}
			if _, ok, _ := cache.New(root, true).Read("stub", "B"); ok {
				t.Fatalf("失败的分区不应写入缓存")
			}
		})
	}
}

func TestFetchPartition_EmptyKey(t *testing.T) {
	if _, err := FetchPartition(context.Background(), &stubSource{}, "  ", nil, Options{}); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(&stubSource{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, ok := reg.Get(" STUB "); !ok {
		t.Fatalf("期望按名称（忽略大小写）找到 source")
	}
	if _, err := NewRegistry(&stubSource{}, &stubSource{}); err == nil {
		t.Fatalf("重复名称应报错")
	}
}
