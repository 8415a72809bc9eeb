package wikipedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/John-Robertt/airsync/internal/domain"
	"github.com/John-Robertt/airsync/internal/source"
)

const (
	defaultAPIURL  = "https://en.wikipedia.org/w/api.php"
	defaultWikiURL = "https://en.wikipedia.org/wiki/"
	titlePrefix    = "List_of_airline_codes_"
)

// Source 通过 MediaWiki API 读取 “List of airline codes (X)” 页面的 wikitext。
//
// 每个分区对应一个字母页面：A..Z。
type Source struct {
	// APIURL 为空时使用英文维基的 api.php；测试里指向 httptest server。
	APIURL string
}

var _ source.Source = Source{}

func (Source) Name() string { return "wikipedia" }

// Partitions 总是 A..Z；只处理部分字母时由配置的 partitions 覆盖。
func (Source) Partitions() []string { return DefaultPartitions() }

// DefaultPartitions 返回 "A".."Z"。
func DefaultPartitions() []string {
	keys := make([]string, 0, 26)
	for c := 'A'; c <= 'Z'; c++ {
		keys = append(keys, string(c))
	}
	return keys
}

// Title 返回分区对应的页面标题，例如 List_of_airline_codes_(A)。
func Title(key string) string { return titlePrefix + "(" + key + ")" }

func (Source) PageURL(key string) string { return defaultWikiURL + Title(key) }

func (s Source) apiURL() string {
	u := strings.TrimSpace(s.APIURL)
	if u == "" {
		return defaultAPIURL
	}
	return u
}

// Fetch 请求：
// api.php?action=query&titles=<title>&prop=revisions&rvprop=content&rvslots=main&format=json&formatversion=2
func (s Source) Fetch(ctx context.Context, key string, c *http.Client) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("key 不能为空")
	}
	q := url.Values{}
	q.Set("action", "query")
	q.Set("titles", Title(key))
	q.Set("prop", "revisions")
	q.Set("rvprop", "content")
	q.Set("rvslots", "main")
	q.Set("format", "json")
	q.Set("formatversion", "2")

	return source.FetchURL(ctx, c, s.apiURL()+"?"+q.Encode())
}

type apiResponse struct {
	Query struct {
		Pages []struct {
			Title     string `json:"title"`
			Missing   bool   `json:"missing"`
			Invalid   bool   `json:"invalid"`
			Revisions []struct {
				Slots struct {
					Main struct {
						Content string `json:"content"`
					} `json:"main"`
				} `json:"slots"`
			} `json:"revisions"`
		} `json:"pages"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// Parse 从 API 响应里取出首个页面最新修订的 wikitext，再交给 source.ParseTable。
func (Source) Parse(key string, raw []byte) ([]domain.Candidate, []domain.RowIssue, error) {
	text, err := Wikitext(raw)
	if err != nil {
		return nil, nil, err
	}
	cands, dropped := source.ParseTable([]byte(text))
	return cands, dropped, nil
}

// Wikitext 解析 formatversion=2 的 API 响应，返回页面正文。
func Wikitext(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("响应为空")
	}
	var r apiResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("解析 API 响应失败：%w", err)
	}
	if r.Error != nil {
		return "", fmt.Errorf("API 错误：%s: %s", r.Error.Code, r.Error.Info)
	}
	if len(r.Query.Pages) == 0 {
		return "", errors.New("API 响应没有页面")
	}
	p := r.Query.Pages[0]
	if p.Missing || p.Invalid {
		return "", fmt.Errorf("页面不存在：%q", p.Title)
	}
	if len(p.Revisions) == 0 {
		return "", fmt.Errorf("页面没有修订：%q", p.Title)
	}
	return p.Revisions[0].Slots.Main.Content, nil
}
