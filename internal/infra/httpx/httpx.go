package httpx

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRetryMax = 2
	defaultBackoff  = 500 * time.Millisecond
	maxBackoff      = 10 * time.Second

	// DefaultUserAgent 遵循 Wikimedia 的 UA 约定：工具名/版本 + 联系方式。
	DefaultUserAgent = "airsync/1.0 (https://github.com/John-Robertt/airsync) Go-http-client"
)

// Transport 把“UA + 代理 + 有界重试”固化为统一策略。
//
// source 只负责“定位页面 + 解析内容”，不关心网络策略细节。
type Transport struct {
	Base http.RoundTripper

	UserAgent string

	// RetryMax 表示最大重试次数（不含首次尝试）。例如 2 表示最多 3 次尝试。
	RetryMax int
	// Backoff 是首次重试前的等待时间，之后逐次翻倍（上限 maxBackoff）。
	Backoff time.Duration
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// 只对“可重放”的请求做重试：GET/HEAD 且无 body。
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
	max := t.RetryMax
	if max < 0 || !canRetry {
		max = 0
	}

	wait := t.Backoff
	var lastErr error
	for attempt := 0; attempt <= max; attempt++ {
		if attempt > 0 {
			if err := sleep(req, wait); err != nil {
				// 退避期间被取消：返回 ctx 错误，上层据此归类为 canceled。
				return nil, errors.Join(err, lastErr)
			}
			wait = min(wait*2, maxBackoff)
		}

		r := req.Clone(req.Context())
		if r.Header.Get("User-Agent") == "" && t.UserAgent != "" {
			r.Header.Set("User-Agent", t.UserAgent)
		}

		resp, err := t.Base.RoundTrip(r)
		if err != nil {
			lastErr = err
			if cerr := req.Context().Err(); cerr != nil {
				return nil, errors.Join(cerr, lastErr)
			}
			continue
		}
		if !retryableStatus(resp.StatusCode) || attempt == max {
			return resp, nil
		}
		// 429/5xx：丢弃响应体后重试；Retry-After 给出的等待更长时以它为准。
		if d, ok := retryAfter(resp); ok && d > wait {
			wait = min(d, maxBackoff)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		lastErr = errors.New(resp.Status)
	}
	return nil, lastErr
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code != http.StatusNotImplemented)
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func sleep(req *http.Request, d time.Duration) error {
	if d <= 0 {
		return req.Context().Err()
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-tm.C:
		return nil
	}
}

// NewClient 构造抓取源站用的 HTTP client。
//
// 规则：
// - proxyURL 非空：走代理
// - userAgent 为空时使用 DefaultUserAgent
// - 有界重试 + 总超时
func NewClient(proxyURL, userAgent string) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}

	if proxyURL = strings.TrimSpace(proxyURL); proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(u)
	}

	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &http.Client{
		Transport: &Transport{
			Base:      base,
			UserAgent: userAgent,
			RetryMax:  defaultRetryMax,
			Backoff:   defaultBackoff,
		},
		Timeout: defaultTimeout,
	}, nil
}
