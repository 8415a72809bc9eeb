package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient_Proxy(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:8080", "")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	base := tr.Base.(*http.Transport)
	if base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if tr.UserAgent != DefaultUserAgent {
		t.Fatalf("期望默认 UA，实际 %q", tr.UserAgent)
	}
}

func TestNewClient_InvalidProxyURL(t *testing.T) {
	if _, err := NewClient("http://[::1", ""); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestTransport_SetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c, err := NewClient("", "airsync-test/0.1")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if got != "airsync-test/0.1" {
		t.Fatalf("期望 UA=airsync-test/0.1，实际 %q", got)
	}
}

func TestTransport_RetriesOn503ThenSucceeds(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := &http.Client{Transport: &Transport{Base: http.DefaultTransport, RetryMax: 2}}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200，实际 %d", resp.StatusCode)
	}
	if n.Load() != 2 {
		t.Fatalf("期望 2 次请求，实际 %d", n.Load())
	}
}

func TestTransport_ExhaustedRetriesReturnsLastResponse(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := &http.Client{Transport: &Transport{Base: http.DefaultTransport, RetryMax: 1}}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("期望最后一次响应原样返回（429），实际 %d", resp.StatusCode)
	}
	if n.Load() != 2 {
		t.Fatalf("期望 2 次请求，实际 %d", n.Load())
	}
}

func TestTransport_NoRetryOn404(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := &http.Client{Transport: &Transport{Base: http.DefaultTransport, RetryMax: 2}}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp.Body.Close()
	if n.Load() != 1 {
		t.Fatalf("404 不应重试，实际请求 %d 次", n.Load())
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTransport_CanceledDuringBackoffReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n atomic.Int32
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		n.Add(1)
		// 第一次响应 503 后立即取消：退避等待应被打断。
		cancel()
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Status:     "503 Service Unavailable",
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{},
			Request:    r,
		}, nil
	})
	c := &http.Client{Transport: &Transport{Base: base, RetryMax: 2, Backoff: time.Hour}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.test/", nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatalf("期望错误，但得到 nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
	if n.Load() != 1 {
		t.Fatalf("取消后不应再请求，实际 %d 次", n.Load())
	}
}
