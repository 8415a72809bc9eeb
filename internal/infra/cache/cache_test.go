package cache

import (
	"errors"
	"os"
	"testing"
)

func TestStore_ReadWrite(t *testing.T) {
	s := New(t.TempDir(), false)
	if err := s.Write("wikipedia", "A", []byte("{| |}")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	b, ok, err := s.Read("wikipedia", "A")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !ok {
		t.Fatalf("期望命中缓存，但 ok=false")
	}
	if string(b) != "{| |}" {
		t.Fatalf("内容不一致：%q", string(b))
	}

	if _, ok, _ := s.Read("wikipedia", "B"); ok {
		t.Fatalf("未写入的分区不应命中")
	}
}

func TestStore_ReadOnlyRejectWrite(t *testing.T) {
	s := New(t.TempDir(), true)
	err := s.Write("wikipedia", "A", []byte("x"))
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}

	path, err := s.Path("wikipedia", "A")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("期望文件不存在，但 Stat err=%v", err)
	}
}

func TestStore_DisabledIsNoop(t *testing.T) {
	s := New("  ", false)
	if s.Enabled() {
		t.Fatalf("空 root 应禁用缓存")
	}
	if err := s.Write("wikipedia", "A", []byte("x")); err != nil {
		t.Fatalf("禁用时写入应静默忽略，实际：%v", err)
	}
	if _, ok, err := s.Read("wikipedia", "A"); ok || err != nil {
		t.Fatalf("禁用时读取应未命中，实际 ok=%v err=%v", ok, err)
	}
}

func TestStore_RejectPathTraversal(t *testing.T) {
	s := New(t.TempDir(), false)
	for _, key := range []string{"../A", "a/b", ""} {
		if _, err := s.Path("wikipedia", key); err == nil {
			t.Fatalf("key=%q 期望错误", key)
		}
	}
}
