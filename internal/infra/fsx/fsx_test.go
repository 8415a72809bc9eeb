package fsx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomic_ReplaceAndNoTempLeft(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	if err := WriteFileAtomic(dir, "report.json", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := WriteFileAtomic(dir, "report.json", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("覆盖写入不期望错误：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != `{"v":2}` {
		t.Fatalf("期望覆盖为新内容，实际 %q", string(b))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".report.json.tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}

func TestWriteFileAtomic_RenameFail_CleansTemp(t *testing.T) {
	dir := t.TempDir()
	// 目标是非空目录：rename 必然失败。
	if err := os.MkdirAll(filepath.Join(dir, "A.raw", "keep"), 0o755); err != nil {
		t.Fatalf("准备目录失败：%v", err)
	}

	if err := WriteFileAtomic(dir, "A.raw", []byte("new")); err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}

	if _, err := os.Stat(filepath.Join(dir, "A.raw", "keep")); err != nil {
		t.Fatalf("失败时不应破坏已有内容：%v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("期望临时文件已清理，实际 %d 个条目", len(entries))
	}
}

func TestWriteFileAtomic_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := WriteFileAtomic(dir, "x.json", []byte("{}")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "x.json"))
	if err != nil {
		t.Fatalf("期望文件存在：%v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("期望权限 0644，实际 %v", info.Mode().Perm())
	}
}
