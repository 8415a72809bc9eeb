// Package store 是参考库（airlines / flights 两张表）的持久化层。
//
// 核心只产出结构化变更指令；转义、事务与重试都在这里（或调用方）处理。
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/John-Robertt/airsync/internal/domain"
)

// Store 是参考库协作者接口。
type Store interface {
	// LoadAll 读取全部参考记录（按 alid 升序），运行开始时调用一次。
	LoadAll(ctx context.Context) ([]domain.Airline, error)
	// Insert 新增一条航司，返回新 alid。
	Insert(ctx context.Context, c domain.Candidate) (int64, error)
	// UpdateFields 覆盖指定字段。
	UpdateFields(ctx context.Context, id int64, fs domain.FieldSet) error
	// Merge 把依赖 dupeID 的 flights 迁移到 keepID，然后删除 dupeID。
	Merge(ctx context.Context, keepID, dupeID int64) error
	Close() error
}

var ErrUnknownField = errors.New("store: 不可写的字段")

// Error 是 store 阶段的可追溯错误；上层据此归类为 store_failed。
type Error struct {
	Op  string // "load" / "insert" / "update" / "merge" / "schema"
	ID  int64  // 相关 alid（无则为 0）
	Err error
}

func (e *Error) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("store op=%s alid=%d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store op=%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsStoreError 判断 err 是否来自 store。
func IsStoreError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
