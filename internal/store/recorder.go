package store

import (
	"context"

	"github.com/John-Robertt/airsync/internal/domain"
)

// Recorder 是 dry-run 用的 Store：读走底层 store，写操作一律成功且不执行。
// 将要执行的指令已经记录在 Decision.Mutations 里，这里不再重复保存。
type Recorder struct {
	Base Store
}

var _ Store = Recorder{}

func NewRecorder(base Store) Recorder { return Recorder{Base: base} }

func (r Recorder) LoadAll(ctx context.Context) ([]domain.Airline, error) {
	return r.Base.LoadAll(ctx)
}

// Insert 返回 0：dry-run 不分配 alid。
func (Recorder) Insert(context.Context, domain.Candidate) (int64, error) { return 0, nil }

func (Recorder) UpdateFields(context.Context, int64, domain.FieldSet) error { return nil }

func (Recorder) Merge(context.Context, int64, int64) error { return nil }

func (r Recorder) Close() error { return r.Base.Close() }
