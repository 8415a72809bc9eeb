package reconcile

import (
	"context"
	"fmt"

	"github.com/John-Robertt/airsync/internal/domain"
)

// Diff 计算参考记录与候选记录的字段级差异。
//
// 规则：候选值存在且非空，并且与参考值不同，才会进入结果；
// 候选缺省/空值永远不会抹掉已有数据。
func Diff(ref domain.Airline, c domain.Candidate) domain.FieldSet {
	fs := domain.FieldSet{}
	for _, f := range domain.Fields {
		v := c.Value(f)
		if !v.Present() {
			continue
		}
		if ref.Value(f) == v {
			continue
		}
		fs[f] = v.Value
	}
	return fs
}

// Result 是一次对账的输出。
type Result struct {
	// Mutations 按执行顺序排列：merge（若有）在前，update（若有）在后。
	Mutations []domain.Mutation
	// Updated 为 1 表示产生了 update 指令，否则为 0（用于 updated 计数）。
	Updated int
	// Changed 是被覆盖的字段数。
	Changed int
}

// Reconcile 为已匹配的参考记录生成变更指令。
// dupe 非空时先合并重复记录（迁移依赖并删除），再计算 diff。
func Reconcile(ref domain.Airline, c domain.Candidate, dupe *domain.Airline) Result {
	var res Result
	if dupe != nil {
		res.Mutations = append(res.Mutations, domain.Mutation{
			Kind:   domain.MutationMerge,
			ID:     ref.ID,
			DupeID: dupe.ID,
		})
	}

	fs := Diff(ref, c)
	if len(fs) > 0 {
		res.Mutations = append(res.Mutations, domain.Mutation{
			Kind:   domain.MutationUpdate,
			ID:     ref.ID,
			Fields: fs,
		})
		res.Updated = 1
		res.Changed = len(fs)
	}
	return res
}

// Insert 生成“新增航司”的指令；只在没有任何匹配时由调用方使用。
func Insert(c domain.Candidate) domain.Mutation {
	cc := c
	return domain.Mutation{Kind: domain.MutationInsert, Candidate: &cc}
}

// Applier 是执行变更所需的最小 store 能力。
type Applier interface {
	Insert(ctx context.Context, c domain.Candidate) (int64, error)
	UpdateFields(ctx context.Context, id int64, fs domain.FieldSet) error
	Merge(ctx context.Context, keepID, dupeID int64) error
}

// Apply 按顺序执行 ms；遇到第一个错误即返回（不自动重试）。
// applied 是已成功执行的指令数：出错时 ms[:applied] 已经生效（每条指令各自提交）。
// inserted 是 insert 指令得到的新 alid（无 insert 时为 0）。
func Apply(ctx context.Context, st Applier, ms []domain.Mutation) (applied int, inserted int64, err error) {
	for _, m := range ms {
		switch m.Kind {
		case domain.MutationMerge:
			err = st.Merge(ctx, m.ID, m.DupeID)
		case domain.MutationUpdate:
			err = st.UpdateFields(ctx, m.ID, m.Fields)
		case domain.MutationInsert:
			if m.Candidate == nil {
				return applied, inserted, fmt.Errorf("insert 指令缺少 candidate")
			}
			inserted, err = st.Insert(ctx, *m.Candidate)
		default:
			return applied, inserted, fmt.Errorf("未知变更类型：%q", m.Kind)
		}
		if err != nil {
			return applied, inserted, err
		}
		applied++
	}
	return applied, inserted, nil
}
