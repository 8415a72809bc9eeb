package run

import (
	"time"

	"github.com/John-Robertt/airsync/internal/config"
	"github.com/John-Robertt/airsync/internal/domain"
)

// Observer 用于把“运行进度/阶段/逐条判定”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 事件在执行 goroutine 上同步触发；实现不应阻塞太久。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用（load 等），fields 是该阶段的统计。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnPartitionStart 在分区解析完成、开始逐条匹配前调用；total 是候选记录数。
	OnPartitionStart(key string, total int)
	// OnDecision 在每个候选记录处理完成后调用（idx 从 1 开始）。
	OnDecision(key string, idx, total int, d domain.Decision)
	// OnPartitionDone 在分区结束（成功或失败）时调用。
	OnPartitionDone(pr domain.PartitionResult, dur time.Duration)
}

// Observers 把多个 Observer 合并为一个；nil 会被跳过。
func Observers(obs ...Observer) Observer {
	var out multi
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type multi []Observer

func (m multi) OnStart(eff config.EffectiveConfig) {
	for _, o := range m {
		o.OnStart(eff)
	}
}

func (m multi) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	for _, o := range m {
		o.OnPhaseDone(name, fields, dur)
	}
}

func (m multi) OnPartitionStart(key string, total int) {
	for _, o := range m {
		o.OnPartitionStart(key, total)
	}
}

func (m multi) OnDecision(key string, idx, total int, d domain.Decision) {
	for _, o := range m {
		o.OnDecision(key, idx, total, d)
	}
}

func (m multi) OnPartitionDone(pr domain.PartitionResult, dur time.Duration) {
	for _, o := range m {
		o.OnPartitionDone(pr, dur)
	}
}
