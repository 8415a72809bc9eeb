package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const (
	OutcomeMatched = "matched"
	OutcomeAdded   = "added"
)

const (
	ErrCodeFetchFailed   = "fetch_failed"
	ErrCodeParseFailed   = "parse_failed"
	ErrCodeStoreFailed   = "store_failed"
	ErrCodeConfigInvalid = "config_invalid"
	ErrCodeCanceled      = "canceled"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Reference 是运行开始时加载的参考记录数。
	Reference int `json:"reference"`

	Summary    Counts            `json:"summary"`
	Partitions []PartitionResult `json:"partitions"`

	// ErrorCode/ErrorMsg 只用于整体失败（配置/加载参考库失败）。
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// Counts 即结束时的统计行：matched / updated / deduped / added / total。
type Counts struct {
	Matched int `json:"matched"`
	Updated int `json:"updated"`
	Deduped int `json:"deduped"`
	Added   int `json:"added"`
	Total   int `json:"total"`
	// Dropped 是解析失败被丢弃的源表行数（不计入 Total）。
	Dropped int `json:"dropped"`
}

func (c *Counts) Add(o Counts) {
	c.Matched += o.Matched
	c.Updated += o.Updated
	c.Deduped += o.Deduped
	c.Added += o.Added
	c.Total += o.Total
	c.Dropped += o.Dropped
}

type PartitionResult struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	// Cached 表示原始内容来自本地缓存。
	Cached bool `json:"cached,omitempty"`

	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`

	Counts    Counts     `json:"counts"`
	Decisions []Decision `json:"decisions"`
	Dropped   []RowIssue `json:"dropped_rows"`
}

// Decision 记录一个候选记录的完整判定（匹配/去重/diff）。
type Decision struct {
	Candidate Candidate `json:"candidate"`
	Outcome   string    `json:"outcome"`

	MatchID int64 `json:"match_alid,omitempty"`
	DupeID  int64 `json:"dupe_alid,omitempty"`

	Mutations []Mutation `json:"mutations"`
}

// RowIssue 描述一行无法解析为 Candidate 的源表内容。
type RowIssue struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) partitions 稳定排序：按 key 字典序
// 3) summary 由 partitions 汇总得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Partitions, func(i, j int) bool {
		return r.Partitions[i].Key < r.Partitions[j].Key
	})

	var s Counts
	for _, p := range r.Partitions {
		s.Add(p.Counts)
	}
	r.Summary = s
}

// Failed 返回失败的分区数。
func (r RunReport) Failed() int {
	n := 0
	for _, p := range r.Partitions {
		if p.Status == StatusFailed {
			n++
		}
	}
	return n
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
