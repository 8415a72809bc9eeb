package domain

import "fmt"

const (
	MutationInsert = "insert"
	MutationUpdate = "update"
	MutationMerge  = "merge"
)

// Mutation 是对参考库的一条结构化变更指令。
// 转义/事务由 store 负责；核心只产出指令。
type Mutation struct {
	Kind string `json:"kind"`

	// ID：update 的目标；merge 时为保留的记录。
	ID int64 `json:"alid,omitempty"`
	// DupeID：merge 时被合并并删除的记录。
	DupeID int64 `json:"dupe_alid,omitempty"`

	Fields    FieldSet   `json:"fields,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"` // 仅 insert
}

func (m Mutation) String() string {
	switch m.Kind {
	case MutationInsert:
		if m.Candidate == nil {
			return "insert <nil>"
		}
		return "insert " + m.Candidate.Label()
	case MutationUpdate:
		return fmt.Sprintf("update alid=%d %s", m.ID, m.Fields)
	case MutationMerge:
		return fmt.Sprintf("merge alid=%d <- %d", m.ID, m.DupeID)
	default:
		return m.Kind
	}
}
