package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Opt 是可缺省的字符串字段。
//
// 语义：Valid=false 表示“缺省”（数据库 NULL / 源表空单元格）；
// Valid=true 且 Value=="" 表示“存在但为空串”，只会出现在参考库的数据里。
// 两者必须区分：空串不能当作匹配键，但又不等于缺省。
type Opt struct {
	Value string
	Valid bool
}

// Some 构造一个存在的值（允许空串）。
func Some(s string) Opt { return Opt{Value: s, Valid: true} }

// OptOf 把空串视为缺省；用于清洗后的单元格与 IATA 规范化。
func OptOf(s string) Opt {
	if s == "" {
		return Opt{}
	}
	return Some(s)
}

// Present 表示“非缺省且非空”，对应原始数据里的真值判断。
func (o Opt) Present() bool { return o.Valid && o.Value != "" }

func (o Opt) String() string {
	if !o.Valid {
		return "N/A"
	}
	return o.Value
}

func (o Opt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Opt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = Opt{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*o = Some(s)
	return nil
}

// Candidate 是从源表（Wikipedia）解析出的一行航司记录。
// 解析后不可变；处理完即丢弃。
type Candidate struct {
	IATA     Opt    `json:"iata"` // 主代码（2 位）
	ICAO     Opt    `json:"icao"` // 次代码（3 位），匹配优先级高于 IATA
	Name     string `json:"name"`
	Callsign Opt    `json:"callsign"`
	Country  Opt    `json:"country"`
}

// Label 用于日志/报告的一行描述：Name (IATA/ICAO, N/A)。
func (c Candidate) Label() string {
	return fmt.Sprintf("%s (%s/%s, N/A)", c.Name, c.IATA, c.ICAO)
}

// Airline 是参考库 airlines 表中的一行。
//
// 不变量：ID 在参考库内唯一；只能通过 reconcile 输出的变更被修改或删除。
type Airline struct {
	ID       int64  `json:"alid"`
	Name     string `json:"name"`
	IATA     Opt    `json:"iata"`
	ICAO     Opt    `json:"icao"`
	Callsign Opt    `json:"callsign"`
	Country  Opt    `json:"country"`
}

func (a Airline) Label() string {
	return fmt.Sprintf("%s (%s/%s, %d)", a.Name, a.IATA, a.ICAO, a.ID)
}

// Field 是可被源数据覆盖的列名（同时也是 airlines 表的列名）。
type Field string

const (
	FieldName     Field = "name"
	FieldCallsign Field = "callsign"
	FieldICAO     Field = "icao"
	FieldIATA     Field = "iata"
)

// Fields 是可比较字段的固定顺序；diff、SQL 与报告都按这个顺序输出。
var Fields = []Field{FieldName, FieldCallsign, FieldICAO, FieldIATA}

// IsField 判断 s 是否为可覆盖的列名（SQL 层以此做白名单）。
func IsField(s string) bool {
	for _, f := range Fields {
		if string(f) == s {
			return true
		}
	}
	return false
}

// FieldSet 是字段 -> 新值的映射。
type FieldSet map[Field]string

// Keys 按 Fields 的固定顺序返回已设置的字段。
func (fs FieldSet) Keys() []Field {
	out := make([]Field, 0, len(fs))
	for _, f := range Fields {
		if _, ok := fs[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (fs FieldSet) String() string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%q", f, fs[f]))
	}
	return strings.Join(parts, " ")
}

// Value 读取参考记录上某个字段的当前值。
func (a Airline) Value(f Field) Opt {
	switch f {
	case FieldName:
		return Some(a.Name)
	case FieldCallsign:
		return a.Callsign
	case FieldICAO:
		return a.ICAO
	case FieldIATA:
		return a.IATA
	default:
		return Opt{}
	}
}

// Value 读取候选记录上某个字段的值（Name 为空视为缺省）。
func (c Candidate) Value(f Field) Opt {
	switch f {
	case FieldName:
		return OptOf(c.Name)
	case FieldCallsign:
		return c.Callsign
	case FieldICAO:
		return c.ICAO
	case FieldIATA:
		return c.IATA
	default:
		return Opt{}
	}
}

// With 返回把 fs 写入后的副本（不修改原记录）。
func (a Airline) With(fs FieldSet) Airline {
	out := a
	for f, v := range fs {
		switch f {
		case FieldName:
			out.Name = v
		case FieldCallsign:
			out.Callsign = Some(v)
		case FieldICAO:
			out.ICAO = Some(v)
		case FieldIATA:
			out.IATA = Some(v)
		}
	}
	return out
}
