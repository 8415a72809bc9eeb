package match

import "github.com/John-Robertt/airsync/internal/domain"

// Index 是参考库的两路只读索引（按 IATA、按 ICAO）。
//
// 约束：
// - 每个键对应一个有序列表，顺序 = 加载顺序；重复键保留，不覆盖
// - Build 之后只读；运行期间的变更写入 store，不回写索引
type Index struct {
	ByIATA map[domain.Opt][]domain.Airline
	ByICAO map[domain.Opt][]domain.Airline

	n int
}

// Build 为全量参考记录建立索引。
//
// IATA 为空串时规范化为缺省（空串永远不能作为匹配键）；ICAO 原样使用，
// 缺省的 ICAO 自成一个桶。
func Build(records []domain.Airline) Index {
	ix := Index{
		ByIATA: make(map[domain.Opt][]domain.Airline, len(records)),
		ByICAO: make(map[domain.Opt][]domain.Airline, len(records)),
		n:      len(records),
	}
	for _, r := range records {
		r.IATA = normIATA(r.IATA)
		ix.ByIATA[r.IATA] = append(ix.ByIATA[r.IATA], r)
		ix.ByICAO[r.ICAO] = append(ix.ByICAO[r.ICAO], r)
	}
	return ix
}

// Len 返回建索引时的记录数。
func (ix Index) Len() int { return ix.n }

func normIATA(o domain.Opt) domain.Opt {
	if o.Valid && o.Value == "" {
		return domain.Opt{}
	}
	return o
}
