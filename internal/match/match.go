package match

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/John-Robertt/airsync/internal/domain"
)

// Result 是一次匹配的完整结果。
//
// 不变量：Dupe 非空时 Match 一定非空。
type Result struct {
	Match *domain.Airline
	Dupe  *domain.Airline

	// Rule 是命中的 Round 1 规则名（"icao" / "iata"）；未命中为空。
	Rule string
	// DupeReason 是判定重复的检查名（"icao" / "callsign" / "name"）。
	DupeReason string
}

// Match 在索引中为候选记录寻找至多一个匹配，并在匹配记录的 IATA 桶里寻找至多一个重复。
// 纯函数：不修改索引。
func Match(ix Index, c domain.Candidate) (match, dupe *domain.Airline) {
	r := Find(ix, c)
	return r.Match, r.Dupe
}

// Find 与 Match 相同，但额外返回命中的规则（用于日志与报告）。
func Find(ix Index, c domain.Candidate) Result {
	var res Result
	for _, rl := range matchRules {
		bucket, ok := rl.bucket(ix, c)
		if !ok {
			continue
		}
		if m, found := firstAccepted(bucket, c, rl.accept); found {
			res.Match = &m
			res.Rule = rl.name
			break
		}
	}
	if res.Match == nil || !res.Match.IATA.Present() {
		return res
	}

	dupe, reason, found := findDupe(ix.ByIATA[res.Match.IATA], *res.Match)
	if found {
		res.Dupe = &dupe
		res.DupeReason = reason
	}
	return res
}

// predicate 判断参考记录 ref 是否满足候选 c 的某个子条件。
type predicate func(ref domain.Airline, c domain.Candidate) bool

// rule 是 Round 1 的一条规则：取哪个桶 + 桶内任一子条件成立即命中。
type rule struct {
	name   string
	bucket func(Index, domain.Candidate) ([]domain.Airline, bool)
	accept []predicate
}

// matchRules 按优先级排列；第一个命中的规则胜出，桶内按加载顺序取第一条。
var matchRules = []rule{
	{name: "icao", bucket: icaoBucket, accept: []predicate{sameIATA, sameCallsign, sameCountry}},
	{name: "iata", bucket: iataBucket, accept: []predicate{sameCallsign, sameCountry}},
}

func icaoBucket(ix Index, c domain.Candidate) ([]domain.Airline, bool) {
	if !c.ICAO.Present() {
		return nil, false
	}
	b, ok := ix.ByICAO[c.ICAO]
	return b, ok
}

func iataBucket(ix Index, c domain.Candidate) ([]domain.Airline, bool) {
	if !c.IATA.Present() {
		return nil, false
	}
	b, ok := ix.ByIATA[c.IATA]
	return b, ok
}

func sameIATA(ref domain.Airline, c domain.Candidate) bool {
	return c.IATA.Present() && ref.IATA == c.IATA
}

// 缺省与缺省视为相等（NULL 对 None）；空串与缺省不相等。
func sameCallsign(ref domain.Airline, c domain.Candidate) bool { return ref.Callsign == c.Callsign }

func sameCountry(ref domain.Airline, c domain.Candidate) bool { return ref.Country == c.Country }

func firstAccepted(bucket []domain.Airline, c domain.Candidate, accept []predicate) (domain.Airline, bool) {
	for _, ref := range bucket {
		for _, p := range accept {
			if p(ref, c) {
				return ref, true
			}
		}
	}
	return domain.Airline{}, false
}

type verdict int

const (
	undecided verdict = iota
	duplicate
	distinct
)

// dupeCheck 是 Round 2 的一步判定；返回 undecided 时交给下一步。
type dupeCheck struct {
	name  string
	judge func(other, match domain.Airline) verdict
}

var dupeChecks = []dupeCheck{
	{name: "country", judge: judgeCountry},
	{name: "icao", judge: judgeICAO},
	{name: "callsign", judge: judgeCallsign},
	{name: "name", judge: judgeName},
}

// 国家不同永远不是重复。
func judgeCountry(other, match domain.Airline) verdict {
	if other.Country != match.Country {
		return distinct
	}
	return undecided
}

func judgeICAO(other, match domain.Airline) verdict {
	if !other.ICAO.Present() || !match.ICAO.Present() {
		return undecided
	}
	if other.ICAO == match.ICAO {
		return duplicate
	}
	return distinct
}

func judgeCallsign(other, match domain.Airline) verdict {
	if !other.Callsign.Present() || !match.Callsign.Present() {
		return undecided
	}
	upper := cases.Upper(language.Und)
	if upper.String(other.Callsign.Value) == upper.String(match.Callsign.Value) {
		return duplicate
	}
	return distinct
}

func judgeName(other, match domain.Airline) verdict {
	if NameRatio(other.Name, match.Name) > DupeNameRatio {
		return duplicate
	}
	return distinct
}

// findDupe 扫描 match 所在 IATA 桶。
// 注意：扫描不提前结束，后面判定为重复的记录会覆盖前面的（last-write-wins）。
func findDupe(bucket []domain.Airline, match domain.Airline) (domain.Airline, string, bool) {
	var (
		dupe   domain.Airline
		reason string
		found  bool
	)
	for _, other := range bucket {
		if other.ID == match.ID {
			continue
		}
		for _, chk := range dupeChecks {
			v := chk.judge(other, match)
			if v == undecided {
				continue
			}
			if v == duplicate {
				dupe, reason, found = other, chk.name, true
			}
			break
		}
	}
	return dupe, reason, found
}
