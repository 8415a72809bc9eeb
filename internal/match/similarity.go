package match

import "github.com/pmezard/go-difflib/difflib"

// DupeNameRatio 是名称相似度的判重阈值（严格大于）。
const DupeNameRatio = 0.8

// NameRatio 计算两个名称的 Ratcliff/Obershelp 相似度（0.0-1.0）：
// 2*M/T，M 为匹配字符数，T 为两串总长度。按字符（rune）比较。
func NameRatio(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
