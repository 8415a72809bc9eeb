package source

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/John-Robertt/airsync/internal/domain"
)

// headerBlocks 是表格前需要跳过的块数：页面导语 + 表头行。
const headerBlocks = 2

// minCells 是一行至少需要的单元格数：IATA / ICAO / Name / Call sign / Country。
const minCells = 5

// ParseTable 把 “List of airline codes” 的 wikitext 表格解析为候选记录。
//
// 表格形如：
//
//	|-
//	! IATA
//	! ICAO
//	! Name
//	! Call sign
//	! Country
//	! Comments
//	|-
//	| AA
//	| AAL
//	| [[American Airlines]]
//	| AMERICAN
//	| United States
//	|
//
// 每个 "|-" 之间是一行；每行的前 5 行文本依次是 IATA/ICAO/Name/Call sign/Country。
// 行内 "||" 写法不支持：这类行单元格不足，会被丢弃并记入 dropped。
func ParseTable(text []byte) ([]domain.Candidate, []domain.RowIssue) {
	var (
		cands   []domain.Candidate
		dropped []domain.RowIssue
		block   []string
		header  = headerBlocks
		row     = 0
	)

	flush := func() {
		if header > 0 {
			header--
			return
		}
		row++
		c, err := parseRow(block)
		if err != nil {
			dropped = append(dropped, domain.RowIssue{Row: row, Reason: err.Error()})
			return
		}
		cands = append(cands, c)
	}

	sc := bufio.NewScanner(bytes.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "|-") {
			flush()
			block = block[:0]
			continue
		}
		if strings.HasPrefix(line, "|}") {
			// 表格结束：最后一行没有后继的 "|-"，这里补一次 flush。
			if len(block) > 0 {
				flush()
			}
			block = block[:0]
			header = headerBlocks
			continue
		}
		block = append(block, line)
	}
	return cands, dropped
}

func parseRow(block []string) (domain.Candidate, error) {
	if len(block) < minCells {
		return domain.Candidate{}, fmt.Errorf("单元格不足：%d < %d", len(block), minCells)
	}
	cells := make([]domain.Opt, minCells)
	for i := 0; i < minCells; i++ {
		cells[i] = CleanCell(block[i])
	}
	return domain.Candidate{
		IATA:     cells[0],
		ICAO:     cells[1],
		Name:     cells[2].Value,
		Callsign: cells[3],
		Country:  cells[4],
	}, nil
}

var (
	selfClosingRefRE = regexp.MustCompile(`(?i)<ref[^>]*/>`)
	wikiPunct        = strings.NewReplacer("[", "", "]", "", "|", "", "*", "", "?", "", "''", "")
)

// CleanCell 把一个 wikitext 单元格清洗为纯文本：
// - 去掉 HTML 标签与实体；<ref>...</ref> 的内容整体丢弃
// - ''[[Foo|Bar]]'' -> Bar（取最后一个 '|' 之后的文本，去掉 [ ] | * ? 与 ''）
// - NFC 规范化 + trim；结果为空则视为缺省
func CleanCell(raw string) domain.Opt {
	s := stripHTML(raw)
	if i := strings.LastIndex(s, "|"); i >= 0 {
		s = s[i+1:]
	}
	s = wikiPunct.Replace(s)
	s = strings.TrimSpace(norm.NFC.String(s))
	return domain.OptOf(s)
}

func stripHTML(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return raw
	}
	// HTML 解析器不认识 <ref .../> 的自闭合写法，会把后面的文本吞进 ref，先单独去掉。
	raw = selfClosingRefRE.ReplaceAllString(raw, "")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	doc.Find("ref").Remove()
	return doc.Text()
}
