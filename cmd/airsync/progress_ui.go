package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/John-Robertt/airsync/internal/app/run"
	"github.com/John-Robertt/airsync/internal/config"
	"github.com/John-Robertt/airsync/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 每个分区一条进度条；产生变更的候选记录单独打印一行（NEW / DUPE / UPDATE）
// - 没有变更的 MATCH 不打印，避免刷屏
type progressUI struct {
	w io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar

	newC  *color.Color
	dupeC *color.Color
	updC  *color.Color
	okC   *color.Color
	failC *color.Color
	dimC  *color.Color
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:     w,
		newC:  color.New(color.FgGreen, color.Bold),
		dupeC: color.New(color.FgYellow, color.Bold),
		updC:  color.New(color.FgCyan),
		okC:   color.New(color.FgGreen),
		failC: color.New(color.FgRed, color.Bold),
		dimC:  color.New(color.Faint),
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	mode := "dry-run"
	modeHint := " (不写库)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}

	fmt.Fprintf(p.w, "[%s] airsync run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	switch eff.Source {
	case "file":
		fmt.Fprintf(p.w, "  source: file (%s)\n", eff.SourceDir)
	default:
		fmt.Fprintf(p.w, "  source: %s\n", eff.Source)
	}
	fmt.Fprintf(p.w, "  store: %s %s\n", eff.Driver, formatDSN(eff.DSN))
	fmt.Fprintf(p.w, "  partitions: %s\n", formatPartitions(eff.Partitions))
	fmt.Fprintf(p.w, "  cache: %s\n", orOff(eff.CacheDir))
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	if eff.MetricsAddr != "" {
		fmt.Fprintf(p.w, "  metrics: %s/metrics\n", eff.MetricsAddr)
	}
	fmt.Fprintln(p.w)
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "load":
		fmt.Fprintf(p.w, "参考库: records=%d iata_keys=%d icao_keys=%d (%s)\n\n",
			intField(fields, "records"), intField(fields, "iata_keys"), intField(fields, "icao_keys"), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
}

func (p *progressUI) OnPartitionStart(key string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finishBarLocked()
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("["+key+"]"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
}

func (p *progressUI) OnDecision(key string, idx, total int, d domain.Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lines := decisionLines(d)
	if len(lines) > 0 && p.bar != nil {
		_ = p.bar.Clear()
	}
	for _, ln := range lines {
		c := p.updC
		switch ln.tag {
		case "NEW":
			c = p.newC
		case "DUPE":
			c = p.dupeC
		}
		c.Fprintf(p.w, "%-6s", ln.tag)
		fmt.Fprintf(p.w, " %s\n", ln.text)
	}
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *progressUI) OnPartitionDone(pr domain.PartitionResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finishBarLocked()

	if pr.Status == domain.StatusFailed {
		p.failC.Fprintf(p.w, "[%s] FAIL", pr.Key)
		fmt.Fprintf(p.w, " %s: %s (%s)\n", pr.ErrorCode, truncate(pr.ErrorMsg, 160), formatShortDuration(dur))
		return
	}
	c := pr.Counts
	p.okC.Fprintf(p.w, "[%s] OK", pr.Key)
	fmt.Fprintf(p.w, " matched=%d updated=%d deduped=%d added=%d total=%d", c.Matched, c.Updated, c.Deduped, c.Added, c.Total)
	if c.Dropped > 0 {
		fmt.Fprintf(p.w, " dropped=%d", c.Dropped)
	}
	if pr.Cached {
		p.dimC.Fprint(p.w, " (cache)")
	}
	fmt.Fprintf(p.w, " (%s)\n", formatShortDuration(dur))
}

func (p *progressUI) finishBarLocked() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

type uiLine struct {
	tag  string
	text string
}

// decisionLines 把一个判定渲染为若干行；无变更的匹配返回空。
func decisionLines(d domain.Decision) []uiLine {
	var out []uiLine
	for _, m := range d.Mutations {
		switch m.Kind {
		case domain.MutationInsert:
			out = append(out, uiLine{tag: "NEW", text: d.Candidate.Label()})
		case domain.MutationMerge:
			out = append(out, uiLine{tag: "DUPE", text: fmt.Sprintf("%s: alid=%d 合并到 %d", d.Candidate.Label(), m.DupeID, m.ID)})
		case domain.MutationUpdate:
			out = append(out, uiLine{tag: "UPDATE", text: fmt.Sprintf("alid=%d %s", m.ID, m.Fields)})
		}
	}
	return out
}

func orOff(s string) string {
	if strings.TrimSpace(s) == "" {
		return "off"
	}
	return s
}

func formatPartitions(keys []string) string {
	if len(keys) == 0 {
		return "默认（全部）"
	}
	return strings.Join(keys, ",")
}

// formatDSN 隐藏连接串里的密码。
func formatDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return dsn
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
