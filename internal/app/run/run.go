package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/airsync/internal/config"
	"github.com/John-Robertt/airsync/internal/domain"
	"github.com/John-Robertt/airsync/internal/infra/cache"
	"github.com/John-Robertt/airsync/internal/infra/httpx"
	"github.com/John-Robertt/airsync/internal/match"
	"github.com/John-Robertt/airsync/internal/reconcile"
	"github.com/John-Robertt/airsync/internal/source"
	"github.com/John-Robertt/airsync/internal/store"
)

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
// 单个分区失败不影响其他分区；只有加载参考库失败等全局错误才写入 RunReport.ErrorCode。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg source.Registry, st store.Store) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, reg, st, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
//
// 流程：
// 1) 一次性加载全部参考记录并建立索引（运行期间索引不再更新）
// 2) 按顺序处理分区：抓取（可走缓存）-> 解析 -> 逐条匹配/对账/执行
// 3) dry-run 时 store 被 Recorder 包装：指令照常产出并写入报告，但不写库
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, reg source.Registry, st store.Store, obs Observer) domain.RunReport {
	log := slog.Default()

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		Source:     eff.Source,
		DryRun:     !eff.Apply,
		StartedAt:  time.Now().UTC(),
		Partitions: make([]domain.PartitionResult, 0, 26),
	}
	fail := func(code, msg string) domain.RunReport {
		rr.ErrorCode = code
		rr.ErrorMsg = msg
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		log.Error("run.failed", "run_id", rr.RunID, "error_code", code, "error", msg)
		return rr
	}

	src, ok := reg.Get(eff.Source)
	if !ok {
		return fail(domain.ErrCodeConfigInvalid, fmt.Sprintf("未知的 source：%q", eff.Source))
	}
	if st == nil {
		return fail(domain.ErrCodeConfigInvalid, "store 不能为空")
	}

	client, err := httpx.NewClient(eff.ProxyURL, eff.UserAgent)
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err))
	}
	cs := cache.New(eff.CacheDir, !eff.Apply)

	loadStarted := time.Now()
	refs, err := st.LoadAll(ctx)
	if err != nil {
		return fail(domain.ErrCodeStoreFailed, fmt.Sprintf("加载参考库失败：%v", err))
	}
	ix := match.Build(refs)
	rr.Reference = ix.Len()
	loadDur := time.Since(loadStarted)

	log.Info("reference.loaded", "records", ix.Len(), "iata_keys", len(ix.ByIATA), "icao_keys", len(ix.ByICAO), "dur", loadDur)
	if obs != nil {
		obs.OnPhaseDone("load", map[string]any{
			"records":   ix.Len(),
			"iata_keys": len(ix.ByIATA),
			"icao_keys": len(ix.ByICAO),
		}, loadDur)
	}

	// dry-run：写操作只记录不执行。
	var w store.Store = st
	if !eff.Apply {
		w = store.NewRecorder(st)
	}

	keys := eff.Partitions
	if len(keys) == 0 {
		keys = src.Partitions()
	}

	for i, key := range keys {
		if ctx.Err() != nil {
			// 取消后剩余分区统一标记，报告仍然完整。
			for _, k := range keys[i:] {
				pr := domain.PartitionResult{
					Key:       k,
					Status:    domain.StatusFailed,
					ErrorCode: domain.ErrCodeCanceled,
					ErrorMsg:  "运行被取消",
				}
				rr.Partitions = append(rr.Partitions, pr)
				if obs != nil {
					obs.OnPartitionDone(pr, 0)
				}
			}
			break
		}

		started := time.Now()
		pr := runPartition(ctx, log, src, key, client, cs, eff.Apply, ix, w, obs)
		dur := time.Since(started)

		rr.Partitions = append(rr.Partitions, pr)
		log.Info("partition.done",
			"key", pr.Key,
			"status", pr.Status,
			"matched", pr.Counts.Matched,
			"updated", pr.Counts.Updated,
			"deduped", pr.Counts.Deduped,
			"added", pr.Counts.Added,
			"total", pr.Counts.Total,
			"dropped", pr.Counts.Dropped,
			"dur", dur,
		)
		if pr.Status == domain.StatusFailed {
			log.Warn("partition.failed", "key", pr.Key, "error_code", pr.ErrorCode, "error", pr.ErrorMsg)
		}
		if obs != nil {
			obs.OnPartitionDone(pr, dur)
		}
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// runPartition 处理一个分区。
//
// 抓取/解析失败：分区失败，不影响后续分区。
// store 失败：中止该分区剩余候选记录（已执行的变更保留），分区失败。
func runPartition(ctx context.Context, log *slog.Logger, src source.Source, key string, client *http.Client, cs cache.Store, apply bool, ix match.Index, w store.Store, obs Observer) domain.PartitionResult {
	pr := domain.PartitionResult{
		Key:       key,
		Status:    domain.StatusOK,
		Decisions: []domain.Decision{},
		Dropped:   []domain.RowIssue{},
	}

	p, err := source.FetchPartition(ctx, src, key, client, source.Options{
		Cache:      cs,
		ReadCache:  cs.Enabled(),
		WriteCache: apply,
	})
	if err != nil {
		pr.Status = domain.StatusFailed
		pr.ErrorCode, pr.ErrorMsg = classify(err)
		return pr
	}
	pr.URL = p.URL
	pr.Cached = p.FromCache
	if len(p.Dropped) > 0 {
		pr.Dropped = p.Dropped
		pr.Counts.Dropped = len(p.Dropped)
		for _, d := range p.Dropped {
			log.Debug("source.row.dropped", "key", key, "row", d.Row, "reason", d.Reason)
		}
	}

	if obs != nil {
		obs.OnPartitionStart(key, len(p.Candidates))
	}

	for i, c := range p.Candidates {
		if err := ctx.Err(); err != nil {
			pr.Status = domain.StatusFailed
			pr.ErrorCode, pr.ErrorMsg = classify(err)
			return pr
		}

		d, err := reconcileOne(ctx, log, ix, w, c)
		if err != nil {
			// 同一候选的前几条指令可能已提交（例如 merge 成功、update 失败）：照实记入报告。
			if len(d.Mutations) > 0 {
				tally(&pr, d)
				if obs != nil {
					obs.OnDecision(key, i+1, len(p.Candidates), d)
				}
			}
			pr.Status = domain.StatusFailed
			pr.ErrorCode, pr.ErrorMsg = classify(err)
			return pr
		}

		tally(&pr, d)
		if obs != nil {
			obs.OnDecision(key, i+1, len(p.Candidates), d)
		}
	}
	return pr
}

// tally 按判定里实际执行的指令累加计数并记录判定。
func tally(pr *domain.PartitionResult, d domain.Decision) {
	pr.Counts.Total++
	switch d.Outcome {
	case domain.OutcomeMatched:
		pr.Counts.Matched++
		for _, m := range d.Mutations {
			switch m.Kind {
			case domain.MutationMerge:
				pr.Counts.Deduped++
			case domain.MutationUpdate:
				pr.Counts.Updated++
			}
		}
	case domain.OutcomeAdded:
		pr.Counts.Added++
	}
	pr.Decisions = append(pr.Decisions, d)
}

// reconcileOne 对一个候选记录做匹配、对账并执行变更。
// 索引是运行开始时的快照：同一次运行里新增/合并的记录不会被后续候选看到。
//
// 出错时返回的 Decision 只保留已经执行成功的指令；DupeID 仅在 merge 已执行时保留。
func reconcileOne(ctx context.Context, log *slog.Logger, ix match.Index, w store.Store, c domain.Candidate) (domain.Decision, error) {
	d := domain.Decision{Candidate: c}

	res := match.Find(ix, c)
	if res.Match == nil {
		d.Outcome = domain.OutcomeAdded
		ms := []domain.Mutation{reconcile.Insert(c)}
		n, id, err := reconcile.Apply(ctx, w, ms)
		d.Mutations = ms[:n]
		if err != nil {
			return d, err
		}
		log.Info("reconcile.new", "candidate", c.Label(), "alid", id)
		return d, nil
	}

	ref := *res.Match
	d.Outcome = domain.OutcomeMatched
	d.MatchID = ref.ID
	log.Debug("reconcile.match", "candidate", c.Label(), "ref", ref.Label(), "rule", res.Rule)

	var dupe *domain.Airline
	if res.Dupe != nil {
		dupe = res.Dupe
		d.DupeID = dupe.ID
		log.Info("reconcile.dupe", "ref", ref.Label(), "dupe", dupe.Label(), "reason", res.DupeReason)
	}

	rc := reconcile.Reconcile(ref, c, dupe)
	ms := rc.Mutations
	if ms == nil {
		ms = []domain.Mutation{}
	}
	n, _, err := reconcile.Apply(ctx, w, ms)
	d.Mutations = ms[:n]
	if err != nil {
		if !hasKind(d.Mutations, domain.MutationMerge) {
			d.DupeID = 0
		}
		return d, err
	}
	for _, m := range d.Mutations {
		if m.Kind == domain.MutationUpdate {
			log.Info("reconcile.update", "ref", ref.Label(), "fields", m.Fields.String())
		}
	}
	return d, nil
}

func hasKind(ms []domain.Mutation, kind string) bool {
	for _, m := range ms {
		if m.Kind == kind {
			return true
		}
	}
	return false
}

// classify 把错误映射为分区的 error_code 与可读的 error_msg。
func classify(err error) (code, msg string) {
	if errors.Is(err, context.Canceled) {
		return domain.ErrCodeCanceled, "运行被取消"
	}

	var se *source.Error
	if errors.As(err, &se) {
		switch se.Stage {
		case "parse":
			return domain.ErrCodeParseFailed, humanizeParseError(se.Source, se.Err)
		default:
			return domain.ErrCodeFetchFailed, humanizeFetchError(se.Source, se.Err)
		}
	}

	// 其余错误都来自执行变更（store.Error 或非法指令）。
	return domain.ErrCodeStoreFailed, err.Error()
}

func humanizeFetchError(sourceName string, err error) string {
	if err == nil {
		return sourceName + " 抓取失败"
	}

	// HTTP 非 2xx：尽量给出可操作提示。
	var hs *source.HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case 403, 429:
			return fmt.Sprintf("%s 返回 HTTP %d（可能触发限流）。请设置带联系方式的 user_agent，或稍后重试。", sourceName, hs.StatusCode)
		case 404:
			return fmt.Sprintf("%s 返回 HTTP 404（api_url 可能不正确）。", sourceName)
		default:
			return fmt.Sprintf("%s 返回 HTTP %d。", sourceName, hs.StatusCode)
		}
	}

	low := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return fmt.Sprintf("%s 抓取超时。建议检查网络/代理后重试。", sourceName)
	}
	if strings.Contains(low, "tls") || strings.Contains(low, "handshake") {
		return fmt.Sprintf("%s 连接失败（TLS）。建议配置 proxy.url 或稍后重试。", sourceName)
	}
	return fmt.Sprintf("%s 抓取失败：%v", sourceName, err)
}

func humanizeParseError(sourceName string, err error) string {
	if err == nil {
		return sourceName + " 解析失败"
	}
	return fmt.Sprintf("%s 解析失败（页面不存在或返回了非预期内容）：%v", sourceName, err)
}
