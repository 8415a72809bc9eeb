package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/John-Robertt/airsync/internal/app/run"
	"github.com/John-Robertt/airsync/internal/config"
	"github.com/John-Robertt/airsync/internal/domain"
	"github.com/John-Robertt/airsync/internal/infra/fsx"
	"github.com/John-Robertt/airsync/internal/metrics"
	"github.com/John-Robertt/airsync/internal/source"
	"github.com/John-Robertt/airsync/internal/source/file"
	"github.com/John-Robertt/airsync/internal/source/wikipedia"
	"github.com/John-Robertt/airsync/internal/store"
)

// defaultReportName 是 apply 模式下 report 的默认文件名（位于 cwd）。
const defaultReportName = "airsync-report.json"

type runFlags struct {
	config      string
	source      string
	sourceDir   string
	driver      string
	dsn         string
	apply       bool
	partitions  []string
	cacheDir    string
	metricsAddr string
	report      string
	initSchema  bool
	verbose     int
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "运行一次对账（默认 dry-run）",
		Example: `  # 预览 A、B 两个分区会产生的变更
  airsync run --partitions A,B

  # 对 postgres 参考库执行全部变更，并暴露 metrics
  AIRSYNC_DSN=postgres://user@localhost/flights airsync run --driver pgx --apply --metrics-addr :9090

  # 离线回放：读取 pages/<key>.wikitext
  airsync run --source file --source-dir pages`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code := runMain(cmd.Context(), cmd.Flags(), f, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.config, "config", "", "配置文件路径（默认在 cwd 查找 airsync.yaml / airsync.json）")
	fs.StringVar(&f.source, "source", "", "数据源：wikipedia|file（默认 wikipedia）")
	fs.StringVar(&f.sourceDir, "source-dir", "", "source=file 时的页面目录（<dir>/<key>.wikitext）")
	fs.StringVar(&f.driver, "driver", "", "参考库驱动：sqlite|pgx（默认 sqlite）")
	fs.StringVar(&f.dsn, "dsn", "", "参考库连接串；sqlite 为文件路径（默认 ./airsync.db）")
	fs.BoolVar(&f.apply, "apply", false, "执行变更（默认 dry-run）；支持 --apply=false 覆盖配置中的 apply=true")
	fs.StringSliceVar(&f.partitions, "partitions", nil, "只处理这些分区，例如 A,B（默认 A..Z）")
	fs.StringVar(&f.cacheDir, "cache-dir", "", "页面原始内容缓存目录（为空则不缓存）")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus metrics 监听地址，例如 :9090（为空则关闭）")
	fs.StringVar(&f.report, "report", "", "apply 模式下 report 的写入路径（默认 ./"+defaultReportName+"）")
	fs.BoolVar(&f.initSchema, "init-schema", false, "apply 时若表不存在则创建 airlines / flights（sqlite 总是自动创建；dry-run 忽略）")
	fs.CountVarP(&f.verbose, "verbose", "v", "日志级别：-v 为 info，-vv 为 debug")
	return cmd
}

func runMain(ctx context.Context, fs *pflag.FlagSet, f runFlags, stdout, stderr io.Writer) int {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.SetDefault(newLogger(stderr, f.verbose))

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Config:         f.config,
		Source:         f.source,
		SourceSet:      fs.Changed("source"),
		SourceDir:      f.sourceDir,
		Driver:         f.driver,
		DriverSet:      fs.Changed("driver"),
		DSN:            f.dsn,
		DSNSet:         fs.Changed("dsn"),
		Apply:          f.apply,
		ApplySet:       fs.Changed("apply"),
		Partitions:     f.partitions,
		CacheDir:       f.cacheDir,
		CacheDirSet:    fs.Changed("cache-dir"),
		MetricsAddr:    f.metricsAddr,
		MetricsAddrSet: fs.Changed("metrics-addr"),
		Report:         f.report,
	})
	if err != nil {
		dryRun := !(f.apply && fs.Changed("apply"))
		emitReport(stdout, stderr, reportForError(dryRun, domain.ErrCodeConfigInvalid, err))
		return 1
	}

	reg, err := newRegistry(eff)
	if err != nil {
		fmt.Fprintf(stderr, "初始化 source registry 失败：%v\n", err)
		return 1
	}

	st, err := openStore(ctx, eff, f.initSchema)
	if err != nil {
		emitReport(stdout, stderr, reportForError(!eff.Apply, domain.ErrCodeStoreFailed, err))
		return 1
	}
	defer st.Close()

	var mo run.Observer
	if eff.MetricsAddr != "" {
		m := metrics.New()
		serveMetrics(eff.MetricsAddr, m.Handler())
		mo = metricsObserver{m: m}
	}

	progressW, interactive := pickProgressWriter(stdout, stderr)
	var ui run.Observer
	if interactive {
		ui = newProgressUI(progressW)
	}
	obs := run.Observers(ui, mo)

	rr := run.ExecuteWithObserver(ctx, eff, reg, st, obs)

	// apply：写入 report 文件；dry-run 不落盘。
	if eff.Apply {
		path := reportPath(cwd, eff)
		if err := writeReportFile(path, rr); err != nil {
			fmt.Fprintf(stderr, "写入 report 失败：%v\n", err)
			emitReport(stdout, stderr, rr)
			return 1
		}
		if interactive {
			fmt.Fprintf(progressW, "report: %s\n", path)
		}
	}

	emitReport(stdout, stderr, rr)
	if rr.ErrorCode == "" && rr.Failed() == 0 {
		return 0
	}
	return 1
}

func newLogger(w io.Writer, verbose int) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbose >= 2:
		level = slog.LevelDebug
	case verbose == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newRegistry(eff config.EffectiveConfig) (source.Registry, error) {
	srcs := []source.Source{
		wikipedia.Source{APIURL: eff.APIURL},
	}
	if eff.SourceDir != "" {
		srcs = append(srcs, file.Source{Dir: eff.SourceDir})
	}
	return source.NewRegistry(srcs...)
}

// openStore 打开参考库。
// apply：sqlite 总是建表，pgx 只在 --init-schema 时建表；dry-run 只读已有的库，不建文件也不建表。
func openStore(ctx context.Context, eff config.EffectiveConfig, initSchema bool) (*store.SQL, error) {
	if !eff.Apply {
		if initSchema {
			slog.Warn("store.init_schema.skipped", "reason", "dry-run")
		}
		return store.OpenExisting(ctx, eff.Driver, eff.DSN)
	}
	st, err := store.Open(ctx, eff.Driver, eff.DSN)
	if err != nil {
		return nil, err
	}
	if eff.Driver == store.DriverSQLite || initSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return st, nil
}

// serveMetrics 在后台暴露 /metrics；监听失败只记日志，不影响对账本身。
func serveMetrics(addr string, h http.Handler) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h)
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		slog.Info("metrics.http.start", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics.http.error", "err", err)
		}
	}()
}

func reportPath(cwd string, eff config.EffectiveConfig) string {
	if eff.ReportPath != "" {
		return eff.ReportPath
	}
	return filepath.Join(cwd, defaultReportName)
}

func writeReportFile(path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), b)
}

func reportForError(dryRun bool, code string, err error) domain.RunReport {
	now := time.Now().UTC()
	if c := config.Code(err); c != "" {
		code = c
	}
	rr := domain.RunReport{
		DryRun:     dryRun,
		StartedAt:  now,
		FinishedAt: now,
		Partitions: []domain.PartitionResult{},
		ErrorCode:  code,
		ErrorMsg:   err.Error(),
	}
	rr.Finalize()
	return rr
}

func summaryLine(rr domain.RunReport) string {
	s := rr.Summary
	return fmt.Sprintf("完成：matched=%d updated=%d deduped=%d added=%d total=%d dropped=%d failed_partitions=%d",
		s.Matched, s.Updated, s.Deduped, s.Added, s.Total, s.Dropped, rr.Failed(),
	)
}

// emitReport：stdout 是终端时打印摘要；否则 stdout 只输出一个 RunReport JSON（摘要走 stderr）。
func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	if isTTY(stdout) {
		fmt.Fprintln(stdout, summaryLine(rr))
		printFailures(stderr, rr)
		return
	}

	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(stderr, summaryLine(rr))
	printFailures(stderr, rr)
}

func printFailures(w io.Writer, rr domain.RunReport) {
	if rr.ErrorCode != "" {
		fmt.Fprintf(w, "%s: %s\n", rr.ErrorCode, rr.ErrorMsg)
	}
	for _, p := range rr.Partitions {
		if p.Status != domain.StatusFailed {
			continue
		}
		fmt.Fprintf(w, "%s %s: %s\n", p.Key, p.ErrorCode, p.ErrorMsg)
	}
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(stderr) {
		return stderr, true
	}
	if isTTY(stdout) {
		return stdout, true
	}
	return nil, false
}

// metricsObserver 把运行事件转成 Prometheus 计数。
type metricsObserver struct {
	m *metrics.Metrics
}

func (o metricsObserver) OnStart(config.EffectiveConfig) {}

func (o metricsObserver) OnPhaseDone(string, map[string]any, time.Duration) {}

func (o metricsObserver) OnPartitionStart(string, int) {}

func (o metricsObserver) OnDecision(key string, idx, total int, d domain.Decision) {
	o.m.ObserveDecision(key, d)
}

func (o metricsObserver) OnPartitionDone(pr domain.PartitionResult, dur time.Duration) {
	o.m.ObservePartition(pr)
}
