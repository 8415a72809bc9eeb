package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// ErrCodeNotFound 表示 --config 指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	DefaultSource = "wikipedia"
	DefaultDriver = "sqlite"
	// DefaultDSN 是 sqlite 的默认库文件（相对 cwd）。
	DefaultDSN = "airsync.db"
)

// 无 --config 时按顺序在 cwd 下查找，第一个存在的生效。
var discoverNames = []string{"airsync.yaml", "airsync.yml", "airsync.json"}

// 环境变量；同名变量也可以写在 <cwd>/.env 里（进程环境优先）。
const (
	EnvDriver   = "AIRSYNC_DRIVER"
	EnvDSN      = "AIRSYNC_DSN"
	EnvCacheDir = "AIRSYNC_CACHE_DIR"
	EnvProxyURL = "AIRSYNC_PROXY_URL"
)

// CLIArgs 保留“是否显式指定”的信息，保证 --apply=false 能覆盖 config.apply=true。
type CLIArgs struct {
	Config string

	Source    string
	SourceSet bool
	SourceDir string

	Driver    string
	DriverSet bool
	DSN       string
	DSNSet    bool

	Apply    bool
	ApplySet bool

	Partitions []string

	CacheDir    string
	CacheDirSet bool

	MetricsAddr    string
	MetricsAddrSet bool

	Report string
}

// FileConfig 对应 airsync.yaml / airsync.json。
type FileConfig struct {
	Source      string       `json:"source" yaml:"source"`
	SourceDir   string       `json:"source_dir" yaml:"source_dir"`
	APIURL      string       `json:"api_url" yaml:"api_url"`
	Driver      string       `json:"driver" yaml:"driver"`
	DSN         string       `json:"dsn" yaml:"dsn"`
	Apply       *bool        `json:"apply" yaml:"apply"`
	Partitions  []string     `json:"partitions" yaml:"partitions"`
	CacheDir    string       `json:"cache_dir" yaml:"cache_dir"`
	Proxy       *ProxyConfig `json:"proxy" yaml:"proxy"`
	UserAgent   string       `json:"user_agent" yaml:"user_agent"`
	MetricsAddr string       `json:"metrics_addr" yaml:"metrics_addr"`
	Report      string       `json:"report" yaml:"report"`
}

type ProxyConfig struct {
	URL string `json:"url" yaml:"url"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 为空表示没有使用配置文件。
	ConfigPath string

	Source    string
	SourceDir string
	APIURL    string

	Driver string
	DSN    string

	Apply bool
	// Partitions 为空表示使用 source 的默认分区。
	Partitions []string

	CacheDir  string
	ProxyURL  string
	UserAgent string

	MetricsAddr string
	// ReportPath 是 apply 模式下 report.json 的写入位置。
	ReportPath string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			if e.Path == "" {
				return fmt.Sprintf("%s：%v", e.Code, e.Err)
			}
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件、环境变量，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 给了 --config：必须存在
// 2) 否则依次尝试 <cwd>/airsync.yaml、airsync.yml、airsync.json（都不存在也可以）
//
// 覆盖优先级：CLI > 环境变量（含 .env）> 配置文件 > 默认值。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	return loadEffective(cwd, cli, os.LookupEnv)
}

func loadEffective(cwd string, cli CLIArgs, lookup func(string) (string, bool)) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
	)
	if strings.TrimSpace(cli.Config) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.Config)
		var exists bool
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		for _, name := range discoverNames {
			p := filepath.Join(cwdAbs, name)
			c, exists, err := readFileConfig(p)
			if err != nil {
				return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
			}
			if exists {
				cfgPath, fc = p, c
				break
			}
		}
	}

	env, err := envLookup(cwdAbs, lookup)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: filepath.Join(cwdAbs, ".env"), Err: err}
	}

	// 配置文件里的相对路径以配置文件所在目录为基准；CLI/环境变量以 cwd 为基准。
	fileBase := cwdAbs
	if cfgPath != "" {
		fileBase = filepath.Dir(cfgPath)
	}
	return merge(cwdAbs, fileBase, cli, env, fc, cfgPath)
}

// envLookup 返回“进程环境优先，其次 .env”的查询函数。
func envLookup(cwd string, lookup func(string) (string, bool)) (func(string) string, error) {
	dotenv := map[string]string{}
	p := filepath.Join(cwd, ".env")
	if _, err := os.Stat(p); err == nil {
		m, err := godotenv.Read(p)
		if err != nil {
			return nil, err
		}
		dotenv = m
	}
	return func(key string) string {
		if v, ok := lookup(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(dotenv[key])
	}, nil
}

// pick 按 CLI > env > file > def 的顺序取第一个非空值。
func pick(cli string, cliSet bool, env, file, def string) string {
	if cliSet {
		return strings.TrimSpace(cli)
	}
	if env != "" {
		return env
	}
	if v := strings.TrimSpace(file); v != "" {
		return v
	}
	return def
}

func merge(cwd, fileBase string, cli CLIArgs, env func(string) string, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) error { return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err} }

	src := strings.ToLower(pick(cli.Source, cli.SourceSet, "", fc.Source, DefaultSource))
	sourceDir := ""
	switch src {
	case "wikipedia":
	case "file":
		if strings.TrimSpace(cli.SourceDir) != "" {
			sourceDir = absCleanFrom(cwd, cli.SourceDir)
		} else if strings.TrimSpace(fc.SourceDir) != "" {
			sourceDir = absCleanFrom(fileBase, fc.SourceDir)
		}
		if sourceDir == "" {
			return EffectiveConfig{}, invalid(fmt.Errorf("source=file 时必须指定 source_dir"))
		}
	default:
		return EffectiveConfig{}, invalid(fmt.Errorf("source 只能是 wikipedia 或 file，实际是 %q", src))
	}

	apiURL := strings.TrimSpace(fc.APIURL)
	if apiURL != "" {
		if err := validateHTTPURL("api_url", apiURL); err != nil {
			return EffectiveConfig{}, invalid(err)
		}
	}

	driver := strings.ToLower(pick(cli.Driver, cli.DriverSet, env(EnvDriver), fc.Driver, DefaultDriver))
	switch driver {
	case "sqlite", "pgx":
	case "postgres":
		driver = "pgx"
	default:
		return EffectiveConfig{}, invalid(fmt.Errorf("driver 只能是 sqlite 或 pgx，实际是 %q", driver))
	}

	var dsn string
	switch {
	case cli.DSNSet:
		dsn = strings.TrimSpace(cli.DSN)
		if driver == "sqlite" {
			dsn = sqlitePath(cwd, dsn)
		}
	case env(EnvDSN) != "":
		dsn = env(EnvDSN)
		if driver == "sqlite" {
			dsn = sqlitePath(cwd, dsn)
		}
	case strings.TrimSpace(fc.DSN) != "":
		dsn = strings.TrimSpace(fc.DSN)
		if driver == "sqlite" {
			dsn = sqlitePath(fileBase, dsn)
		}
	case driver == "sqlite":
		dsn = filepath.Join(cwd, DefaultDSN)
	}
	if dsn == "" {
		return EffectiveConfig{}, invalid(fmt.Errorf("driver=%s 时必须指定 dsn（或环境变量 %s）", driver, EnvDSN))
	}

	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}

	parts := cli.Partitions
	if len(parts) == 0 {
		parts = fc.Partitions
	}
	partitions, err := normPartitions(parts)
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}

	cacheDir := ""
	switch {
	case cli.CacheDirSet:
		if strings.TrimSpace(cli.CacheDir) != "" {
			cacheDir = absCleanFrom(cwd, cli.CacheDir)
		}
	case env(EnvCacheDir) != "":
		cacheDir = absCleanFrom(cwd, env(EnvCacheDir))
	case strings.TrimSpace(fc.CacheDir) != "":
		cacheDir = absCleanFrom(fileBase, fc.CacheDir)
	}

	fileProxy := ""
	if fc.Proxy != nil {
		fileProxy = fc.Proxy.URL
	}
	proxyURL := pick("", false, env(EnvProxyURL), fileProxy, "")
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return EffectiveConfig{}, invalid(fmt.Errorf("proxy.url 无效：%w", err))
		}
	}

	reportPath := ""
	if strings.TrimSpace(cli.Report) != "" {
		reportPath = absCleanFrom(cwd, cli.Report)
	} else if strings.TrimSpace(fc.Report) != "" {
		reportPath = absCleanFrom(fileBase, fc.Report)
	}

	return EffectiveConfig{
		ConfigPath:  cfgPath,
		Source:      src,
		SourceDir:   sourceDir,
		APIURL:      apiURL,
		Driver:      driver,
		DSN:         dsn,
		Apply:       apply,
		Partitions:  partitions,
		CacheDir:    cacheDir,
		ProxyURL:    proxyURL,
		UserAgent:   strings.TrimSpace(fc.UserAgent),
		MetricsAddr: pick(cli.MetricsAddr, cli.MetricsAddrSet, "", fc.MetricsAddr, ""),
		ReportPath:  reportPath,
	}, nil
}

var partitionRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// normPartitions 去空白、转大写、去重（保持首次出现的顺序）。
// 允许 "A,B" 这种逗号写法。
func normPartitions(in []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, raw := range in {
		for _, p := range strings.Split(raw, ",") {
			p = strings.ToUpper(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			if !partitionRE.MatchString(p) {
				return nil, fmt.Errorf("非法分区：%q", p)
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", field, raw)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// sqlitePath 把 sqlite 的文件路径变为绝对路径；"file:" URI 与 ":memory:" 原样保留。
func sqlitePath(base, dsn string) string {
	if strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":memory:") {
		return dsn
	}
	return absCleanFrom(base, dsn)
}

// readFileConfig 按扩展名读取 JSON 或 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = json.Unmarshal(b, &fc)
	}
	if err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
