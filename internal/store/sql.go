package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/John-Robertt/airsync/internal/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	DefaultDriver = DriverSQLite
	DefaultDSN    = "airsync.db"
)

var _ Store = (*SQL)(nil)

// SQL 是基于 database/sql 的参考库实现；支持 sqlite（modernc）与 postgres（pgx）。
type SQL struct {
	db     *sql.DB
	driver string
}

// Open 打开参考库并确认连通。
// sqlite 的 dsn 是文件路径（父目录不存在会创建）；postgres 的 dsn 是连接串。
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	return open(ctx, driver, dsn, true)
}

// OpenExisting 与 Open 相同，但 sqlite 文件必须已存在：不建目录、不建库文件（dry-run 用）。
func OpenExisting(ctx context.Context, driver, dsn string) (*SQL, error) {
	return open(ctx, driver, dsn, false)
}

func open(ctx context.Context, driver, dsn string, create bool) (*SQL, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = DefaultDriver
	}
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = DefaultDSN
		}
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if !create {
				if _, err := os.Stat(dsn); err != nil {
					return nil, fmt.Errorf("参考库不存在：%w", err)
				}
			} else if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("driver=%s 需要 dsn", driver)
		}
	default:
		return nil, fmt.Errorf("未知 driver：%q（只支持 %s / %s）", driver, DriverSQLite, DriverPostgres)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// 单连接：避免 sqlite 在并发写时返回 SQLITE_BUSY。
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &SQL{db: db, driver: driver}, nil
}

// DB 暴露底层连接（测试用）。
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Close() error { return s.db.Close() }

// EnsureSchema 在表不存在时创建 airlines 与 flights。
func (s *SQL) EnsureSchema(ctx context.Context) error {
	idType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		idType = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS airlines (
			alid ` + idType + `,
			name TEXT,
			iata TEXT,
			icao TEXT,
			callsign TEXT,
			country TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS flights (
			fid ` + idType + `,
			alid BIGINT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &Error{Op: "schema", Err: err}
		}
	}
	return nil
}

func (s *SQL) LoadAll(ctx context.Context) ([]domain.Airline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alid, name, iata, icao, callsign, country FROM airlines ORDER BY alid`)
	if err != nil {
		return nil, &Error{Op: "load", Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.Airline, 0, 1024)
	for rows.Next() {
		var (
			a                               domain.Airline
			name, iata, icao, call, country sql.NullString
		)
		if err := rows.Scan(&a.ID, &name, &iata, &icao, &call, &country); err != nil {
			return nil, &Error{Op: "load", Err: fmt.Errorf("scan: %w", err)}
		}
		a.Name = name.String
		a.IATA = optFromNull(iata)
		a.ICAO = optFromNull(icao)
		a.Callsign = optFromNull(call)
		a.Country = optFromNull(country)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "load", Err: err}
	}
	return out, nil
}

func (s *SQL) Insert(ctx context.Context, c domain.Candidate) (int64, error) {
	q := s.rebind(`INSERT INTO airlines (name, iata, icao, callsign, country) VALUES (?, ?, ?, ?, ?) RETURNING alid`)
	var id int64
	err := s.db.QueryRowContext(ctx, q,
		c.Name, nullFromOpt(c.IATA), nullFromOpt(c.ICAO), nullFromOpt(c.Callsign), nullFromOpt(c.Country),
	).Scan(&id)
	if err != nil {
		return 0, &Error{Op: "insert", Err: err}
	}
	return id, nil
}

// UpdateFields 只允许写 domain.Fields 中的列；列名来自白名单，值全部走参数绑定。
func (s *SQL) UpdateFields(ctx context.Context, id int64, fs domain.FieldSet) error {
	if len(fs) == 0 {
		return nil
	}
	for f := range fs {
		if !domain.IsField(string(f)) {
			return &Error{Op: "update", ID: id, Err: fmt.Errorf("%w：%q", ErrUnknownField, f)}
		}
	}

	keys := fs.Keys()
	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for _, f := range keys {
		sets = append(sets, string(f)+" = ?")
		args = append(args, fs[f])
	}
	args = append(args, id)

	q := s.rebind(`UPDATE airlines SET ` + strings.Join(sets, ", ") + ` WHERE alid = ?`)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return &Error{Op: "update", ID: id, Err: err}
	}
	return nil
}

// Merge 在一个事务内迁移 flights 并删除重复记录。
func (s *SQL) Merge(ctx context.Context, keepID, dupeID int64) (retErr error) {
	if keepID == dupeID {
		return &Error{Op: "merge", ID: dupeID, Err: errors.New("不能与自身合并")}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "merge", ID: dupeID, Err: err}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE flights SET alid = ? WHERE alid = ?`), keepID, dupeID); err != nil {
		return &Error{Op: "merge", ID: dupeID, Err: fmt.Errorf("move flights: %w", err)}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM airlines WHERE alid = ?`), dupeID); err != nil {
		return &Error{Op: "merge", ID: dupeID, Err: fmt.Errorf("delete airline: %w", err)}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "merge", ID: dupeID, Err: err}
	}
	return nil
}

// rebind 把 ? 占位符改写为 postgres 的 $n。
func (s *SQL) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func optFromNull(ns sql.NullString) domain.Opt {
	if !ns.Valid {
		return domain.Opt{}
	}
	return domain.Some(ns.String)
}

func nullFromOpt(o domain.Opt) sql.NullString {
	return sql.NullString{String: o.Value, Valid: o.Valid}
}
