// Package migrate applies the ledger schema and seed files to Postgres and
// keeps a checksum of every applied file so edited history is detected.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTable = "ledger_schema"

// Kind separates schema migrations from seed data in the bookkeeping table.
type Kind string

const (
	KindMigration Kind = "migration"
	KindSeed      Kind = "seed"
)

var (
	ErrNothingApplied = errors.New("no migrations applied")
	// ErrModified means a file changed after it was applied.
	ErrModified = errors.New("applied file was modified")
)

// Entry describes one known file.
type Entry struct {
	Kind      Kind       `json:"kind"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Modified  bool       `json:"modified,omitempty"`
}

// Manager runs *.up.sql / *.down.sql migrations and *.sql seeds.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	table      string
	log        *zap.Logger
	now        func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the bookkeeping table name.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager constructs a Manager. seeds may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: migrations,
		seeds:      seeds,
		table:      defaultTable,
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending migration, each in its own transaction together
// with its bookkeeping row.
func (m *Manager) Up(ctx context.Context) error {
	return m.apply(ctx, KindMigration, m.migrations)
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.apply(ctx, KindSeed, m.seeds)
}

func (m *Manager) apply(ctx context.Context, kind Kind, fsys fs.FS) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	files, err := load(fsys, kind)
	if err != nil {
		return err
	}
	done, _, err := m.applied(ctx, kind)
	if err != nil {
		return err
	}
	for _, f := range files {
		if rec, ok := done[f.name]; ok {
			if rec.checksum != f.checksum {
				return fmt.Errorf("%s %s: %w", kind, f.name, ErrModified)
			}
			continue
		}
		err := m.run(ctx, f.body, func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf(`insert into %s (kind, name, checksum, applied_at) values ($1, $2, $3, $4)`, m.table),
				string(kind), f.name, f.checksum, m.now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, f.name, err)
		}
		m.log.Info("applied", zap.String("kind", string(kind)), zap.String("name", f.name))
	}
	return nil
}

// Down reverts the most recently applied migration using its .down.sql
// sibling.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	_, order, err := m.applied(ctx, KindMigration)
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return ErrNothingApplied
	}
	last := order[len(order)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	body, err := fs.ReadFile(m.migrations, down)
	if err != nil {
		return fmt.Errorf("missing down migration for %s: %w", last, err)
	}
	err = m.run(ctx, string(body), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf(`delete from %s where kind = $1 and name = $2`, m.table),
			string(KindMigration), last)
		return err
	})
	if err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	m.log.Info("rolled back", zap.String("name", last))
	return nil
}

// Status lists migrations then seeds, in file order. Applied rows whose file
// no longer exists are reported last as modified.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	var out []Entry
	for _, src := range []struct {
		kind Kind
		fsys fs.FS
	}{{KindMigration, m.migrations}, {KindSeed, m.seeds}} {
		files, err := load(src.fsys, src.kind)
		if err != nil {
			return nil, err
		}
		done, order, err := m.applied(ctx, src.kind)
		if err != nil {
			return nil, err
		}
		known := make(map[string]bool, len(files))
		for _, f := range files {
			known[f.name] = true
			e := Entry{Kind: src.kind, Name: f.name}
			if rec, ok := done[f.name]; ok {
				at := rec.at
				e.Applied, e.AppliedAt = true, &at
				e.Modified = rec.checksum != f.checksum
			}
			out = append(out, e)
		}
		for _, name := range order {
			if known[name] {
				continue
			}
			at := done[name].at
			out = append(out, Entry{Kind: src.kind, Name: name, Applied: true, AppliedAt: &at, Modified: true})
		}
	}
	return out, nil
}

// Pending lists migrations not applied yet, in order.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	entries, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Kind == KindMigration && !e.Applied {
			out = append(out, e.Name)
		}
	}
	return out, nil
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			kind       text not null,
			name       text not null,
			checksum   text not null,
			applied_at timestamptz not null default now(),
			primary key (kind, name)
		)`, m.table))
	return err
}

type record struct {
	checksum string
	at       time.Time
}

// applied returns the rows of kind keyed by name plus the names in apply
// order.
func (m *Manager) applied(ctx context.Context, kind Kind) (map[string]record, []string, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name, checksum, applied_at from %s where kind = $1 order by applied_at, name`, m.table),
		string(kind))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	done := make(map[string]record)
	var order []string
	for rows.Next() {
		var (
			name string
			rec  record
		)
		if err := rows.Scan(&name, &rec.checksum, &rec.at); err != nil {
			return nil, nil, err
		}
		done[name] = rec
		order = append(order, name)
	}
	return done, order, rows.Err()
}

// run executes body statement by statement and then record, all in one
// transaction.
func (m *Manager) run(ctx context.Context, body string, record func(context.Context, *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

type file struct {
	name     string
	body     string
	checksum string
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// load reads the files of kind from fsys sorted by name. Names must be
// unique across directories.
func load(fsys fs.FS, kind Kind) ([]file, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []file
	seen := make(map[string]string)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !matches(d.Name(), kind) {
			return nil
		}
		name := path.Base(p)
		if prev, dup := seen[name]; dup {
			return fmt.Errorf("duplicate %s %s (%s, %s)", kind, name, prev, p)
		}
		seen[name] = p
		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		files = append(files, file{name: name, body: string(b), checksum: checksum(b)})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func matches(name string, kind Kind) bool {
	if kind == KindMigration {
		return strings.HasSuffix(name, upSuffix)
	}
	return strings.HasSuffix(name, ".sql") && !strings.HasSuffix(name, downSuffix)
}

// splitStatements splits on semicolons outside quotes, -- comments and
// $tag$ bodies. Empty statements are dropped.
func splitStatements(sql string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'':
			j := i + 1
			for j < len(sql) {
				if sql[j] == '\'' {
					if j+1 < len(sql) && sql[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			cur.WriteString(sql[i:min(j+1, len(sql))])
			i = j
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			j := strings.IndexByte(sql[i:], '\n')
			if j < 0 {
				i = len(sql)
			} else {
				i += j
				cur.WriteByte('\n')
			}
		case c == '$':
			tag, ok := dollarTag(sql[i:])
			if !ok {
				cur.WriteByte(c)
				continue
			}
			end := strings.Index(sql[i+len(tag):], tag)
			if end < 0 {
				cur.WriteString(sql[i:])
				i = len(sql)
				continue
			}
			stop := i + len(tag) + end + len(tag)
			cur.WriteString(sql[i:stop])
			i = stop - 1
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return stmts
}

// dollarTag returns the opening $tag$ at the start of s.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		switch c := s[j]; {
		case c == '$':
			return s[:j+1], true
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > 1 && c >= '0' && c <= '9':
		default:
			return "", false
		}
	}
	return "", false
}
