// Package export mirrors a json-array table version into a SQLite database.
package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/matsen/vstore/internal/filedb"
	_ "modernc.org/sqlite"
)

// Reserved column names present in every exported table.
const (
	RowColumn  = "_row"
	JSONColumn = "_json"
)

var (
	// ErrNotArray is returned when the version does not hold a json-array.
	ErrNotArray = errors.New("only json-array data can be exported")

	// ErrReservedTable is returned for SQLite table names the export needs itself.
	ErrReservedTable = errors.New("reserved SQLite table name")
)

// MetaTable records the source of every exported table.
const MetaTable = "_meta"

// Options configure an export.
type Options struct {
	Table    string // SQLite table name; defaults to the sanitized store table name
	Version  string // default: latest
	PageSize int    // records per transaction; default: the store's page size
}

// Result summarizes a finished export.
type Result struct {
	Table   string   `json:"table"`
	Version string   `json:"version,omitempty"`
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
	Path    string   `json:"path"`
}

// openDB opens a SQLite database.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	return db, nil
}

// Export copies every record of a version into table opts.Table of the
// SQLite database at dbPath, replacing an earlier export of the same table.
// Object fields become columns typed from their values; each row also
// carries the record's JSON. Records are streamed page by page, in two
// passes: one to infer columns and one to insert.
func Export(ctx context.Context, st *filedb.Store, dbPath string, opts Options) (*Result, error) {
	table := opts.Table
	if table == "" {
		table = st.Config().TableName
	}
	table = sanitizeIdent(table)
	if strings.EqualFold(table, MetaTable) || strings.HasPrefix(strings.ToLower(table), "sqlite_") {
		return nil, fmt.Errorf("%w: %s (use Options.Table)", ErrReservedTable, table)
	}

	cols := newColumnSet()
	err := st.ForEachPage(opts.Version, opts.PageSize, func(page []any) error {
		for _, rec := range page {
			if obj, ok := rec.(map[string]any); ok {
				cols.observe(obj)
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}

	meta, err := st.GetMetadata()
	if err != nil {
		return nil, err
	}
	if meta.DataType != filedb.DataTypeJSONArray {
		return nil, fmt.Errorf("%w: %s holds %s", ErrNotArray, st.TableDir(), meta.DataType)
	}

	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := createTables(ctx, db, table, cols); err != nil {
		return nil, err
	}

	insert := insertSQL(table, cols)
	rows := 0
	err = st.ForEachPage(meta.Version, opts.PageSize, func(page []any) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()

		for _, rec := range page {
			rows++
			args, err := rowArgs(rows, rec, cols)
			if err != nil {
				tx.Rollback()
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				tx.Rollback()
				return fmt.Errorf("inserting record %d: %w", rows, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("exporting records: %w", err)
	}

	if err := writeMeta(ctx, db, table, meta, rows, time.Now()); err != nil {
		return nil, err
	}

	return &Result{
		Table:   table,
		Version: meta.Version,
		Rows:    rows,
		Columns: append([]string{RowColumn, JSONColumn}, cols.names()...),
		Path:    dbPath,
	}, nil
}

// createTables drops and recreates the data table and ensures _meta exists.
func createTables(ctx context.Context, db *sql.DB, table string, cols *columnSet) error {
	defs := []string{
		quoteIdent(RowColumn) + " INTEGER PRIMARY KEY",
		quoteIdent(JSONColumn) + " TEXT",
	}
	for _, name := range cols.names() {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(name), cols.types[name].sqliteType()))
	}

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(table)),
		fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoteIdent(table), strings.Join(defs, ",\n  ")),
		`CREATE TABLE IF NOT EXISTS _meta (
  tbl TEXT NOT NULL,
  key TEXT NOT NULL,
  value TEXT,
  PRIMARY KEY (tbl, key)
)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}
	return nil
}

func insertSQL(table string, cols *columnSet) string {
	names := []string{quoteIdent(RowColumn), quoteIdent(JSONColumn)}
	for _, n := range cols.names() {
		names = append(names, quoteIdent(n))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(names, ", "), placeholders)
}

func rowArgs(row int, rec any, cols *columnSet) ([]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record %d: %w", row, err)
	}
	args := []any{row, string(raw)}
	fields := make(map[string]any)
	if obj, ok := rec.(map[string]any); ok {
		// Keys that sanitize to the same column: the first in sorted order wins.
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			name := sanitizeIdent(k)
			if _, taken := fields[name]; !taken {
				fields[name] = obj[k]
			}
		}
	}
	for _, name := range cols.names() {
		args = append(args, convertValue(fields[name], cols.types[name]))
	}
	return args, nil
}

// writeMeta records where the export came from.
func writeMeta(ctx context.Context, db *sql.DB, table string, meta *filedb.Metadata, rows int, at time.Time) error {
	entries := map[string]string{
		"version":     meta.Version,
		"data_type":   string(meta.DataType),
		"rows":        fmt.Sprint(rows),
		"exported_at": at.UTC().Format(time.RFC3339),
	}
	for k, v := range entries {
		_, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO _meta (tbl, key, value) VALUES (?, ?, ?)`, table, k, v)
		if err != nil {
			return fmt.Errorf("updating _meta: %w", err)
		}
	}
	return nil
}

// GetMeta reads the _meta entries recorded for table.
func GetMeta(dbPath, table string) (map[string]string, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT key, value FROM _meta WHERE tbl = ?`, table)
	if err != nil {
		return nil, fmt.Errorf("reading _meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v.String
	}
	return out, rows.Err()
}

// columnType is the inferred SQLite affinity of a field.
type columnType int

const (
	colNull columnType = iota
	colInteger
	colReal
	colText
	colJSON
)

func (c columnType) sqliteType() string {
	switch c {
	case colInteger:
		return "INTEGER"
	case colReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// merge widens c so it can also hold a value of type o.
func (c columnType) merge(o columnType) columnType {
	switch {
	case c == o || o == colNull:
		return c
	case c == colNull:
		return o
	case (c == colInteger && o == colReal) || (c == colReal && o == colInteger):
		return colReal
	case c == colJSON || o == colJSON:
		return colJSON
	default:
		return colText
	}
}

func typeOf(v any) columnType {
	switch x := v.(type) {
	case nil:
		return colNull
	case bool:
		return colInteger
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return colInteger
		}
		return colReal
	case string:
		return colText
	default:
		return colJSON
	}
}

// convertValue maps a decoded JSON value onto its column type. Values that
// do not fit the column are stored as their JSON text.
func convertValue(v any, ct columnType) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case bool:
		if ct == colInteger {
			if x {
				return 1
			}
			return 0
		}
	case float64:
		switch ct {
		case colInteger:
			return int64(x)
		case colReal:
			return x
		}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// columnSet tracks the object fields seen across all records.
type columnSet struct {
	types  map[string]columnType
	sorted []string
}

func newColumnSet() *columnSet {
	return &columnSet{types: make(map[string]columnType)}
}

func (c *columnSet) observe(obj map[string]any) {
	for k, v := range obj {
		name := sanitizeIdent(k)
		if name == RowColumn || name == JSONColumn {
			continue
		}
		prev, seen := c.types[name]
		if !seen {
			c.sorted = nil
		}
		c.types[name] = prev.merge(typeOf(v))
	}
}

func (c *columnSet) names() []string {
	if c.sorted == nil {
		c.sorted = make([]string, 0, len(c.types))
		for n := range c.types {
			c.sorted = append(c.sorted, n)
		}
		sort.Strings(c.sorted)
	}
	return c.sorted
}

var identUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// sanitizeIdent turns a table or field name into a plain SQL identifier.
func sanitizeIdent(s string) string {
	s = identUnsafe.ReplaceAllString(s, "_")
	if s == "" {
		return "_"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
