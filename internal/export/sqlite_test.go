package export

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/matsen/vstore/internal/filedb"
)

func setupStore(t *testing.T) *filedb.Store {
	t.Helper()
	st, err := filedb.Open(filedb.Config{
		BasePath:           t.TempDir(),
		Namespace:          "test",
		TableName:          "people/active",
		PageSize:           2,
		FreeSpaceThreshold: -1,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return st
}

func TestExport(t *testing.T) {
	st := setupStore(t)
	records := []any{
		map[string]any{"id": 1, "name": "Ada", "score": 9.5, "active": true},
		map[string]any{"id": 2, "name": "Grace", "score": 7, "tags": []any{"navy"}},
		map[string]any{"id": 3, "name": "Edsger", "first-name": "E"},
	}
	if _, err := st.Write(records, filedb.WriteOptions{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "mirror.db")
	res, err := Export(context.Background(), st, dbPath, Options{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Table != "people_active" {
		t.Errorf("Table = %q, want people_active", res.Table)
	}
	if res.Rows != 3 {
		t.Errorf("Rows = %d, want 3", res.Rows)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM people_active`).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	var name string
	var score float64
	if err := db.QueryRow(`SELECT name, score FROM people_active WHERE id = 1`).Scan(&name, &score); err != nil {
		t.Fatalf("row query: %v", err)
	}
	if name != "Ada" || score != 9.5 {
		t.Errorf("got (%q, %v), want (Ada, 9.5)", name, score)
	}

	var first sql.NullString
	if err := db.QueryRow(`SELECT first_name FROM people_active WHERE _row = 3`).Scan(&first); err != nil {
		t.Fatalf("sanitized column query: %v", err)
	}
	if first.String != "E" {
		t.Errorf("first_name = %q, want E", first.String)
	}

	var tags string
	if err := db.QueryRow(`SELECT tags FROM people_active WHERE id = 2`).Scan(&tags); err != nil {
		t.Fatalf("tags query: %v", err)
	}
	if tags != `["navy"]` {
		t.Errorf("tags = %q", tags)
	}

	meta, err := GetMeta(dbPath, "people_active")
	if err != nil {
		t.Fatalf("GetMeta() error = %v", err)
	}
	if meta["version"] != res.Version || meta["rows"] != "3" || meta["exported_at"] == "" {
		t.Errorf("unexpected _meta: %v", meta)
	}
}

func TestExport_ReplacesPreviousExport(t *testing.T) {
	st := setupStore(t)
	st.Write([]any{map[string]any{"a": 1}}, filedb.WriteOptions{})

	dbPath := filepath.Join(t.TempDir(), "mirror.db")
	if _, err := Export(context.Background(), st, dbPath, Options{Table: "t"}); err != nil {
		t.Fatalf("first Export() error = %v", err)
	}

	st.Write([]any{map[string]any{"a": 2}, map[string]any{"a": 3}}, filedb.WriteOptions{})
	res, err := Export(context.Background(), st, dbPath, Options{Table: "t"})
	if err != nil {
		t.Fatalf("second Export() error = %v", err)
	}
	if res.Rows != 3 {
		t.Errorf("Rows = %d, want 3", res.Rows)
	}
}

func TestExport_NotArray(t *testing.T) {
	st := setupStore(t)
	if _, err := st.Write(map[string]any{"k": "v"}, filedb.WriteOptions{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_, err := Export(context.Background(), st, filepath.Join(t.TempDir(), "x.db"), Options{})
	if !errors.Is(err, ErrNotArray) {
		t.Fatalf("expected ErrNotArray, got %v", err)
	}
}

func TestExport_CollidingKeys(t *testing.T) {
	st := setupStore(t)
	records := []any{
		map[string]any{"first-name": "dash", "first name": "space", "first_name": "underscore"},
	}
	if _, err := st.Write(records, filedb.WriteOptions{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// "first name" sorts before "first-name" and "first_name".
	for i := 0; i < 5; i++ {
		dbPath := filepath.Join(t.TempDir(), "mirror.db")
		if _, err := Export(context.Background(), st, dbPath, Options{Table: "people"}); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			t.Fatal(err)
		}
		var got string
		err = db.QueryRow(`SELECT first_name FROM people`).Scan(&got)
		db.Close()
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if got != "space" {
			t.Fatalf("run %d: first_name = %q, want space", i, got)
		}
	}
}

func TestExport_ReservedTableName(t *testing.T) {
	st := setupStore(t)
	st.Write([]any{map[string]any{"a": 1}}, filedb.WriteOptions{})

	for _, name := range []string{"_meta", "_META", "sqlite_master"} {
		_, err := Export(context.Background(), st, filepath.Join(t.TempDir(), "x.db"), Options{Table: name})
		if !errors.Is(err, ErrReservedTable) {
			t.Errorf("Export(table %q) error = %v, want ErrReservedTable", name, err)
		}
	}
}

func TestColumnTypeMerge(t *testing.T) {
	tests := []struct {
		a, b, want columnType
	}{
		{colNull, colInteger, colInteger},
		{colInteger, colReal, colReal},
		{colInteger, colText, colText},
		{colText, colJSON, colJSON},
		{colReal, colNull, colReal},
	}
	for _, tt := range tests {
		if got := tt.a.merge(tt.b); got != tt.want {
			t.Errorf("%v.merge(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSanitizeIdent(t *testing.T) {
	tests := map[string]string{
		"users":         "users",
		"people/active": "people_active",
		"first name":    "first_name",
		"1st":           "_1st",
		"":              "_",
	}
	for in, want := range tests {
		if got := sanitizeIdent(in); got != want {
			t.Errorf("sanitizeIdent(%q) = %q, want %q", in, got, want)
		}
	}
}
