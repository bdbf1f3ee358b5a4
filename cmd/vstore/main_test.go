package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/matsen/vstore/internal/config"
	"github.com/matsen/vstore/internal/export"
	"github.com/matsen/vstore/internal/fetch"
	"github.com/matsen/vstore/internal/filedb"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		text    bool
		jsonl   bool
		want    string // %T of the result
		wantErr bool
	}{
		{"json array", `[1,2,3]`, false, false, "json.RawMessage", false},
		{"json object", ` {"a":1} `, false, false, "json.RawMessage", false},
		{"xml", `<root/>`, false, false, "string", false},
		{"text flag", `hello`, true, false, "string", false},
		{"invalid json", `hello`, false, false, "", true},
		{"empty", "  ", false, false, "", true},
		{"jsonl", "{\"a\":1}\n\n{\"a\":2}\n", false, true, "[]interface {}", false},
		{"bad jsonl", "{\"a\":1}\nnope\n", false, true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInput([]byte(tt.raw), tt.text, tt.jsonl)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseInput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if typ := fmt.Sprintf("%T", got); typ != tt.want {
				t.Errorf("parseInput() type = %s, want %s", typ, tt.want)
			}
		})
	}
}

func TestParseJSONL(t *testing.T) {
	records, err := parseJSONL([]byte("{\"id\":1}\n{\"id\":2}\n{\"id\":3}"))
	if err != nil {
		t.Fatalf("parseJSONL() error = %v", err)
	}
	if len(records) != 3 {
		t.Errorf("len(records) = %d, want 3", len(records))
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"configuration", fmt.Errorf("open: %w", filedb.ErrConfiguration), ExitConfigError},
		{"unsupported", filedb.ErrUnsupportedOperation, ExitConfigError},
		{"base path", config.ErrBasePathNotConfigured, ExitConfigError},
		{"not found", filedb.ErrNotFound, ExitNotFound},
		{"space", &filedb.SpaceError{Path: "/", Free: 1, Threshold: 2}, ExitNoSpace},
		{"mismatch", &filedb.MismatchError{Existing: filedb.DataTypeJSONArray, Incoming: filedb.DataTypeText}, ExitDataError},
		{"not array", export.ErrNotArray, ExitDataError},
		{"reserved table", export.ErrReservedTable, ExitConfigError},
		{"fetch", fmt.Errorf("%w: boom", fetch.ErrNetworkError), ExitFetchError},
		{"other", errors.New("boom"), ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestSetConfigValue(t *testing.T) {
	cfg := &config.GlobalConfig{}
	if err := setConfigValue(cfg, normalizeKey("PAGE_SIZE"), "250"); err != nil {
		t.Fatalf("setConfigValue() error = %v", err)
	}
	if cfg.PageSize != 250 {
		t.Errorf("PageSize = %d, want 250", cfg.PageSize)
	}
	if err := setConfigValue(cfg, "max-versions", "-1"); err != nil || cfg.MaxVersions != -1 {
		t.Errorf("max-versions: err = %v, value = %d", err, cfg.MaxVersions)
	}
	if err := setConfigValue(cfg, "mode", "sideways"); err == nil {
		t.Error("expected invalid mode error")
	}
	if err := setConfigValue(cfg, "page-size", "lots"); err == nil {
		t.Error("expected invalid integer error")
	}
	if err := setConfigValue(cfg, "colour", "blue"); err == nil {
		t.Error("expected unknown key error")
	}

	v, err := getConfigValue(cfg, "page-size")
	if err != nil || v != "250" {
		t.Errorf("getConfigValue(page-size) = %q, %v", v, err)
	}
}

func TestReadPageN(t *testing.T) {
	st, err := filedb.Open(filedb.Config{
		BasePath:           t.TempDir(),
		TableName:          "nums",
		PageSize:           4,
		FreeSpaceThreshold: -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	records := make([]any, 10)
	for i := range records {
		records[i] = i
	}
	if _, err := st.Write(records, filedb.WriteOptions{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	tests := []struct {
		page int
		want []float64
	}{
		{1, []float64{0, 1, 2}},
		{3, []float64{6, 7, 8}},
		{4, []float64{9}},
		{5, []float64{}},
	}
	for _, tt := range tests {
		data, err := readPageN(st, "", 3, tt.page)
		if err != nil {
			t.Fatalf("readPageN(%d) error = %v", tt.page, err)
		}
		page := data.([]any)
		if len(page) != len(tt.want) {
			t.Fatalf("page %d: got %v, want %v", tt.page, page, tt.want)
		}
		for i, v := range page {
			if v.(float64) != tt.want[i] {
				t.Errorf("page %d[%d] = %v, want %v", tt.page, i, v, tt.want[i])
			}
		}
	}
}
