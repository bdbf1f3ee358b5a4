package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matsen/vstore/internal/filedb"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    filedb.Mode
		wantErr bool
	}{
		{"", filedb.ModeAuto, false},
		{"auto", filedb.ModeAuto, false},
		{"Versioned", filedb.ModeVersioned, false},
		{"flat", filedb.ModeFlat, false},
		{"sideways", filedb.ModeAuto, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateBasePath(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "file")
	os.WriteFile(file, []byte("x"), 0644)

	if err := ValidateBasePath(""); !errors.Is(err, ErrBasePathNotConfigured) {
		t.Errorf("empty path: got %v", err)
	}
	if err := ValidateBasePath(tmpDir); err != nil {
		t.Errorf("existing dir: got %v", err)
	}
	if err := ValidateBasePath(filepath.Join(tmpDir, "later")); err != nil {
		t.Errorf("missing dir: got %v", err)
	}
	if err := ValidateBasePath(file); err == nil {
		t.Error("expected error for a regular file")
	}
}

func TestStoreConfig(t *testing.T) {
	base := t.TempDir()
	cfg := &GlobalConfig{
		BasePath:    base,
		Namespace:   "ns",
		PageSize:    100,
		MaxVersions: 2,
		Mode:        "flat",
	}
	sc, err := cfg.StoreConfig("users", nil)
	if err != nil {
		t.Fatalf("StoreConfig() error = %v", err)
	}
	if sc.BasePath != base || sc.Namespace != "ns" || sc.TableName != "users" {
		t.Errorf("unexpected store config: %+v", sc)
	}
	if sc.PageSize != 100 || sc.MaxVersions != 2 || sc.Mode != filedb.ModeFlat {
		t.Errorf("unexpected store config: %+v", sc)
	}

	if _, err := (&GlobalConfig{}).StoreConfig("users", nil); !errors.Is(err, ErrBasePathNotConfigured) {
		t.Errorf("expected ErrBasePathNotConfigured, got %v", err)
	}
	if _, err := (&GlobalConfig{BasePath: base, Mode: "bad"}).StoreConfig("users", nil); err == nil {
		t.Error("expected invalid mode error")
	}
}
