package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matsen/vstore/internal/filedb"
	"go.uber.org/zap"
)

// ErrBasePathNotConfigured is returned when no base path was given anywhere.
var ErrBasePathNotConfigured = errors.New("base_path not configured")

// ValidModes lists the accepted mode values.
var ValidModes = []string{"auto", "versioned", "flat"}

// ParseMode converts a mode name into a filedb.Mode. Empty means auto.
func ParseMode(mode string) (filedb.Mode, error) {
	switch strings.ToLower(mode) {
	case "", "auto":
		return filedb.ModeAuto, nil
	case "versioned":
		return filedb.ModeVersioned, nil
	case "flat":
		return filedb.ModeFlat, nil
	}
	return filedb.ModeAuto, fmt.Errorf("invalid mode: %s (valid: %v)", mode, ValidModes)
}

// ValidateBasePath checks that the base path is set and, if it exists, is a directory.
func ValidateBasePath(path string) error {
	if path == "" {
		return ErrBasePathNotConfigured
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // created on first write
		}
		return fmt.Errorf("checking base path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base path is not a directory: %s", path)
	}
	return nil
}

// StoreConfig builds the filedb configuration for one table.
func (c *GlobalConfig) StoreConfig(table string, logger *zap.SugaredLogger) (filedb.Config, error) {
	if err := ValidateBasePath(c.BasePath); err != nil {
		return filedb.Config{}, err
	}
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return filedb.Config{}, err
	}
	if c.PageSize < 0 {
		return filedb.Config{}, fmt.Errorf("invalid page_size: %d", c.PageSize)
	}

	return filedb.Config{
		BasePath:           c.BasePath,
		Namespace:          c.Namespace,
		TableName:          table,
		PageSize:           c.PageSize,
		MaxVersions:        c.MaxVersions,
		DisableMetadata:    c.DisableMetadata,
		Mode:               mode,
		FreeSpaceThreshold: c.FreeSpaceThreshold,
		Logger:             logger,
	}, nil
}
