package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...any) {
	fmt.Printf(format, args...)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg, Code: code})
	}
	os.Exit(code)
}

// exitOnError exits with the code matching err when err is non-nil.
func exitOnError(err error, format string, args ...any) {
	if err == nil {
		return
	}
	exitWithError(exitCodeFor(err), "%s: %v", fmt.Sprintf(format, args...), err)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status  string `json:"status"`
	Table   string `json:"table,omitempty"`
	Version string `json:"version,omitempty"`
}

// WriteResponse is the response for write and fetch.
type WriteResponse struct {
	Table        string `json:"table"`
	Version      string `json:"version,omitempty"`
	DataType     string `json:"data_type"`
	Files        int    `json:"files"`
	TotalRecords int    `json:"total_records"`
	PruneError   string `json:"prune_error,omitempty"`
}

// VersionsResponse lists a table's versions.
type VersionsResponse struct {
	Table    string   `json:"table"`
	Versions []string `json:"versions"`
	Latest   string   `json:"latest,omitempty"`
}

// formatBytes formats a byte count as human-readable.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
