package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/matsen/vstore/internal/filedb"
	"github.com/spf13/cobra"
)

var (
	writeFile            string
	writeStdin           bool
	writeText            bool
	writeJSONL           bool
	writeVersion         string
	writeForceNewVersion bool
)

func init() {
	rootCmd.AddCommand(writeCmd)
	writeCmd.Flags().StringVarP(&writeFile, "file", "f", "", "Read data from a file")
	writeCmd.Flags().BoolVar(&writeStdin, "stdin", false, "Read data from stdin")
	writeCmd.Flags().BoolVar(&writeText, "text", false, "Store the input as plain text instead of JSON")
	writeCmd.Flags().BoolVar(&writeJSONL, "jsonl", false, "Input is JSON Lines; each line becomes one record")
	writeCmd.Flags().StringVar(&writeVersion, "version", "", "Append to this version, or create it if it is newer than all others")
	writeCmd.Flags().BoolVar(&writeForceNewVersion, "force-new-version", false, "Always create a new version")
}

var writeCmd = &cobra.Command{
	Use:   "write <table> [data]",
	Short: "Write data to a table",
	Long: `Write data to a table.

JSON arrays are appended to the target version, filling its last chunk file
before new ones are created. JSON objects, XML and text replace the data of
the target version. Without --version or --force-new-version, versioned
tables write to their latest version, creating the first one if needed.

Examples:
  # Inline JSON
  vstore write users '[{"id":1},{"id":2}]'

  # From a file into a fresh version
  vstore write users --file users.json --force-new-version

  # JSON Lines from stdin
  cat events.jsonl | vstore write events --stdin --jsonl`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWrite,
}

func runWrite(cmd *cobra.Command, args []string) error {
	table := args[0]

	var raw []byte
	var err error
	switch {
	case writeStdin:
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			exitWithError(ExitError, "reading from stdin: %v", err)
		}
	case writeFile != "":
		raw, err = os.ReadFile(writeFile)
		if err != nil {
			exitWithError(ExitError, "reading file: %v", err)
		}
	case len(args) == 2:
		raw = []byte(args[1])
	default:
		exitWithError(ExitError, "no input provided: use inline data, --file, or --stdin")
	}

	data, err := parseInput(raw, writeText, writeJSONL)
	if err != nil {
		exitWithError(ExitDataError, "%v", err)
	}

	st := mustOpenStore(table)
	meta, err := st.Write(data, filedb.WriteOptions{
		Version:         writeVersion,
		ForceNewVersion: writeForceNewVersion,
	})
	if meta == nil {
		exitOnError(err, "writing %s", table)
	}
	outputWriteResult(table, meta, err)
	return nil
}

// outputWriteResult reports a finished write. A prune error does not fail
// the command.
func outputWriteResult(table string, meta *filedb.Metadata, pruneErr error) {
	result := WriteResponse{
		Table:        table,
		Version:      meta.Version,
		DataType:     string(meta.DataType),
		Files:        len(meta.Files),
		TotalRecords: meta.TotalRecords,
	}
	if pruneErr != nil {
		result.PruneError = pruneErr.Error()
		logger.Warnw("Old versions were not all pruned", "table", table, "error", pruneErr)
	}

	if humanOutput {
		where := table
		if meta.Version != "" {
			where = fmt.Sprintf("%s@%s", table, meta.Version)
		}
		outputHuman("Wrote %s: %d records in %d files (%s)\n", where, meta.TotalRecords, len(meta.Files), meta.DataType)
		if pruneErr != nil {
			outputHuman("warning: %v\n", pruneErr)
		}
		return
	}
	outputJSON(result)
}

// parseInput turns raw command input into a value for Store.Write: a string
// for text and XML, otherwise the decoded JSON.
func parseInput(raw []byte, asText, jsonl bool) (any, error) {
	if asText {
		return string(raw), nil
	}
	if jsonl {
		return parseJSONL(raw)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if trimmed[0] == '<' {
		return string(raw), nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON input (use --text to store it as text)")
	}
	return json.RawMessage(trimmed), nil
}

func parseJSONL(raw []byte) ([]any, error) {
	records := []any{}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(text, &v); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", line, err)
		}
		records = append(records, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading JSON Lines: %w", err)
	}
	return records, nil
}
