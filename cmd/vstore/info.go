package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/matsen/vstore/internal/filedb"
	"github.com/spf13/cobra"
)

var (
	infoVersion   string
	verifyVersion string
)

// DetectResponse is the response for detect.
type DetectResponse struct {
	Table       string `json:"table"`
	Path        string `json:"path"`
	Versioned   bool   `json:"versioned"`
	HasMetadata bool   `json:"has_metadata"`
	DataType    string `json:"data_type,omitempty"`
	HasData     bool   `json:"has_data"`
}

// VerifyResponse is the response for verify.
type VerifyResponse struct {
	Table    string           `json:"table"`
	Version  string           `json:"version,omitempty"`
	OK       bool             `json:"ok"`
	Problems []filedb.Problem `json:"problems"`
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(verifyCmd)
	infoCmd.Flags().StringVar(&infoVersion, "version", "", "Version to describe (default: latest)")
	verifyCmd.Flags().StringVar(&verifyVersion, "version", "", "Version to verify (default: latest)")
}

var infoCmd = &cobra.Command{
	Use:     "info <table>",
	Aliases: []string{"metadata"},
	Short:   "Show the metadata of a table version",
	Long: `Show the metadata of a table version: data type, chunk files, record
counts and synopsis. Metadata is rebuilt from the chunk files when
metadata.json is missing or out of date.

Example:
  vstore info users --version 2024-05-01T10:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	table := args[0]
	st := mustOpenStore(table)

	meta, err := st.Prepare(filedb.PrepareOptions{Intent: filedb.ForRead, Version: infoVersion})
	exitOnError(err, "loading metadata of %s", table)

	if !humanOutput {
		outputJSON(meta)
		return nil
	}

	fmt.Printf("Table: %s\n", table)
	fmt.Printf("Path:  %s\n", st.TableDir())
	if meta.Version != "" {
		fmt.Printf("Version: %s\n", meta.Version)
	}
	fmt.Printf("Data type: %s\n", meta.DataType)
	fmt.Printf("Records: %d\n", meta.TotalRecords)
	if !meta.CreatedAt.IsZero() {
		fmt.Printf("Created: %s\n", meta.CreatedAt.Format(filedb.VersionLayout))
		fmt.Printf("Updated: %s\n", meta.UpdatedAt.Format(filedb.VersionLayout))
	}
	fmt.Printf("\nFiles:\n")
	dir := st.TableDir()
	if meta.Version != "" {
		dir = filedb.VersionPath(dir, meta.Version)
	}
	for _, f := range meta.Files {
		size := ""
		if fi, err := os.Stat(filepath.Join(dir, f.Filename)); err == nil {
			size = formatBytes(fi.Size())
		}
		fmt.Printf("  %-12s %8d records  %s\n", f.Filename, f.RecordsCount, size)
	}
	return nil
}

var detectCmd = &cobra.Command{
	Use:   "detect <table>",
	Short: "Detect the on-disk layout of a table",
	Long: `Report whether a table is versioned, whether it has metadata.json, and
which data type its chunk files hold. Works on tables written by older
layouts that have no metadata.

Example:
  vstore detect legacy/events`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	table := args[0]
	st := mustOpenStore(table)

	format, err := st.DetectDataFormat()
	exitOnError(err, "detecting layout of %s", table)
	hasData, err := st.HasData()
	exitOnError(err, "inspecting %s", table)

	result := DetectResponse{
		Table:       table,
		Path:        st.TableDir(),
		Versioned:   format.Versioned,
		HasMetadata: format.HasMetadata,
		DataType:    string(format.DataType),
		HasData:     hasData,
	}

	if humanOutput {
		layout := "flat"
		if format.Versioned {
			layout = "versioned"
		}
		fmt.Printf("Table:     %s\n", table)
		fmt.Printf("Layout:    %s\n", layout)
		fmt.Printf("Metadata:  %t\n", format.HasMetadata)
		fmt.Printf("Data type: %s\n", format.DataType)
		fmt.Printf("Has data:  %t\n", hasData)
		return nil
	}
	outputJSON(result)
	return nil
}

var verifyCmd = &cobra.Command{
	Use:   "verify <table>",
	Short: "Check chunk files against metadata.json",
	Long: `Check that every chunk file listed in metadata.json exists, has the
recorded checksum and record count, and that no unlisted chunk files exist.
Exits with a non-zero status when problems are found.

Example:
  vstore verify users`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	table := args[0]
	st := mustOpenStore(table)

	version := verifyVersion
	versioned, err := st.Versioned()
	exitOnError(err, "inspecting %s", table)
	if versioned && version == "" {
		version, err = st.GetLatestVersion()
		exitOnError(err, "listing versions of %s", table)
	}

	problems, err := st.Verify(version)
	exitOnError(err, "verifying %s", table)
	if problems == nil {
		problems = []filedb.Problem{}
	}

	if humanOutput {
		if len(problems) == 0 {
			outputHuman("%s: OK\n", table)
		}
		for _, p := range problems {
			outputHuman("%s: %s %s\n", p.Filename, p.Kind, p.Detail)
		}
	} else {
		outputJSON(VerifyResponse{Table: table, Version: version, OK: len(problems) == 0, Problems: problems})
	}

	if len(problems) > 0 {
		os.Exit(ExitVerifyFailed)
	}
	return nil
}
