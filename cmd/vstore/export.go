package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/matsen/vstore/internal/export"
	"github.com/spf13/cobra"
)

var (
	exportTableName string
	exportVersion   string
	exportPageSize  int
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportTableName, "sql-table", "", "SQLite table name (default: derived from the table)")
	exportCmd.Flags().StringVar(&exportVersion, "version", "", "Version to export (default: latest)")
	exportCmd.Flags().IntVar(&exportPageSize, "page-size", 0, "Records per transaction (default: the table page size)")
}

var exportCmd = &cobra.Command{
	Use:   "export <table> <db-path>",
	Short: "Mirror a JSON array table into SQLite",
	Long: `Copy every record of a json-array table version into a SQLite table for
ad-hoc queries. Top-level object fields become columns and each row keeps
the full record in the _json column. Re-exporting replaces the SQLite table.
The _meta table records the exported version and time.

Example:
  vstore export users users.db
  sqlite3 users.db 'SELECT name FROM users WHERE age > 30'`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	table, dbPath := args[0], args[1]
	st := mustOpenStore(table)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := export.Export(ctx, st, dbPath, export.Options{
		Table:    exportTableName,
		Version:  exportVersion,
		PageSize: exportPageSize,
	})
	exitOnError(err, "exporting %s", table)

	if humanOutput {
		outputHuman("Exported %d rows from %s to %s (table %s)\n", res.Rows, table, res.Path, res.Table)
		return nil
	}
	outputJSON(res)
	return nil
}
