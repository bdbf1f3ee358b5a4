package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/matsen/vstore/internal/fetch"
	"github.com/matsen/vstore/internal/filedb"
	"github.com/spf13/cobra"
)

var (
	fetchVersion         string
	fetchForceNewVersion bool
	fetchToken           string
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVar(&fetchVersion, "version", "", "Append to this version, or create it if it is newer than all others")
	fetchCmd.Flags().BoolVar(&fetchForceNewVersion, "force-new-version", false, "Always create a new version")
	fetchCmd.Flags().StringVar(&fetchToken, "token", "", "Bearer token (default $VSTORE_FETCH_TOKEN)")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <table> <url>",
	Short: "Download a payload and write it to a table",
	Long: `Download a JSON, XML or text payload over HTTP and write it to a table.

Requests are rate limited and retried with exponential backoff on network
errors, 429 and 5xx responses. Rate, retries and timeout come from the
fetch section of the config file.

Example:
  vstore fetch prices https://example.com/prices.json --force-new-version`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	table, url := args[0], args[1]
	cfg := mustLoadConfig()

	opts := []fetch.ClientOption{
		fetch.WithLogger(logger),
		fetch.WithRateLimit(cfg.Fetch.RateLimit),
		fetch.WithTimeout(time.Duration(cfg.Fetch.TimeoutSec) * time.Second),
	}
	if cfg.Fetch.MaxRetries > 0 {
		opts = append(opts, fetch.WithMaxRetries(cfg.Fetch.MaxRetries))
	}
	if fetchToken != "" {
		opts = append(opts, fetch.WithBearerToken(fetchToken))
	}
	client := fetch.NewClient(opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data, err := client.FetchPayload(ctx, url)
	exitOnError(err, "fetching %s", url)

	st := mustOpenStore(table)
	meta, err := st.Write(data, filedb.WriteOptions{
		Version:         fetchVersion,
		ForceNewVersion: fetchForceNewVersion,
	})
	if meta == nil {
		exitOnError(err, "writing %s", table)
	}
	logger.Infow("Fetched payload", "url", url, "table", table, "version", meta.Version)
	outputWriteResult(table, meta, err)
	return nil
}
