package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(deleteVersionCmd)
}

var versionsCmd = &cobra.Command{
	Use:   "versions <table>",
	Short: "List the versions of a table",
	Long: `List the versions of a versioned table, oldest first.

Example:
  vstore versions users`,
	Args: cobra.ExactArgs(1),
	RunE: runVersions,
}

func runVersions(cmd *cobra.Command, args []string) error {
	table := args[0]
	st := mustOpenStore(table)

	versions, err := st.GetVersions()
	exitOnError(err, "listing versions of %s", table)
	if versions == nil {
		versions = []string{}
	}

	result := VersionsResponse{Table: table, Versions: versions}
	if len(versions) > 0 {
		result.Latest = versions[len(versions)-1]
	}

	if humanOutput {
		if len(versions) == 0 {
			outputHuman("No versions in '%s'\n", table)
			return nil
		}
		for _, v := range versions {
			marker := ""
			if v == result.Latest {
				marker = " (latest)"
			}
			fmt.Printf("%s%s\n", v, marker)
		}
		return nil
	}
	outputJSON(result)
	return nil
}

var deleteVersionCmd = &cobra.Command{
	Use:   "delete-version <table> <version>",
	Short: "Delete one version of a table",
	Long: `Delete one version directory of a versioned table.

Example:
  vstore delete-version users 2024-05-01T10:00:00Z`,
	Args: cobra.ExactArgs(2),
	RunE: runDeleteVersion,
}

func runDeleteVersion(cmd *cobra.Command, args []string) error {
	table, version := args[0], args[1]
	st := mustOpenStore(table)

	exitOnError(st.DeleteVersion(version), "deleting %s@%s", table, version)

	if humanOutput {
		outputHuman("Deleted %s@%s\n", table, version)
		return nil
	}
	outputJSON(StatusResponse{Status: "deleted", Table: table, Version: version})
	return nil
}
