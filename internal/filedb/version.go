package filedb

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"
)

// VersionLayout is the time layout of version identifiers. All versions are
// rendered in this single UTC form, which makes lexicographic order equal to
// chronological order.
const VersionLayout = "2006-01-02T15:04:05Z"

var versionPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)

// IsVersionID reports whether name is a well-formed version identifier that
// also parses to a real instant (2025-02-30T... does not).
func IsVersionID(name string) bool {
	if !versionPattern.MatchString(name) {
		return false
	}
	_, err := time.Parse(VersionLayout, name)
	return err == nil
}

// listVersions returns the version directories of a table in ascending order.
// A missing table directory has no versions.
func listVersions(tableDir string) ([]string, error) {
	entries, err := os.ReadDir(tableDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading table directory: %w", err)
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() && IsVersionID(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// latestVersion returns the last of the sorted versions, or "" if none.
func latestVersion(versions []string) string {
	if len(versions) == 0 {
		return ""
	}
	return versions[len(versions)-1]
}

// newVersionID returns the identifier for a version created at now. When the
// clock has not moved past the latest existing version, the result is that
// version plus one second.
func newVersionID(existing []string, now time.Time) string {
	t := now.UTC().Truncate(time.Second)
	if latest := latestVersion(existing); latest != "" {
		if lt, err := time.Parse(VersionLayout, latest); err == nil && !t.After(lt) {
			t = lt.Add(time.Second)
		}
	}
	return t.Format(VersionLayout)
}

// pruneVersions removes the oldest versions so that at most maxVersions remain.
// Every removal is attempted; failures are joined into one ErrPrune error.
func pruneVersions(tableDir string, versions []string, maxVersions int, remove func(string) error) ([]string, error) {
	if maxVersions <= 0 || len(versions) <= maxVersions {
		return nil, nil
	}

	excess := versions[:len(versions)-maxVersions]
	var removed []string
	var errs []error
	for _, v := range excess {
		if err := remove(VersionPath(tableDir, v)); err != nil {
			errs = append(errs, fmt.Errorf("removing version %s: %w", v, err))
			continue
		}
		removed = append(removed, v)
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: %w", ErrPrune, errors.Join(errs...))
	}
	return removed, nil
}
