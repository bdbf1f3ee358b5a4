package filedb

import (
	"fmt"
	"os"
	"path/filepath"
)

// Problem kinds reported by Verify.
const (
	ProblemMissing  = "missing"
	ProblemChecksum = "checksum"
	ProblemCount    = "count"
	ProblemExtra    = "extra"
)

// Problem is one inconsistency between metadata and the chunk files on disk.
type Problem struct {
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail,omitempty"`
}

// Verify compares the stored metadata of a version (flat tables: "") with
// the chunk files on disk. Files without a recorded checksum are only
// counted. It returns no problems for a consistent version.
func (s *Store) Verify(version string) ([]Problem, error) {
	if err := s.resolveMode(); err != nil {
		return nil, err
	}
	dir := s.tableDir
	if s.versioned {
		if version == "" {
			v, err := s.GetLatestVersion()
			if err != nil {
				return nil, err
			}
			version = v
		}
		if version == "" {
			return nil, fmt.Errorf("%w: %s has no versions", ErrNotFound, s.tableDir)
		}
		dir = VersionPath(s.tableDir, version)
	} else if version != "" {
		return nil, fmt.Errorf("%w: version %q given for a non-versioned table", ErrConfiguration, version)
	}

	meta, err := loadMetadata(dir)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s has no metadata to verify against", ErrNotFound, dir)
	}

	var problems []Problem
	listed := make(map[string]bool, len(meta.Files))
	for _, f := range meta.Files {
		listed[f.Filename] = true
		path := filepath.Join(dir, f.Filename)
		c, err := readChunk(path, meta.DataType)
		if err != nil {
			if os.IsNotExist(err) {
				problems = append(problems, Problem{Filename: f.Filename, Kind: ProblemMissing})
			} else {
				problems = append(problems, Problem{Filename: f.Filename, Kind: ProblemChecksum, Detail: err.Error()})
			}
			continue
		}
		if f.Checksum != "" && c.checksum != f.Checksum {
			problems = append(problems, Problem{Filename: f.Filename, Kind: ProblemChecksum,
				Detail: fmt.Sprintf("recorded %s, found %s", f.Checksum, c.checksum)})
		}
		if c.count() != f.RecordsCount {
			problems = append(problems, Problem{Filename: f.Filename, Kind: ProblemCount,
				Detail: fmt.Sprintf("recorded %d, found %d", f.RecordsCount, c.count())})
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if _, _, ok := parseChunkFilename(e.Name()); ok && !e.IsDir() && !listed[e.Name()] {
			problems = append(problems, Problem{Filename: e.Name(), Kind: ProblemExtra})
		}
	}
	return problems, nil
}
