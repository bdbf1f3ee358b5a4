package filedb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// IncrementalBuildMinFiles is the number of chunk files above which metadata
// for a directory without metadata.json is rebuilt from its boundary files only.
const IncrementalBuildMinFiles = 10

// File describes one chunk file of a version.
type File struct {
	Number       int            `json:"number"`
	Filename     string         `json:"filename"`
	RecordsCount int            `json:"recordsCount"`
	Checksum     string         `json:"checksum,omitempty"` // empty when extrapolated
	Synopsis     map[string]any `json:"synopsis,omitempty"`
}

// Metadata is the authoritative record of a version's (or flat table's) files.
type Metadata struct {
	Version      string         `json:"version,omitempty"` // empty for non-versioned tables
	DataType     DataType       `json:"dataType,omitempty"`
	Files        []File         `json:"files"`
	TotalRecords int            `json:"totalRecords"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	Synopsis     map[string]any `json:"synopsis"`
}

// FileSynopsisFunc computes synopsis fields for one chunk file from the
// records it holds. Only the Synopsis of the returned File is kept.
type FileSynopsisFunc func(file File, records []any) File

// VersionSynopsisFunc computes the synopsis of a version from its draft
// metadata. Only the Synopsis of the returned Metadata is kept.
type VersionSynopsisFunc func(meta Metadata) Metadata

// Validate checks the internal consistency of the metadata.
func (m *Metadata) Validate() error {
	if m.DataType != "" && !m.DataType.Valid() {
		return fmt.Errorf("unknown data type %q", m.DataType)
	}
	sum := 0
	for i, f := range m.Files {
		if f.Number != i+1 {
			return fmt.Errorf("file %d has number %d", i+1, f.Number)
		}
		if f.RecordsCount < 0 {
			return fmt.Errorf("file %s has negative record count", f.Filename)
		}
		sum += f.RecordsCount
	}
	if sum != m.TotalRecords {
		return fmt.Errorf("totalRecords is %d but files hold %d", m.TotalRecords, sum)
	}
	if !m.DataType.Chunked() && len(m.Files) > 1 {
		return fmt.Errorf("%s data spread over %d files", m.DataType, len(m.Files))
	}
	return nil
}

func (m *Metadata) recount() {
	total := 0
	for _, f := range m.Files {
		total += f.RecordsCount
	}
	m.TotalRecords = total
}

func (m *Metadata) clone() *Metadata {
	c := *m
	c.Files = append([]File(nil), m.Files...)
	return &c
}

// loadMetadata reads metadata.json from dir. It returns (nil, nil) when the
// file does not exist and ErrCorruptMetadata when it cannot be parsed or is
// inconsistent.
func loadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrCorruptMetadata, dir, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptMetadata, dir, err)
	}
	return &m, nil
}

// saveMetadata writes metadata.json into dir atomically.
func saveMetadata(dir string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, MetadataFile), data); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// chunkEntry is a chunk file found on disk.
type chunkEntry struct {
	number  int
	name    string
	ext     string
	modTime time.Time
}

// listChunkFiles returns the chunk files in dir ordered by number. Numbering
// gaps and mixed extensions are reported as ErrCorruptMetadata.
func listChunkFiles(dir string) ([]chunkEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var chunks []chunkEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ext, ok := parseChunkFilename(e.Name())
		if !ok {
			continue
		}
		ce := chunkEntry{number: n, name: e.Name(), ext: ext}
		if info, err := e.Info(); err == nil {
			ce.modTime = info.ModTime().UTC()
		}
		chunks = append(chunks, ce)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].number < chunks[j].number })
	for i, c := range chunks {
		if c.number != i+1 {
			return nil, fmt.Errorf("%w: %s: expected chunk %d, found %s", ErrCorruptMetadata, dir, i+1, c.name)
		}
		if c.ext != chunks[0].ext {
			return nil, fmt.Errorf("%w: %s: mixed chunk formats %s and %s", ErrCorruptMetadata, dir, chunks[0].name, c.name)
		}
	}
	return chunks, nil
}

// matchesDisk reports whether the metadata lists exactly the chunk files on disk.
func (m *Metadata) matchesDisk(chunks []chunkEntry) bool {
	if len(m.Files) != len(chunks) {
		return false
	}
	for i, c := range chunks {
		if m.Files[i].Filename != c.name {
			return false
		}
	}
	return true
}

// builder reconstructs metadata from chunk files and applies synopsis hooks.
type builder struct {
	fileHook    FileSynopsisFunc
	versionHook VersionSynopsisFunc
	logger      *zap.SugaredLogger
}

// build reconstructs the metadata of dir from its chunk files.
func (b *builder) build(dir, version string) (*Metadata, error) {
	chunks, err := listChunkFiles(dir)
	if err != nil {
		return nil, err
	}

	m := &Metadata{Version: version, Files: []File{}}
	if len(chunks) == 0 {
		return b.finish(m), nil
	}

	m.CreatedAt, m.UpdatedAt = chunks[0].modTime, chunks[0].modTime
	for _, c := range chunks {
		if c.modTime.Before(m.CreatedAt) {
			m.CreatedAt = c.modTime
		}
		if c.modTime.After(m.UpdatedAt) {
			m.UpdatedAt = c.modTime
		}
	}

	if len(chunks) > IncrementalBuildMinFiles && b.fileHook == nil {
		ok, err := b.buildIncremental(dir, m, chunks)
		if err != nil {
			return nil, err
		}
		if ok {
			return b.finish(m), nil
		}
		b.logger.Debugw("Boundary files disagree, falling back to full scan", "dir", dir)
	}

	if err := b.buildFull(dir, m, chunks); err != nil {
		return nil, err
	}
	return b.finish(m), nil
}

func (b *builder) buildFull(dir string, m *Metadata, chunks []chunkEntry) error {
	m.Files = make([]File, 0, len(chunks))
	m.DataType = ""
	for _, ce := range chunks {
		c, err := readChunk(filepath.Join(dir, ce.name), m.DataType)
		if err != nil {
			return chunkReadError(err)
		}
		if m.DataType == "" {
			m.DataType = c.dataType
		}
		f := File{
			Number:       ce.number,
			Filename:     ce.name,
			RecordsCount: c.count(),
			Checksum:     c.checksum,
		}
		f, err = b.applyFileHook(f, c)
		if err != nil {
			return err
		}
		m.Files = append(m.Files, f)
	}
	if !m.DataType.Chunked() && len(m.Files) > 1 {
		return fmt.Errorf("%w: %s: %s data spread over %d files", ErrCorruptMetadata, dir, m.DataType, len(m.Files))
	}
	return nil
}

// buildIncremental reads only the first and last chunk and extrapolates the
// files in between from the first file's record count. It returns false when
// the boundary files are inconsistent with that assumption.
func (b *builder) buildIncremental(dir string, m *Metadata, chunks []chunkEntry) (bool, error) {
	first, err := readChunk(filepath.Join(dir, chunks[0].name), "")
	if err != nil {
		return false, chunkReadError(err)
	}
	if first.dataType != DataTypeJSONArray {
		return false, nil
	}
	lastEntry := chunks[len(chunks)-1]
	last, err := readChunk(filepath.Join(dir, lastEntry.name), DataTypeJSONArray)
	if err != nil {
		return false, chunkReadError(err)
	}
	perFile := first.count()
	if perFile == 0 || last.count() == 0 || last.count() > perFile {
		return false, nil
	}

	m.DataType = DataTypeJSONArray
	m.Files = make([]File, 0, len(chunks))
	for i, ce := range chunks {
		f := File{Number: ce.number, Filename: ce.name, RecordsCount: perFile}
		switch i {
		case 0:
			f.Checksum = first.checksum
		case len(chunks) - 1:
			f.RecordsCount = last.count()
			f.Checksum = last.checksum
		}
		m.Files = append(m.Files, f)
	}
	b.logger.Debugw("Rebuilt metadata from boundary files",
		"dir", dir, "files", len(chunks), "recordsPerFile", perFile)
	return true, nil
}

func (b *builder) applyFileHook(f File, c *chunk) (File, error) {
	if b.fileHook == nil {
		return f, nil
	}
	records, err := c.values()
	if err != nil {
		return f, fmt.Errorf("decoding %s for synopsis: %w", f.Filename, err)
	}
	out := b.fileHook(f, records)
	f.Synopsis = out.Synopsis
	return f, nil
}

// finish recounts totals and applies the version synopsis hook. Everything
// but the synopsis is restored from the draft afterwards.
func (b *builder) finish(m *Metadata) *Metadata {
	m.recount()
	if b.versionHook == nil {
		return m
	}
	out := b.versionHook(*m.clone())
	m.Synopsis = out.Synopsis
	return m
}

func chunkReadError(err error) error {
	if errors.Is(err, ErrCorruptMetadata) {
		return err
	}
	return fmt.Errorf("%w: reading chunk: %v", ErrCorruptMetadata, err)
}
