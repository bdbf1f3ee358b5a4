// Package filedb implements a file-backed table store with chunked pages,
// timestamped versions, cached metadata and legacy-layout detection.
//
// A table lives in <base>/<namespace>/<table segments>/. Versioned tables keep
// one directory per version named by its UTC timestamp; flat tables keep their
// chunk files directly in the table directory. Every data directory holds
// numbered chunk files (000001.json, ...) and, unless disabled, metadata.json.
//
// A Store is not safe for concurrent use, and nothing coordinates multiple
// Stores or processes writing the same table: the last writer wins.
package filedb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by Open to zero-valued Config fields.
const (
	DefaultPageSize           = 5000
	DefaultMaxVersions        = 5
	DefaultFreeSpaceThreshold = 100 << 20
)

// Mode selects versioned or flat storage.
type Mode int

const (
	// ModeAuto detects the layout from disk; empty tables become versioned.
	ModeAuto Mode = iota
	ModeVersioned
	ModeFlat
)

func (m Mode) String() string {
	switch m {
	case ModeVersioned:
		return "versioned"
	case ModeFlat:
		return "flat"
	default:
		return "auto"
	}
}

// Config configures a Store.
type Config struct {
	BasePath  string // required
	Namespace string
	TableName string // may contain slashes

	PageSize    int // records per chunk file
	MaxVersions int // negative keeps every version

	// DisableMetadata stops the store from reading and writing metadata.json;
	// metadata is then rebuilt from the chunk files when needed.
	DisableMetadata bool

	Mode Mode

	// FreeSpaceThreshold is the minimum number of free bytes required before
	// a write starts. Negative disables the check.
	FreeSpaceThreshold int64

	FileSynopsis    FileSynopsisFunc
	VersionSynopsis VersionSynopsisFunc

	Logger *zap.SugaredLogger
}

// Intent says whether a prepare is for reading or for writing.
type Intent int

const (
	ForRead Intent = iota
	ForWrite
)

// PrepareOptions select the version a read or write will target.
type PrepareOptions struct {
	Intent          Intent
	Version         string
	ForceNewVersion bool
}

// WriteOptions control where a write lands.
type WriteOptions struct {
	// Version reopens an existing version for append, or names a new one
	// that must sort after every existing version.
	Version string
	// ForceNewVersion always creates a new version.
	ForceNewVersion bool
}

// ReadOptions control pagination.
type ReadOptions struct {
	Version  string // default: latest
	NextPage bool   // continue from the cursor instead of restarting
	PageSize int    // <= 0 returns every remaining record
}

// prepared is the state left by the last prepare.
type prepared struct {
	intent   Intent
	version  string
	dir      string
	meta     *Metadata // nil for a version about to be created
	creating bool
}

// Store is the facade over one table.
type Store struct {
	cfg      Config
	tableDir string
	logger   *zap.SugaredLogger

	versioned    bool
	modeResolved bool

	builder *builder
	writer  *chunkWriter
	cursor  cursor
	cache   map[string]*Metadata // data directory -> metadata
	state   *prepared

	now       func() time.Time
	freeSpace func(path string) (uint64, error)
	removeAll func(path string) error
}

// Open validates cfg, applies defaults and returns a Store for the table.
// It does not touch the filesystem.
func Open(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("%w: base path is required", ErrConfiguration)
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrConfiguration, cfg.PageSize)
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxVersions == 0 {
		cfg.MaxVersions = DefaultMaxVersions
	}
	if cfg.FreeSpaceThreshold == 0 {
		cfg.FreeSpaceThreshold = DefaultFreeSpaceThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	logger := cfg.Logger.With("table", cfg.TableName)
	if cfg.Namespace != "" {
		logger = logger.With("namespace", cfg.Namespace)
	}

	b := &builder{fileHook: cfg.FileSynopsis, versionHook: cfg.VersionSynopsis, logger: logger}
	s := &Store{
		cfg:       cfg,
		tableDir:  TablePath(cfg.BasePath, cfg.Namespace, cfg.TableName),
		logger:    logger,
		builder:   b,
		writer:    &chunkWriter{pageSize: cfg.PageSize, builder: b},
		cache:     make(map[string]*Metadata),
		now:       time.Now,
		freeSpace: freeDiskSpace,
		removeAll: os.RemoveAll,
	}
	switch cfg.Mode {
	case ModeVersioned:
		s.versioned, s.modeResolved = true, true
	case ModeFlat:
		s.versioned, s.modeResolved = false, true
	}
	return s, nil
}

// TableDir returns the table's directory.
func (s *Store) TableDir() string {
	return s.tableDir
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Versioned resolves and reports whether the table is versioned.
func (s *Store) Versioned() (bool, error) {
	if err := s.resolveMode(); err != nil {
		return false, err
	}
	return s.versioned, nil
}

// resolveMode settles ModeAuto from what is on disk. Empty tables are versioned.
func (s *Store) resolveMode() error {
	if s.modeResolved {
		return nil
	}
	f, err := DetectFormat(s.tableDir)
	if err != nil {
		return err
	}
	s.versioned = f.Versioned || f.DataType == ""
	s.modeResolved = true
	s.logger.Debugw("Resolved table mode", "versioned", s.versioned, "hasMetadata", f.HasMetadata)
	return nil
}

// SetFileSynopsisFunc installs the per-file synopsis hook.
func (s *Store) SetFileSynopsisFunc(fn FileSynopsisFunc) {
	s.builder.fileHook = fn
	s.cache = make(map[string]*Metadata)
}

// SetVersionSynopsisFunc installs the per-version synopsis hook.
func (s *Store) SetVersionSynopsisFunc(fn VersionSynopsisFunc) {
	s.builder.versionHook = fn
	s.cache = make(map[string]*Metadata)
}

// Prepare resolves the table mode and the target version, and loads or
// builds its metadata. Read and Write call it themselves.
func (s *Store) Prepare(opts PrepareOptions) (*Metadata, error) {
	st, err := s.prepare(opts)
	if err != nil {
		return nil, err
	}
	if st.meta == nil {
		return nil, nil
	}
	return st.meta.clone(), nil
}

func (s *Store) prepare(opts PrepareOptions) (*prepared, error) {
	if err := s.resolveMode(); err != nil {
		return nil, err
	}

	var st *prepared
	var err error
	if s.versioned {
		st, err = s.prepareVersioned(opts)
	} else {
		st, err = s.prepareFlat(opts)
	}
	if err != nil {
		return nil, err
	}
	s.state = st
	return st, nil
}

func (s *Store) prepareFlat(opts PrepareOptions) (*prepared, error) {
	if opts.ForceNewVersion {
		return nil, fmt.Errorf("%w: cannot force a new version on a non-versioned table", ErrUnsupportedOperation)
	}
	if opts.Version != "" {
		return nil, fmt.Errorf("%w: version %q given for a non-versioned table", ErrConfiguration, opts.Version)
	}

	st := &prepared{intent: opts.Intent, dir: s.tableDir}
	meta, err := s.loadMeta(s.tableDir, "")
	switch {
	case err == nil:
		st.meta = meta
	case errors.Is(err, ErrNotFound) && opts.Intent == ForWrite:
	default:
		return nil, err
	}
	if opts.Intent == ForRead && len(st.meta.Files) == 0 && st.meta.DataType == "" {
		return nil, fmt.Errorf("%w: table %s holds no data", ErrNotFound, s.tableDir)
	}
	return st, nil
}

func (s *Store) prepareVersioned(opts PrepareOptions) (*prepared, error) {
	versions, err := listVersions(s.tableDir)
	if err != nil {
		return nil, err
	}

	if opts.Intent == ForRead {
		version := opts.Version
		if version == "" {
			version = latestVersion(versions)
		}
		if version == "" || !contains(versions, version) {
			return nil, fmt.Errorf("%w: no version %q in %s", ErrNotFound, version, s.tableDir)
		}
		dir := VersionPath(s.tableDir, version)
		meta, err := s.loadMeta(dir, version)
		if err != nil {
			return nil, err
		}
		return &prepared{intent: ForRead, version: version, dir: dir, meta: meta}, nil
	}

	version, creating, err := s.writeTarget(versions, opts)
	if err != nil {
		return nil, err
	}
	st := &prepared{intent: ForWrite, version: version, dir: VersionPath(s.tableDir, version), creating: creating}
	if !creating {
		if st.meta, err = s.loadMeta(st.dir, version); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// writeTarget picks the version a write goes to: an explicit version, a new
// one when forced or when none exist, otherwise the latest.
func (s *Store) writeTarget(versions []string, opts PrepareOptions) (string, bool, error) {
	latest := latestVersion(versions)
	switch {
	case opts.Version != "" && opts.ForceNewVersion:
		return "", false, fmt.Errorf("%w: version and forceNewVersion are mutually exclusive", ErrConfiguration)
	case opts.Version != "" && contains(versions, opts.Version):
		return opts.Version, false, nil
	case opts.Version != "":
		if !IsVersionID(opts.Version) {
			return "", false, fmt.Errorf("%w: %q is not a version identifier", ErrConfiguration, opts.Version)
		}
		if latest != "" && opts.Version <= latest {
			return "", false, fmt.Errorf("%w: new version %s must be later than %s", ErrConfiguration, opts.Version, latest)
		}
		return opts.Version, true, nil
	case opts.ForceNewVersion || latest == "":
		return newVersionID(versions, s.now()), true, nil
	default:
		return latest, false, nil
	}
}

// loadMeta returns the metadata of a data directory from the cache, from
// metadata.json, or by rebuilding it from the chunk files. Corrupt or stale
// metadata.json is rebuilt rather than reported.
func (s *Store) loadMeta(dir, version string) (*Metadata, error) {
	if m, ok := s.cache[dir]; ok {
		return m, nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNotFound, dir)
		}
		return nil, err
	}

	if !s.cfg.DisableMetadata {
		m, err := loadMetadata(dir)
		switch {
		case err != nil && errors.Is(err, ErrCorruptMetadata):
			s.logger.Warnw("Metadata unusable, rebuilding from chunk files", "dir", dir, "error", err)
		case err != nil:
			return nil, err
		case m != nil:
			chunks, err := listChunkFiles(dir)
			if err != nil {
				return nil, err
			}
			if m.matchesDisk(chunks) {
				m.Version = version
				s.cache[dir] = m
				return m, nil
			}
			s.logger.Warnw("Metadata does not match chunk files, rebuilding", "dir", dir,
				"listed", len(m.Files), "found", len(chunks))
		default:
			s.logger.Debugw("No metadata file, rebuilding from chunk files", "dir", dir)
		}
	}

	m, err := s.builder.build(dir, version)
	if err != nil {
		return nil, err
	}
	s.cache[dir] = m
	return m, nil
}

// Write stores data in the table and returns the resulting metadata.
//
// Arrays are appended to the target version, topping up its last chunk;
// objects, text and XML replace the version's content. When the write
// created a version and old versions could not all be pruned, the metadata
// is returned together with an ErrPrune error.
func (s *Store) Write(data any, opts WriteOptions) (*Metadata, error) {
	p, err := inferPayload(data)
	if err != nil {
		return nil, err
	}

	st, err := s.prepare(PrepareOptions{Intent: ForWrite, Version: opts.Version, ForceNewVersion: opts.ForceNewVersion})
	if err != nil {
		return nil, err
	}
	if st.meta != nil && st.meta.DataType != "" && st.meta.DataType != p.dataType {
		return nil, &MismatchError{Version: st.version, Existing: st.meta.DataType, Incoming: p.dataType}
	}
	if err := s.checkSpace(st.dir); err != nil {
		return nil, err
	}

	files, added, err := s.writer.write(st.dir, st.meta, p)
	if err != nil {
		if st.creating {
			if rmErr := os.RemoveAll(st.dir); rmErr != nil {
				s.logger.Warnw("Failed to remove incomplete version", "version", st.version, "error", rmErr)
			}
		} else {
			s.dropMetadataFile(st.dir)
			s.logger.Warnw("Write failed, metadata will be rebuilt from chunk files", "dir", st.dir, "error", err)
		}
		delete(s.cache, st.dir)
		return nil, err
	}

	now := s.now().UTC()
	meta := &Metadata{Version: st.version, CreatedAt: now}
	if st.meta != nil {
		meta = st.meta.clone()
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = now
		}
	}
	meta.DataType = p.dataType
	meta.Files = files
	meta.UpdatedAt = now
	meta = s.builder.finish(meta)

	if !s.cfg.DisableMetadata {
		if err := saveMetadata(st.dir, meta); err != nil {
			delete(s.cache, st.dir)
			return nil, err
		}
	}
	s.cache[st.dir] = meta
	st.meta = meta
	if s.cursor.positioned(st.version) {
		s.cursor.invalidate()
	}

	s.logger.Debugw("Wrote records", "version", st.version, "added", added,
		"files", len(meta.Files), "totalRecords", meta.TotalRecords)

	if st.creating {
		if err := s.prune(); err != nil {
			return meta.clone(), err
		}
	}
	return meta.clone(), nil
}

// dropMetadataFile removes metadata.json from dir after a partial write so
// the next load rebuilds it from the chunk files actually on disk.
func (s *Store) dropMetadataFile(dir string) {
	if s.cfg.DisableMetadata {
		return
	}
	if err := os.Remove(filepath.Join(dir, MetadataFile)); err != nil && !os.IsNotExist(err) {
		s.logger.Errorw("Failed to remove stale metadata", "dir", dir, "error", err)
	}
}

// prune removes the oldest versions beyond MaxVersions.
func (s *Store) prune() error {
	versions, err := listVersions(s.tableDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPrune, err)
	}
	removed, err := pruneVersions(s.tableDir, versions, s.cfg.MaxVersions, s.removeAll)
	for _, v := range removed {
		delete(s.cache, VersionPath(s.tableDir, v))
		if s.cursor.positioned(v) {
			s.cursor.reset()
		}
	}
	if len(removed) > 0 {
		s.logger.Infow("Pruned old versions", "removed", removed, "maxVersions", s.cfg.MaxVersions)
	}
	if err != nil {
		s.logger.Errorw("Pruning old versions failed", "error", err)
	}
	return err
}

// checkSpace trips ErrInsufficientSpace when the filesystem holding dir has
// less free space than the configured threshold.
func (s *Store) checkSpace(dir string) error {
	if s.cfg.FreeSpaceThreshold < 0 {
		return nil
	}
	path := existingAncestor(dir)
	free, err := s.freeSpace(path)
	if err != nil {
		s.logger.Warnw("Could not measure free disk space", "path", path, "error", err)
		return nil
	}
	if threshold := uint64(s.cfg.FreeSpaceThreshold); free < threshold {
		return &SpaceError{Path: path, Free: free, Threshold: threshold}
	}
	return nil
}

// Read returns data from a version: a page of records ([]any) for arrays,
// or the whole value for objects, text and XML.
//
// A read restarts at the first record unless NextPage is set and the cursor
// was last used on the same version. An exhausted array yields an empty
// slice; an already returned whole value yields nil.
func (s *Store) Read(opts ReadOptions) (any, error) {
	st, err := s.prepare(PrepareOptions{Intent: ForRead, Version: opts.Version})
	if err != nil {
		return nil, err
	}
	if !opts.NextPage || !s.cursor.positioned(st.version) {
		s.cursor.start(st.version)
	}
	return s.cursor.next(st.dir, st.meta, opts.PageSize)
}

// ForEachPage calls fn with consecutive pages of a version's records without
// disturbing the pagination cursor used by Read. Non-array data is passed
// as a single one-element page.
func (s *Store) ForEachPage(version string, pageSize int, fn func(page []any) error) error {
	st, err := s.prepare(PrepareOptions{Intent: ForRead, Version: version})
	if err != nil {
		return err
	}
	if pageSize <= 0 {
		pageSize = s.cfg.PageSize
	}

	var c cursor
	c.start(st.version)
	for {
		v, err := c.next(st.dir, st.meta, pageSize)
		if err != nil {
			return err
		}
		var page []any
		switch x := v.(type) {
		case nil:
			return nil
		case []any:
			page = x
		default:
			page = []any{x}
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
	}
}

// ResetPagination clears the cursor for every version.
func (s *Store) ResetPagination() {
	s.cursor.reset()
}

// GetMetadata returns the metadata of the last prepared version.
func (s *Store) GetMetadata() (*Metadata, error) {
	if s.state == nil {
		return nil, ErrNotPrepared
	}
	if s.state.meta == nil {
		return nil, fmt.Errorf("%w: version %s has not been written yet", ErrNotFound, s.state.version)
	}
	return s.state.meta.clone(), nil
}

// GetVersions lists the table's versions, oldest first.
func (s *Store) GetVersions() ([]string, error) {
	if err := s.requireVersioned(); err != nil {
		return nil, err
	}
	return listVersions(s.tableDir)
}

// GetLatestVersion returns the most recent version, or "" if there is none.
func (s *Store) GetLatestVersion() (string, error) {
	versions, err := s.GetVersions()
	if err != nil {
		return "", err
	}
	return latestVersion(versions), nil
}

// GetCurrentVersion returns the version last prepared by this Store if it
// still exists, otherwise the latest version.
func (s *Store) GetCurrentVersion() (string, error) {
	versions, err := s.GetVersions()
	if err != nil {
		return "", err
	}
	if s.state != nil && s.state.version != "" && contains(versions, s.state.version) {
		return s.state.version, nil
	}
	return latestVersion(versions), nil
}

// HasData reports whether the table's current data set holds any chunk file.
func (s *Store) HasData() (bool, error) {
	if err := s.resolveMode(); err != nil {
		return false, err
	}
	dir := s.tableDir
	if s.versioned {
		versions, err := listVersions(s.tableDir)
		if err != nil {
			return false, err
		}
		latest := latestVersion(versions)
		if latest == "" {
			return false, nil
		}
		dir = VersionPath(s.tableDir, latest)
	}

	chunks, err := listChunkFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(chunks) > 0, nil
}

// DetectDataFormat inspects the table directory; see DetectFormat.
func (s *Store) DetectDataFormat() (Format, error) {
	return DetectFormat(s.tableDir)
}

// DeleteVersion removes one version directory.
func (s *Store) DeleteVersion(version string) error {
	versions, err := s.GetVersions()
	if err != nil {
		return err
	}
	if !contains(versions, version) {
		return fmt.Errorf("%w: no version %q in %s", ErrNotFound, version, s.tableDir)
	}
	dir := VersionPath(s.tableDir, version)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing version %s: %w", version, err)
	}
	delete(s.cache, dir)
	if s.cursor.positioned(version) {
		s.cursor.reset()
	}
	if s.state != nil && s.state.version == version {
		s.state = nil
	}
	return nil
}

func (s *Store) requireVersioned() error {
	if err := s.resolveMode(); err != nil {
		return err
	}
	if !s.versioned {
		return fmt.Errorf("%w: %s", ErrNotVersionedMode, s.tableDir)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
