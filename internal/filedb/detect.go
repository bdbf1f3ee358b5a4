package filedb

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Format describes how a table is laid out on disk.
type Format struct {
	Versioned   bool     `json:"versioned"`
	HasMetadata bool     `json:"hasMetadata"`
	DataType    DataType `json:"dataType"` // empty when no data was found
}

// DetectFormat classifies a table directory without being told how it was
// written. It checks, in order, for a root metadata.json (flat table with
// metadata), for version directories (looking for metadata.json in the most
// recent one), and for numbered chunk files at the root (flat table written
// without metadata). A missing directory yields the zero Format.
//
// The checks are heuristics. A tree that matches more than one layout is
// reported as ErrCorruptMetadata instead of being guessed at.
func DetectFormat(tableDir string) (Format, error) {
	entries, err := os.ReadDir(tableDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Format{}, nil
		}
		return Format{}, fmt.Errorf("reading table directory: %w", err)
	}

	var rootMeta, rootChunks bool
	var versions []string
	for _, e := range entries {
		switch {
		case e.IsDir() && IsVersionID(e.Name()):
			versions = append(versions, e.Name())
		case !e.IsDir() && e.Name() == MetadataFile:
			rootMeta = true
		case !e.IsDir():
			if _, _, ok := parseChunkFilename(e.Name()); ok {
				rootChunks = true
			}
		}
	}

	if len(versions) > 0 && (rootMeta || rootChunks) {
		return Format{}, fmt.Errorf("%w: %s holds both version directories and flat data", ErrCorruptMetadata, tableDir)
	}

	if len(versions) > 0 {
		sort.Strings(versions)
		dir := VersionPath(tableDir, latestVersion(versions))
		f, err := detectDir(dir)
		if err != nil {
			return Format{}, err
		}
		f.Versioned = true
		return f, nil
	}

	if rootMeta || rootChunks {
		return detectDir(tableDir)
	}
	return Format{}, nil
}

// detectDir reports metadata presence and data type for one data directory.
// Unparsable metadata counts as absent; the data type then comes from the
// first chunk file.
func detectDir(dir string) (Format, error) {
	var f Format
	m, err := loadMetadata(dir)
	if err == nil && m != nil {
		f.HasMetadata = true
		f.DataType = m.DataType
	}

	chunks, err := listChunkFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return Format{}, err
	}
	if f.DataType == "" && len(chunks) > 0 {
		dt, err := sniffDataType(filepath.Join(dir, chunks[0].name), chunks[0].ext)
		if err != nil {
			return Format{}, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
		}
		f.DataType = dt
	}
	return f, nil
}

// sniffDataType infers a chunk's data type from its extension and leading bytes.
func sniffDataType(path, ext string) (DataType, error) {
	if ext != "json" {
		return dataTypeForFile(ext, nil), nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(fh, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return dataTypeForFile(ext, bytes.TrimSpace(head[:n])), nil
}
