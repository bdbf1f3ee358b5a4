package filedb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// chunkWriter splits payloads into page-sized chunk files.
type chunkWriter struct {
	pageSize int
	builder  *builder
}

// write persists p into dir on top of the existing metadata (nil for a new
// version). It returns the complete, updated file list and the number of
// records added by this write.
//
// Arrays resume in the last file when it holds fewer than pageSize records:
// that file is rewritten with its old records followed by new ones, and any
// remainder goes to fresh files. Other data types always replace 000001.
func (w *chunkWriter) write(dir string, existing *Metadata, p *payload) ([]File, int, error) {
	if existing != nil && existing.DataType != "" && existing.DataType != p.dataType {
		return nil, 0, &MismatchError{
			Version:  existing.Version,
			Existing: existing.DataType,
			Incoming: p.dataType,
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, 0, fmt.Errorf("creating directory: %w", err)
	}

	if !p.dataType.Chunked() {
		f, err := w.writeFile(dir, 1, p.dataType, nil, p.value)
		if err != nil {
			return nil, 0, err
		}
		return []File{f}, 1, nil
	}

	var files []File
	if existing != nil {
		files = append(files, existing.Files...)
	}
	records := p.records
	added := len(records)

	if len(files) > 0 && len(records) > 0 {
		last := files[len(files)-1]
		if last.RecordsCount < w.pageSize {
			rest, f, err := w.topUp(dir, last, records)
			if err != nil {
				return nil, 0, err
			}
			files[len(files)-1] = f
			records = rest
		}
	}

	for len(records) > 0 {
		n := min(w.pageSize, len(records))
		f, err := w.writeFile(dir, len(files)+1, DataTypeJSONArray, records[:n], nil)
		if err != nil {
			return nil, 0, err
		}
		files = append(files, f)
		records = records[n:]
	}

	return files, added, nil
}

// topUp fills the partial last file with new records and returns those that
// did not fit. The record count on disk wins over the metadata, which may be
// extrapolated.
func (w *chunkWriter) topUp(dir string, last File, records []json.RawMessage) ([]json.RawMessage, File, error) {
	c, err := readChunk(filepath.Join(dir, last.Filename), DataTypeJSONArray)
	if err != nil {
		return nil, File{}, fmt.Errorf("reading %s for top-up: %w", last.Filename, err)
	}
	free := w.pageSize - len(c.records)
	if free <= 0 {
		last.RecordsCount = len(c.records)
		last.Checksum = c.checksum
		f, err := w.builder.applyFileHook(last, c)
		if err != nil {
			return nil, File{}, err
		}
		return records, f, nil
	}

	n := min(free, len(records))
	merged := make([]json.RawMessage, 0, len(c.records)+n)
	merged = append(merged, c.records...)
	merged = append(merged, records[:n]...)

	f, err := w.writeFile(dir, last.Number, DataTypeJSONArray, merged, nil)
	if err != nil {
		return nil, File{}, err
	}
	return records[n:], f, nil
}

// writeFile writes chunk number n and describes it.
func (w *chunkWriter) writeFile(dir string, n int, dt DataType, records []json.RawMessage, value []byte) (File, error) {
	data, err := encodeChunk(dt, records, value)
	if err != nil {
		return File{}, fmt.Errorf("encoding chunk %d: %w", n, err)
	}
	name := chunkFilename(n, dt)
	if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
		return File{}, fmt.Errorf("writing %s: %w", name, err)
	}

	f := File{
		Number:       n,
		Filename:     name,
		RecordsCount: 1,
		Checksum:     checksumBytes(data),
	}
	if dt.Chunked() {
		f.RecordsCount = len(records)
	}
	return w.builder.applyFileHook(f, &chunk{dataType: dt, records: records, raw: value})
}
