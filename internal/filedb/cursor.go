package filedb

import (
	"path/filepath"
)

// cursor is the read position within one version's chunk files. Only the
// chunk currently being consumed is kept in memory.
type cursor struct {
	active    bool
	version   string
	fileIndex int
	offset    int
	consumed  bool // whole-value data already returned
	current   *chunk
}

// reset forgets every position.
func (c *cursor) reset() {
	*c = cursor{}
}

// start positions the cursor at the first record of version.
func (c *cursor) start(version string) {
	*c = cursor{active: true, version: version}
}

// positioned reports whether the cursor can continue reading version.
func (c *cursor) positioned(version string) bool {
	return c.active && c.version == version
}

// next returns up to pageSize records from the position onwards, spanning
// files as needed; pageSize <= 0 reads everything that remains. For
// non-array data the whole value is returned once and nil afterwards.
func (c *cursor) next(dir string, meta *Metadata, pageSize int) (any, error) {
	if !meta.DataType.Chunked() && meta.DataType != "" {
		return c.nextValue(dir, meta)
	}

	out := []any{}
	for pageSize <= 0 || len(out) < pageSize {
		if c.fileIndex >= len(meta.Files) {
			break
		}
		if c.current == nil {
			ch, err := readChunk(filepath.Join(dir, meta.Files[c.fileIndex].Filename), DataTypeJSONArray)
			if err != nil {
				return nil, chunkReadError(err)
			}
			c.current = ch
		}

		remaining := c.current.records[min(c.offset, len(c.current.records)):]
		take := len(remaining)
		if pageSize > 0 {
			take = min(take, pageSize-len(out))
		}
		values, err := decodeRecords(remaining[:take])
		if err != nil {
			return nil, err
		}
		out = append(out, values...)
		c.offset += take

		if c.offset >= len(c.current.records) {
			c.fileIndex++
			c.offset = 0
			c.current = nil
		}
	}
	return out, nil
}

func (c *cursor) nextValue(dir string, meta *Metadata) (any, error) {
	if c.consumed || len(meta.Files) == 0 {
		return nil, nil
	}
	ch, err := readChunk(filepath.Join(dir, meta.Files[0].Filename), meta.DataType)
	if err != nil {
		return nil, chunkReadError(err)
	}
	values, err := ch.values()
	if err != nil {
		return nil, err
	}
	c.consumed = true
	return values[0], nil
}

// invalidate drops the cached chunk after its file was rewritten.
func (c *cursor) invalidate() {
	c.current = nil
}
