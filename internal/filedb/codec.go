package filedb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// DataType is the shape of the data held by a version.
type DataType string

const (
	DataTypeJSONArray  DataType = "json-array"
	DataTypeJSONObject DataType = "json-object" // any single JSON value
	DataTypeText       DataType = "text"
	DataTypeXML        DataType = "xml"
)

// Valid reports whether d is one of the known data types.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeJSONArray, DataTypeJSONObject, DataTypeText, DataTypeXML:
		return true
	}
	return false
}

// Extension returns the chunk file extension used for d.
func (d DataType) Extension() string {
	switch d {
	case DataTypeText:
		return "txt"
	case DataTypeXML:
		return "xml"
	default:
		return "json"
	}
}

// Chunked reports whether data of this type is split across pages.
func (d DataType) Chunked() bool {
	return d == DataTypeJSONArray
}

// payload is a write request normalised to its on-disk shape.
type payload struct {
	dataType DataType
	records  []json.RawMessage // json-array only
	value    []byte            // everything else
}

// inferPayload classifies data and converts it into its stored form.
// Strings and byte slices are text, or XML when they look like markup;
// everything else is marshalled to JSON and classified by its first byte.
func inferPayload(data any) (*payload, error) {
	switch v := data.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil payload", ErrConfiguration)
	case string:
		return textPayload([]byte(v)), nil
	case json.RawMessage:
		return jsonPayload(v)
	case []byte:
		return textPayload(v), nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return jsonPayload(b)
}

func textPayload(b []byte) *payload {
	dt := DataTypeText
	if looksLikeXML(b) {
		dt = DataTypeXML
	}
	return &payload{dataType: dt, value: b}
}

func jsonPayload(b []byte) (*payload, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decoding array payload: %w", err)
		}
		return &payload{dataType: DataTypeJSONArray, records: records}, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrConfiguration)
	}
	return &payload{dataType: DataTypeJSONObject, value: trimmed}, nil
}

func looksLikeXML(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) > 1 && t[0] == '<' && t[len(t)-1] == '>'
}

// chunk is the decoded content of one chunk file.
type chunk struct {
	dataType DataType
	records  []json.RawMessage
	raw      []byte
	checksum string
}

func (c *chunk) count() int {
	if c.dataType == DataTypeJSONArray {
		return len(c.records)
	}
	return 1
}

// values decodes the chunk into caller-facing values: []any of records for
// arrays, the decoded JSON value for objects, a string for text and XML.
func (c *chunk) values() ([]any, error) {
	switch c.dataType {
	case DataTypeJSONArray:
		return decodeRecords(c.records)
	case DataTypeJSONObject:
		var v any
		if err := json.Unmarshal(c.raw, &v); err != nil {
			return nil, err
		}
		return []any{v}, nil
	default:
		return []any{string(c.raw)}, nil
	}
}

func decodeRecords(records []json.RawMessage) ([]any, error) {
	out := make([]any, 0, len(records))
	for i, r := range records {
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// dataTypeForFile infers the data type of a chunk from its extension and,
// for JSON, its first significant byte.
func dataTypeForFile(ext string, content []byte) DataType {
	switch ext {
	case "txt":
		return DataTypeText
	case "xml":
		return DataTypeXML
	}
	t := bytes.TrimSpace(content)
	if len(t) > 0 && t[0] == '[' {
		return DataTypeJSONArray
	}
	return DataTypeJSONObject
}

// readChunk reads and decodes one chunk file. When dt is empty the type is
// inferred from the file itself.
func readChunk(path string, dt DataType) (*chunk, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if dt == "" {
		_, ext, ok := parseChunkFilename(filepath.Base(path))
		if !ok {
			ext = "json"
		}
		dt = dataTypeForFile(ext, content)
	}

	c := &chunk{dataType: dt, checksum: checksumBytes(content)}
	switch dt {
	case DataTypeJSONArray:
		if err := json.Unmarshal(content, &c.records); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrCorruptMetadata, path, err)
		}
	case DataTypeJSONObject:
		if !json.Valid(bytes.TrimSpace(content)) {
			return nil, fmt.Errorf("%w: %s is not valid JSON", ErrCorruptMetadata, path)
		}
		c.raw = bytes.TrimSpace(content)
	default:
		c.raw = content
	}
	return c, nil
}

// encodeChunk renders records or a whole value into chunk file contents.
func encodeChunk(dt DataType, records []json.RawMessage, value []byte) ([]byte, error) {
	if dt != DataTypeJSONArray {
		return value, nil
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return json.Marshal(records)
}
