package filedb

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MetadataFile is the name of the metadata file in a version or flat table directory.
	MetadataFile = "metadata.json"

	// chunkNumberWidth is the zero-padded width of chunk file numbers.
	chunkNumberWidth = 6
)

// chunkFilePattern matches chunk filenames such as 000001.json.
var chunkFilePattern = regexp.MustCompile(`^(\d{6})\.(json|txt|xml)$`)

// TablePath joins basePath, the optional namespace and every segment of a
// slash-delimited table name into the table's directory.
func TablePath(basePath, namespace, tableName string) string {
	parts := []string{basePath}
	if namespace != "" {
		parts = append(parts, namespace)
	}
	for _, seg := range strings.Split(tableName, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return filepath.Join(parts...)
}

// VersionPath returns the directory of a version inside a table directory.
func VersionPath(tableDir, version string) string {
	return filepath.Join(tableDir, version)
}

// chunkFilename renders the filename of chunk n for a data type.
func chunkFilename(n int, dt DataType) string {
	return fmt.Sprintf("%0*d.%s", chunkNumberWidth, n, dt.Extension())
}

// parseChunkFilename returns the chunk number and extension of a chunk filename.
func parseChunkFilename(name string) (int, string, bool) {
	m := chunkFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return 0, "", false
	}
	return n, m[2], true
}
