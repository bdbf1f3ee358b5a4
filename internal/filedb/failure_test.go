package filedb

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFailedAppendRebuildsCounts(t *testing.T) {
	s := setupTestStore(t, Config{PageSize: 4})
	m, err := s.Write(makeRecords(0, 10), WriteOptions{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	dir := VersionPath(s.TableDir(), m.Version)

	// 000003.json gets topped up, then 000004.json cannot be created.
	blocker := filepath.Join(dir, "000004.json")
	if err := os.Mkdir(blocker, 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := s.Write(makeRecords(10, 3), WriteOptions{}); err == nil {
		t.Fatal("Write into a blocked chunk succeeded")
	}
	if _, err := os.Stat(filepath.Join(dir, MetadataFile)); !os.IsNotExist(err) {
		t.Errorf("stale metadata.json kept after failed write: %v", err)
	}
	if err := os.Remove(blocker); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if got, want := readAll(t, s, "", 3), asValues(makeRecords(0, 12)); !reflect.DeepEqual(got, want) {
		t.Errorf("after failed write read %d records, want %d", len(got), len(want))
	}

	m, err = s.Write(makeRecords(12, 1), WriteOptions{})
	if err != nil {
		t.Fatalf("Write after recovery: %v", err)
	}
	if got := fileCounts(m); !reflect.DeepEqual(got, []int{4, 4, 4, 1}) {
		t.Errorf("file counts = %v, want [4 4 4 1]", got)
	}
	if m.TotalRecords != 13 {
		t.Errorf("TotalRecords = %d, want 13", m.TotalRecords)
	}
	if got := readAll(t, s, "", 5); len(got) != 13 {
		t.Errorf("read %d records, want 13", len(got))
	}
	problems, err := s.Verify(m.Version)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(problems) != 0 {
		t.Errorf("Verify problems: %+v", problems)
	}
}

func TestTopUpUsesCountOnDisk(t *testing.T) {
	dir := t.TempDir()
	writeLegacyChunks(t, dir, 4)
	existing := &Metadata{
		DataType: DataTypeJSONArray,
		Files:    []File{{Number: 1, Filename: "000001.json", RecordsCount: 2}},
	}
	p, err := inferPayload(makeRecords(100, 1))
	if err != nil {
		t.Fatalf("inferPayload: %v", err)
	}

	w := &chunkWriter{pageSize: 4, builder: &builder{logger: nopLogger()}}
	files, added, err := w.write(dir, existing, p)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if got := fileCounts(&Metadata{Files: files}); !reflect.DeepEqual(got, []int{4, 1}) {
		t.Errorf("file counts = %v, want [4 1]", got)
	}
	if files[0].Checksum == "" {
		t.Error("full file lost its checksum")
	}
}

func TestFailedWriteRemovesNewVersion(t *testing.T) {
	s := setupTestStore(t, Config{})
	m1, err := s.Write(makeRecords(0, 3), WriteOptions{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A regular file where the new version directory should go.
	next := "2099-01-01T00:00:00Z"
	blocker := VersionPath(s.TableDir(), next)
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Write(makeRecords(3, 2), WriteOptions{Version: next}); err == nil {
		t.Fatal("Write into a blocked version succeeded")
	}
	if _, err := os.Stat(blocker); !os.IsNotExist(err) {
		t.Errorf("incomplete version left behind: %v", err)
	}

	versions, err := s.GetVersions()
	if err != nil {
		t.Fatalf("GetVersions: %v", err)
	}
	if !reflect.DeepEqual(versions, []string{m1.Version}) {
		t.Errorf("versions = %v, want [%s]", versions, m1.Version)
	}
	if got, want := readAll(t, s, "", 0), asValues(makeRecords(0, 3)); !reflect.DeepEqual(got, want) {
		t.Errorf("previous version = %v, want %v", got, want)
	}
}

func TestPruneFailureKeepsWrite(t *testing.T) {
	s := setupTestStore(t, Config{MaxVersions: 1})
	s.removeAll = func(string) error { return errors.New("device busy") }

	m1, err := s.Write(makeRecords(0, 2), WriteOptions{})
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}
	m2, err := s.Write(makeRecords(2, 2), WriteOptions{ForceNewVersion: true})
	if !errors.Is(err, ErrPrune) {
		t.Fatalf("second Write error = %v, want ErrPrune", err)
	}
	if m2 == nil || m2.TotalRecords != 2 {
		t.Fatalf("metadata = %+v, want the new version with 2 records", m2)
	}

	versions, _ := s.GetVersions()
	if !reflect.DeepEqual(versions, []string{m1.Version, m2.Version}) {
		t.Errorf("versions = %v", versions)
	}
	if got := readAll(t, s, m2.Version, 0); !reflect.DeepEqual(got, asValues(makeRecords(2, 2))) {
		t.Errorf("new version = %v", got)
	}
	if got := readAll(t, s, m1.Version, 0); !reflect.DeepEqual(got, asValues(makeRecords(0, 2))) {
		t.Errorf("old version = %v", got)
	}
}
