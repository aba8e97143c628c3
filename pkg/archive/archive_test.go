package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, dir, name string, files map[string]string, order ...string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if len(order) == 0 {
		for n := range files {
			order = append(order, n)
		}
	}
	for _, n := range order {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[n]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return p
}

func TestOpenZipAndBuildTree(t *testing.T) {
	dir := t.TempDir()
	p := writeZip(t, dir, "012345678901FU3.zip", map[string]string{
		"012345678901FU3/": "",
		"012345678901FU3/AdditionalData/Scanning/mid_x.csv": "mid",
		"012345678901FU3/ImageData/series1/IM0001":          "dicom",
		"012345678901FU3/ImageData/series1/IM0002":          "",
	}, "012345678901FU3/", "012345678901FU3/AdditionalData/Scanning/mid_x.csv",
		"012345678901FU3/ImageData/series1/IM0001", "012345678901FU3/ImageData/series1/IM0002")

	c, err := OpenZip(p)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "012345678901FU3.zip", c.Name())

	tree, err := BuildTree(c.Entries())
	require.NoError(t, err)
	require.Equal(t, []string{"012345678901FU3"}, tree.DirNames())

	subject := tree.Dirs["012345678901FU3"]
	assert.Equal(t, "012345678901FU3/", subject.Path)
	assert.Equal(t, []string{"AdditionalData", "ImageData"}, subject.DirNames())

	scanning := subject.Dirs["AdditionalData"].Dirs["Scanning"]
	assert.Equal(t, "012345678901FU3/AdditionalData/Scanning/", scanning.Path)
	assert.Equal(t, []string{"mid_x.csv"}, scanning.FileNames())

	images := subject.Dirs["ImageData"].AllFiles()
	require.Len(t, images, 2)
	assert.Equal(t, int64(0), images[1].Size)

	content, err := ReadFile(c, "012345678901FU3/AdditionalData/Scanning/mid_x.csv")
	require.NoError(t, err)
	assert.Equal(t, "mid", string(content))

	all, err := ReadAll(c)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBuildTreeDuplicateFile(t *testing.T) {
	_, err := BuildTree([]Entry{{Name: "a/b.txt"}, {Name: "a/"}, {Name: "a/b.txt"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptContainer))
}

func TestOpenZipCorrupt(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.zip")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err := OpenZip(empty)
	assert.True(t, errors.Is(err, ErrCorruptContainer))

	garbage := filepath.Join(dir, "garbage.zip")
	require.NoError(t, os.WriteFile(garbage, []byte("not a zip file at all"), 0o600))
	_, err = OpenZip(garbage)
	assert.True(t, errors.Is(err, ErrCorruptContainer))

	_, err = OpenZip(filepath.Join(dir, "missing.zip"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenTarGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "012345678901/", Typeflag: tar.TypeDir, Mode: 0o755}))
	body := []byte("Subject ID,Gender\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "012345678901/AdditionalData/datasheet_012345678901.csv", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	p := filepath.Join(t.TempDir(), "012345678901_2010-05-12_10:11:12.0.tar.gz")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))

	c, err := Open(p)
	require.NoError(t, err)
	files, err := ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, string(body), string(files["012345678901/AdditionalData/datasheet_012345678901.csv"]))

	tree, err := BuildTree(c.Entries())
	require.NoError(t, err)
	assert.Contains(t, tree.Dirs["012345678901"].Dirs, "AdditionalData")
}

func TestExtractRefusesEscapes(t *testing.T) {
	c := NewMemoryContainer("mem", map[string][]byte{
		"ok/file.txt": []byte("x"),
		"../evil.txt": []byte("y"),
	})
	dir := t.TempDir()

	p, err := Extract(c, "ok/file.txt", dir)
	require.NoError(t, err)
	content, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "x", string(content))

	_, err = Extract(c, "../evil.txt", dir)
	assert.True(t, errors.Is(err, ErrCorruptContainer))
}

func TestTreePrint(t *testing.T) {
	tree, err := BuildTree([]Entry{
		{Name: "S/AdditionalData/Scanning/mid.csv"},
		{Name: "S/ImageData/IM1"},
		{Name: "S/readme.txt"},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	tree.Print(&buf)
	want := strings.Join([]string{
		"└── S",
		"    ├── AdditionalData",
		"    │   └── Scanning",
		"    │       └── mid.csv",
		"    ├── ImageData",
		"    │   └── IM1",
		"    └── readme.txt",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestParseDataset(t *testing.T) {
	ds, ok := ParseDataset("/quarantine/1234_data_012345678901FU3_mri.zip")
	require.True(t, ok)
	assert.Equal(t, "012345678901", ds.Code)
	assert.Equal(t, "FU3", ds.Timepoint)
	assert.Equal(t, int64(1234), ds.Version)

	first, ok := ParseDataset("1234_data_012345678901FU3a1b2c3.zip")
	require.True(t, ok)
	assert.Equal(t, "012345678901", first.Code)
	assert.Equal(t, "FU3", first.Timepoint, "portal tag discarded")
	second, ok := ParseDataset("1240_data_012345678901fu3d4e5f6.zip")
	require.True(t, ok)
	assert.Equal(t, "FU3", second.Timepoint)
	assert.True(t, second.Newer(first))

	ds, ok = ParseDataset("77_data_site_012345678901SB.zip")
	require.True(t, ok)
	assert.Equal(t, "012345678901", ds.Code)
	assert.Equal(t, "SB", ds.Timepoint)

	ds, ok = ParseDataset("012345678901_2010-05-12_10:11:12.0")
	require.True(t, ok)
	assert.Equal(t, time.Date(2010, time.May, 12, 10, 11, 12, 0, time.UTC), ds.Timestamp)

	ds, ok = ParseDataset("012345678901FU2.zip")
	require.True(t, ok)
	assert.Equal(t, "FU2", ds.Timepoint)

	_, ok = ParseDataset("notes.zip")
	assert.False(t, ok)

	older := Dataset{Version: 3}
	newer := Dataset{Version: 4}
	assert.True(t, newer.Newer(older))
	assert.False(t, older.Newer(newer))
	assert.True(t, Dataset{Timestamp: time.Unix(10, 0)}.Newer(Dataset{Timestamp: time.Unix(5, 0)}))
}
