package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

var ErrCorruptContainer = errors.New("corrupt archive container")

// Entry describes one member of an archive.
type Entry struct {
	Name string
	Size int64
	Dir  bool
}

// Base returns the last path element of the entry.
func (e Entry) Base() string {
	return path.Base(strings.TrimSuffix(e.Name, "/"))
}

// Container gives read access to archive members by name.
type Container interface {
	Name() string
	Entries() []Entry
	Open(name string) (io.ReadCloser, error)
	Close() error
}

// Open picks a reader from the file extension.
func Open(p string) (Container, error) {
	lower := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lower, ".tar"), strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return OpenTar(p)
	default:
		return OpenZip(p)
	}
}

type ZipContainer struct {
	name    string
	closer  io.Closer
	entries []Entry
	files   map[string]*zip.File
}

// OpenZip opens a ZIP file. Empty or unreadable files are reported as
// ErrCorruptContainer.
func OpenZip(p string) (*ZipContainer, error) {
	name := filepath.Base(p)
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: ZIP file is empty", ErrCorruptContainer)
	}
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read ZIP file: %v", ErrCorruptContainer, err)
	}
	return newZipContainer(name, &rc.Reader, rc), nil
}

// NewZipReader reads a ZIP held in memory, such as one nested in another
// archive.
func NewZipReader(name string, data []byte) (*ZipContainer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: ZIP file is empty", ErrCorruptContainer)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read ZIP file: %v", ErrCorruptContainer, err)
	}
	return newZipContainer(name, zr, nil), nil
}

func newZipContainer(name string, zr *zip.Reader, closer io.Closer) *ZipContainer {
	c := &ZipContainer{name: name, closer: closer, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		entryName := normalizeName(f.Name)
		c.entries = append(c.entries, Entry{
			Name: entryName,
			Size: int64(f.UncompressedSize64),
			Dir:  strings.HasSuffix(entryName, "/"),
		})
		if _, dup := c.files[entryName]; !dup {
			c.files[entryName] = f
		}
	}
	return c
}

func (c *ZipContainer) Name() string {
	return c.name
}

func (c *ZipContainer) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

func (c *ZipContainer) Open(name string) (io.ReadCloser, error) {
	f, ok := c.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return f.Open()
}

func (c *ZipContainer) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// MemoryContainer holds every member in memory. Tarballs are small
// per-subject exports so this is fine.
type MemoryContainer struct {
	name    string
	entries []Entry
	data    map[string][]byte
}

// OpenTar reads a plain or gzip-compressed tarball.
func OpenTar(p string) (*MemoryContainer, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptContainer, err)
		}
		defer gz.Close()
		r = gz
	}

	c := &MemoryContainer{name: filepath.Base(p), data: make(map[string][]byte)}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptContainer, err)
		}
		name := normalizeName(hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if !strings.HasSuffix(name, "/") {
				name += "/"
			}
			c.entries = append(c.entries, Entry{Name: name, Dir: true})
		case tar.TypeReg:
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptContainer, err)
			}
			c.entries = append(c.entries, Entry{Name: name, Size: int64(len(content))})
			if _, dup := c.data[name]; !dup {
				c.data[name] = content
			}
		}
	}
	if len(c.entries) == 0 {
		return nil, fmt.Errorf("%w: archive is empty", ErrCorruptContainer)
	}
	return c, nil
}

// NewMemoryContainer wraps a name to bytes mapping.
func NewMemoryContainer(name string, files map[string][]byte) *MemoryContainer {
	c := &MemoryContainer{name: name, data: make(map[string][]byte, len(files))}
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c.entries = append(c.entries, Entry{Name: n, Size: int64(len(files[n]))})
		c.data[n] = files[n]
	}
	return c
}

func (c *MemoryContainer) Name() string {
	return c.name
}

func (c *MemoryContainer) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

func (c *MemoryContainer) Open(name string) (io.ReadCloser, error) {
	content, ok := c.data[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (c *MemoryContainer) Close() error {
	return nil
}

// ReadAll returns the name to bytes view of every file member.
func ReadAll(c Container) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, e := range c.Entries() {
		if e.Dir {
			continue
		}
		content, err := ReadFile(c, e.Name)
		if err != nil {
			return nil, err
		}
		out[e.Name] = content
	}
	return out, nil
}

func ReadFile(c Container, name string) ([]byte, error) {
	rc, err := c.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Extract writes one member below dir and returns the written path. Names
// escaping dir are refused.
func Extract(c Container, name, dir string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: entry %q escapes extraction directory", ErrCorruptContainer, name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return "", err
	}

	rc, err := c.Open(name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return "", err
	}
	return target, out.Close()
}

func normalizeName(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "./")
}
