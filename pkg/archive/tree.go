package archive

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Tree mirrors the directory structure of an archive. Path is the slash
// terminated location of the node inside the archive, empty at the root.
type Tree struct {
	Path  string
	Dirs  map[string]*Tree
	Files map[string]Entry
}

func newTree(p string) *Tree {
	return &Tree{Path: p, Dirs: make(map[string]*Tree), Files: make(map[string]Entry)}
}

// BuildTree arranges archive entries into a tree. Two file entries with
// the same name mean the container is corrupt.
func BuildTree(entries []Entry) (*Tree, error) {
	root := newTree("")
	for _, e := range entries {
		if err := root.add(e); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func (t *Tree) add(e Entry) error {
	node := t
	name := strings.TrimSuffix(e.Name, "/")
	if name == "" {
		return nil
	}
	parts := strings.Split(name, "/")
	if !e.Dir {
		parts = parts[:len(parts)-1]
	}
	dirname := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		dirname += part + "/"
		child, ok := node.Dirs[part]
		if !ok {
			child = newTree(dirname)
			node.Dirs[part] = child
		}
		node = child
	}
	if e.Dir {
		return nil
	}
	base := e.Base()
	if _, dup := node.Files[base]; dup {
		return fmt.Errorf("%w: duplicate file entry %s", ErrCorruptContainer, e.Name)
	}
	node.Files[base] = e
	return nil
}

// DirNames returns child directory names in sorted order.
func (t *Tree) DirNames() []string {
	names := make([]string, 0, len(t.Dirs))
	for name := range t.Dirs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileNames returns file names of this node in sorted order.
func (t *Tree) FileNames() []string {
	names := make([]string, 0, len(t.Files))
	for name := range t.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Walk visits every file below the node, this node's files first, then
// each subdirectory in name order.
func (t *Tree) Walk(fn func(Entry)) {
	for _, name := range t.FileNames() {
		fn(t.Files[name])
	}
	for _, name := range t.DirNames() {
		t.Dirs[name].Walk(fn)
	}
}

// AllFiles lists every file below the node in Walk order.
func (t *Tree) AllFiles() []Entry {
	var out []Entry
	t.Walk(func(e Entry) { out = append(out, e) })
	return out
}

// Print draws the tree the way the `tree` command does.
func (t *Tree) Print(w io.Writer) {
	t.printChildren(w, "")
}

func (t *Tree) printChildren(w io.Writer, indent string) {
	dirs := t.DirNames()
	files := t.FileNames()
	total := len(dirs) + len(files)
	i := 0
	for _, name := range dirs {
		i++
		last := i == total
		fmt.Fprintln(w, indent+branch(last)+name)
		t.Dirs[name].printChildren(w, indent+continuation(last))
	}
	for _, name := range files {
		i++
		fmt.Fprintln(w, indent+branch(i == total)+name)
	}
}

func branch(last bool) string {
	if last {
		return "└── "
	}
	return "├── "
}

func continuation(last bool) string {
	if last {
		return "    "
	}
	return "│   "
}
