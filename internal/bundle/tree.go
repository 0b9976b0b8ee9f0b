package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Node interface {
	Path() string
	Name() string
}

type File struct {
	path string
	name string
	size int64
}

type Dir struct {
	path     string
	name     string
	children []Node
	virtual  bool
}

func (f *File) Path() string { return f.path }
func (f *File) Name() string { return f.name }

// Size is the file size recorded when the tree was built.
func (f *File) Size() int64 { return f.size }

func (d *Dir) Path() string { return d.path }
func (d *Dir) Name() string { return d.name }

func (d *Dir) Children() []Node { return d.children }

// Tree is the set of files selected for one upload.
type Tree struct {
	Root Node
}

// BuildTree walks the parsed paths. Several roots are grouped under a
// virtual directory named after now.
func BuildTree(paths []ParsedPath, now time.Time) (*Tree, error) {
	var rootNodes []Node

	for _, parsedPath := range paths {
		if parsedPath.Kind == PathDir {
			dirNode, err := buildDirTree(parsedPath.FullPath)
			if err != nil {
				return nil, err
			}
			rootNodes = append(rootNodes, dirNode)
			continue
		}

		fileNode, err := newFile(parsedPath.FullPath, filepath.Base(parsedPath.FullPath))
		if err != nil {
			return nil, err
		}
		rootNodes = append(rootNodes, fileNode)
	}

	switch len(rootNodes) {
	case 0:
		return nil, fmt.Errorf("no valid paths provided")
	case 1:
		return &Tree{Root: rootNodes[0]}, nil
	default:
		name := fmt.Sprintf("lockbox_%s", now.Format("2006_01_02_150405"))
		return &Tree{Root: &Dir{path: name, name: name, children: rootNodes, virtual: true}}, nil
	}
}

func newFile(path, name string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return &File{path: path, name: name, size: info.Size()}, nil
}

func buildDirTree(dirPath string) (*Dir, error) {
	dir := &Dir{
		path:     dirPath,
		name:     filepath.Base(dirPath),
		children: []Node{},
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		childPath := filepath.Join(dirPath, entry.Name())

		switch {
		case entry.IsDir():
			childDir, err := buildDirTree(childPath)
			if err != nil {
				return nil, err
			}
			dir.children = append(dir.children, childDir)
		case entry.Type().IsRegular():
			childFile, err := newFile(childPath, entry.Name())
			if err != nil {
				return nil, err
			}
			dir.children = append(dir.children, childFile)
		}
		// Symlinks, sockets and devices are skipped.
	}

	return dir, nil
}

// Files returns every file in the tree in depth-first order.
func (t *Tree) Files() []*File {
	var files []*File
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *File:
			files = append(files, v)
		case *Dir:
			for _, child := range v.children {
				walk(child)
			}
		}
	}
	walk(t.Root)
	return files
}

// Size is the total uncompressed size of all files.
func (t *Tree) Size() int64 {
	var total int64
	for _, f := range t.Files() {
		total += f.size
	}
	return total
}

// SingleFile reports whether the tree is one plain file that can be sent
// without archiving.
func (t *Tree) SingleFile() (*File, bool) {
	f, ok := t.Root.(*File)
	return f, ok
}

// UploadName is the file name the server will record for this tree.
func (t *Tree) UploadName() string {
	if f, ok := t.SingleFile(); ok {
		return f.name
	}
	return t.Root.Name() + ".zip"
}
