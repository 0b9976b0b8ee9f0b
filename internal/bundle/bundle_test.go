package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func setupTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return p
}

func setupNestedTestDir(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "project")
	setupTestFile(t, root, "README.md", "# project")
	setupTestFile(t, root, "src/main.go", "package main")
	setupTestFile(t, root, "src/util/util.go", "package util")
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return root
}

// readZip returns the archive's entries mapped to their contents.
func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		out[f.Name] = string(b)
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestParseArgs(t *testing.T) {
	dir := t.TempDir()
	file := setupTestFile(t, dir, "a.txt", "a")

	t.Run("file and directory", func(t *testing.T) {
		parsed, err := ParseArgs([]string{file, dir + "/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(parsed) != 2 {
			t.Fatalf("expected 2 paths, got %d", len(parsed))
		}
		if parsed[0].Kind != PathFile || parsed[1].Kind != PathDir {
			t.Errorf("unexpected kinds: %+v", parsed)
		}
		if parsed[1].FullPath != filepath.Clean(dir) {
			t.Errorf("expected cleaned path, got %q", parsed[1].FullPath)
		}
	})

	tests := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"missing path", []string{filepath.Join(dir, "nope")}},
		{"duplicate", []string{file, file}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestBuildTreeSingleFile(t *testing.T) {
	file := setupTestFile(t, t.TempDir(), "notes.txt", "hello")
	parsed, err := ParseArgs([]string{file})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tree, err := BuildTree(parsed, fixedNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	f, ok := tree.SingleFile()
	if !ok {
		t.Fatal("expected a single-file tree")
	}
	if f.Size() != 5 || tree.Size() != 5 {
		t.Errorf("expected size 5, got %d/%d", f.Size(), tree.Size())
	}
	if tree.UploadName() != "notes.txt" {
		t.Errorf("expected file name to be kept, got %q", tree.UploadName())
	}

	rc, err := tree.Open(context.Background(), flate.DefaultCompression)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "hello" {
		t.Errorf("single files are sent unarchived, got %q", got)
	}
}

func TestBuildTreeDirectory(t *testing.T) {
	root := setupNestedTestDir(t)
	parsed, err := ParseArgs([]string{root})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tree, err := BuildTree(parsed, fixedNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := tree.SingleFile(); ok {
		t.Fatal("directory tree reported as single file")
	}
	if tree.UploadName() != "project.zip" {
		t.Errorf("unexpected upload name %q", tree.UploadName())
	}
	if n := len(tree.Files()); n != 3 {
		t.Errorf("expected 3 files, got %d", n)
	}
	want := int64(len("# project") + len("package main") + len("package util"))
	if tree.Size() != want {
		t.Errorf("expected size %d, got %d", want, tree.Size())
	}

	var buf bytes.Buffer
	if err := tree.WriteZip(context.Background(), &buf, flate.BestSpeed); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	entries := readZip(t, buf.Bytes())

	expected := map[string]string{
		"project/README.md":        "# project",
		"project/src/main.go":      "package main",
		"project/src/util/util.go": "package util",
		"project/empty/":           "",
	}
	if strings.Join(keys(entries), ",") != strings.Join(keys(expected), ",") {
		t.Fatalf("unexpected entries: %v", keys(entries))
	}
	for name, content := range expected {
		if entries[name] != content {
			t.Errorf("entry %s: expected %q, got %q", name, content, entries[name])
		}
	}
}

func TestBuildTreeMultipleRoots(t *testing.T) {
	dir := t.TempDir()
	a := setupTestFile(t, dir, "a.txt", "alpha")
	b := setupTestFile(t, dir, "sub/b.txt", "beta")

	parsed, err := ParseArgs([]string{a, filepath.Dir(b)})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tree, err := BuildTree(parsed, fixedNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if tree.UploadName() != "lockbox_2026_03_04_050607.zip" {
		t.Errorf("unexpected upload name %q", tree.UploadName())
	}

	rc, err := tree.Open(context.Background(), flate.DefaultCompression)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}

	entries := readZip(t, data)
	if entries["a.txt"] != "alpha" || entries["sub/b.txt"] != "beta" {
		t.Errorf("virtual root should not appear in entry names: %v", keys(entries))
	}
}

func TestWriteZipHonorsCancellation(t *testing.T) {
	root := setupNestedTestDir(t)
	parsed, _ := ParseArgs([]string{root})
	tree, err := BuildTree(parsed, fixedNow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tree.WriteZip(ctx, io.Discard, flate.DefaultCompression); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
