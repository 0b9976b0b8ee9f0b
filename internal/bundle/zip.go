package bundle

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/klauspost/compress/flate"
)

// WriteZip streams the tree as a zip archive into w. Entries are deflated
// with level, a klauspost/compress/flate level (flate.DefaultCompression
// if unsure).
func (t *Tree) WriteZip(ctx context.Context, w io.Writer, level int) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	// A virtual root only groups the inputs and gets no directory of its own.
	base := ""
	if d, ok := t.Root.(*Dir); ok && d.virtual {
		for _, child := range d.children {
			if err := compressNode(ctx, zw, child, base); err != nil {
				zw.Close()
				return err
			}
		}
	} else if err := compressNode(ctx, zw, t.Root, base); err != nil {
		zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zip writer: %w", err)
	}
	return nil
}

func compressNode(ctx context.Context, zw *zip.Writer, node Node, basePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Zip entry names always use forward slashes.
	archivePath := path.Join(basePath, node.Name())

	switch n := node.(type) {
	case *File:
		return addFileToZip(zw, n.Path(), archivePath)
	case *Dir:
		if len(n.children) == 0 {
			_, err := zw.Create(archivePath + "/")
			return err
		}
		for _, child := range n.children {
			if err := compressNode(ctx, zw, child, archivePath); err != nil {
				return err
			}
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}

	return nil
}

// Open returns a reader over the upload stream for the tree: the file
// itself for a single file, otherwise a zip produced in the background.
func (t *Tree) Open(ctx context.Context, level int) (io.ReadCloser, error) {
	if f, ok := t.SingleFile(); ok {
		return os.Open(f.Path())
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(t.WriteZip(ctx, pw, level))
	}()
	return pr, nil
}
