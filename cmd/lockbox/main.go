package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lockbox/internal/bundle"
	"lockbox/internal/client"

	"github.com/klauspost/compress/flate"
	"github.com/spf13/pflag"
)

const usage = `usage: lockbox <command> [flags] [args]

commands:
  upload <path>...        upload a file, or several paths zipped together
  download <id>           download an upload to a file
  info <id>               show upload metadata
  delete <id>             delete an upload with its delete key
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("no command given")
	}

	switch args[0] {
	case "upload":
		return runUpload(ctx, args[1:], stdout)
	case "download":
		return runDownload(ctx, args[1:], stdout)
	case "info":
		return runInfo(ctx, args[1:], stdout)
	case "delete":
		return runDelete(ctx, args[1:], stdout)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet("lockbox "+name, pflag.ContinueOnError)
	server := flags.String("server", envOr("LOCKBOX_SERVER", "http://localhost:8080"), "server URL (env LOCKBOX_SERVER)")
	return flags, server
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runUpload(ctx context.Context, args []string, stdout io.Writer) error {
	flags, server := newFlagSet("upload")
	encrypt := flags.Bool("encrypt", false, "encrypt the upload on the server")
	expiryHours := flags.Int32("expiry-hours", 0, "expire after this many hours")
	expiryDownloads := flags.Int32("expiry-downloads", 0, "expire after this many downloads")
	name := flags.String("name", "", "file name to record (defaults to the file or archive name)")
	level := flags.Int("level", flate.DefaultCompression, "deflate level for zipped uploads (-1 to 9)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	opts := client.UploadOptions{Encrypt: *encrypt}
	if flags.Changed("expiry-hours") {
		opts.ExpiryHours = expiryHours
	}
	if flags.Changed("expiry-downloads") {
		opts.ExpiryDownloads = expiryDownloads
	}
	if opts.ExpiryHours != nil && opts.ExpiryDownloads != nil {
		return errors.New("--expiry-hours and --expiry-downloads are mutually exclusive")
	}

	paths, err := bundle.ParseArgs(flags.Args())
	if err != nil {
		return err
	}
	tree, err := bundle.BuildTree(paths, time.Now())
	if err != nil {
		return fmt.Errorf("failed to collect files: %w", err)
	}

	body, err := tree.Open(ctx, *level)
	if err != nil {
		return err
	}
	defer body.Close()

	fileName := tree.UploadName()
	if *name != "" {
		fileName = *name
	}

	c, err := client.New(*server, nil)
	if err != nil {
		return err
	}
	res, err := c.Upload(ctx, fileName, body, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "✓ Uploaded %s (%d bytes before compression)\n", fileName, tree.Size())
	fmt.Fprintf(stdout, "id:         %s\n", res.ID)
	if res.DecryptionKey != nil {
		fmt.Fprintf(stdout, "key:        %s\n", *res.DecryptionKey)
	}
	fmt.Fprintf(stdout, "delete key: %s\n", res.DeleteKey)
	return nil
}

func runDownload(ctx context.Context, args []string, stdout io.Writer) error {
	flags, server := newFlagSet("download")
	key := flags.String("key", "", "decryption key for encrypted uploads")
	output := flags.StringP("output", "o", "", "output path (defaults to the uploaded file name)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := singleID(flags)
	if err != nil {
		return err
	}

	c, err := client.New(*server, nil)
	if err != nil {
		return err
	}
	dl, err := c.Download(ctx, id, *key)
	if err != nil {
		return err
	}
	defer dl.Body.Close()

	path := *output
	if path == "" {
		// Never let the server pick a directory.
		path = filepath.Base(dl.FileName)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	n, err := io.Copy(f, dl.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("download interrupted: %w", err)
	}

	fmt.Fprintf(stdout, "✓ Saved %s (%d bytes)\n", path, n)
	return nil
}

func runInfo(ctx context.Context, args []string, stdout io.Writer) error {
	flags, server := newFlagSet("info")
	key := flags.String("key", "", "decryption key for encrypted uploads")
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := singleID(flags)
	if err != nil {
		return err
	}

	c, err := client.New(*server, nil)
	if err != nil {
		return err
	}
	info, err := c.Info(ctx, id, *key)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "name:      %s\n", info.FileName)
	fmt.Fprintf(stdout, "bytes:     %d\n", info.Bytes)
	fmt.Fprintf(stdout, "downloads: %d\n", info.Downloads)
	return nil
}

func runDelete(ctx context.Context, args []string, stdout io.Writer) error {
	flags, server := newFlagSet("delete")
	key := flags.String("key", "", "delete key returned by upload")
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := singleID(flags)
	if err != nil {
		return err
	}
	if *key == "" {
		return errors.New("--key is required")
	}

	c, err := client.New(*server, nil)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, id, *key); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "✓ Deleted %s\n", id)
	return nil
}

func singleID(flags *pflag.FlagSet) (string, error) {
	if flags.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one upload id, got %d arguments", flags.NArg())
	}
	return flags.Arg(0), nil
}
