package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in           string
		wantEndpoint string
		wantSecure   bool
		wantErr      bool
	}{
		{"minio:9000", "minio:9000", false, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://s3.example.com", "s3.example.com", true, false},
		{"http://minio:9000/", "minio:9000", false, false},
		{"  minio:9000  ", "minio:9000", false, false},
		{"http://minio:9000/bucket", "", false, true},
		{"http://", "", false, true},
		{"", "", false, true},
	}

	for _, tt := range tests {
		ep, secure, err := normaliseEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("expected error for input %q", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tt.in, err)
		}
		if ep != tt.wantEndpoint || secure != tt.wantSecure {
			t.Fatalf("normaliseEndpoint(%q) = (%q,%v), want (%q,%v)", tt.in, ep, secure, tt.wantEndpoint, tt.wantSecure)
		}
	}
}

func TestNewS3StoreRequiresConfig(t *testing.T) {
	if _, err := NewS3Store(S3Config{Endpoint: "minio:9000", Bucket: "b"}); err == nil {
		t.Error("expected error for missing credentials")
	}
}

// pipeConsumer reads the object stream the way PutObject does and reports
// whether it reached a clean EOF.
func pipeConsumer(pr *io.PipeReader, done chan<- error, committed *bool) {
	_, err := io.ReadAll(pr)
	*committed = err == nil
	done <- err
}

func TestObjectWriterClose(t *testing.T) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	var committed bool
	go pipeConsumer(pr, done, &committed)

	w := &objectWriter{pw: pw, done: done, uploadID: "abc"}
	if _, err := w.Write([]byte("complete")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !committed {
		t.Error("expected a clean close to commit the object")
	}
}

func TestObjectWriterAbortDoesNotCommit(t *testing.T) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	var committed bool
	go pipeConsumer(pr, done, &committed)

	w := &objectWriter{pw: pw, done: done, uploadID: "abc"}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("write: %v", err)
	}

	cause := errors.New("client went away")
	err := Abort(w, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected abort error to wrap cause, got %v", err)
	}
	if committed {
		t.Error("an abandoned object must not be committed")
	}
	if again := w.Close(); !errors.Is(again, cause) {
		t.Errorf("expected Close after abort to report the same error, got %v", again)
	}
}

func TestAbortFallsBackToClose(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "obj"))
	if err != nil {
		t.Fatal(err)
	}
	if err := Abort(f, errors.New("boom")); err != nil {
		t.Fatalf("expected plain close, got %v", err)
	}
	if err := f.Close(); err == nil {
		t.Error("expected the file to be closed already")
	}
}
