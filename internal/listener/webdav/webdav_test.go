package webdav

import (
	"context"
	"os"
	"testing"

	"github.com/tamwuff/scan2blob/internal/gate"
	"github.com/tamwuff/scan2blob/internal/mimetypes"
)

type fakeWriter struct{}

func (fakeWriter) Write(ctx context.Context, data []byte) (int, error) { return len(data), nil }
func (fakeWriter) Finalize(ctx context.Context) error                  { return nil }
func (fakeWriter) ObserveError(error)                                  {}

type fakeDestination struct{}

func (fakeDestination) WriteFile(nameHint, suffix, contentType string) (gate.Writer, error) {
	return fakeWriter{}, nil
}

type recordingWriter struct {
	observedErr error
}

func (*recordingWriter) Write(ctx context.Context, data []byte) (int, error) { return len(data), nil }
func (*recordingWriter) Finalize(ctx context.Context) error                  { return nil }
func (w *recordingWriter) ObserveError(err error)                            { w.observedErr = err }

func TestGuardedFileSystemMkdirRemoveRenameAlwaysSucceed(t *testing.T) {
	fs := &guardedFileSystem{cfg: &Config{}}
	ctx := context.Background()

	if err := fs.Mkdir(ctx, "/whatever", 0700); err != nil {
		t.Errorf("Mkdir: %v", err)
	}
	if err := fs.RemoveAll(ctx, "/whatever"); err != nil {
		t.Errorf("RemoveAll: %v", err)
	}
	if err := fs.Rename(ctx, "/a", "/b"); err != nil {
		t.Errorf("Rename: %v", err)
	}
}

func TestGuardedFileSystemOpenFileRequiresPrincipal(t *testing.T) {
	fs := &guardedFileSystem{cfg: &Config{Mime: mimetypes.New(mimetypes.DefaultTable())}}

	_, err := fs.OpenFile(context.Background(), "scan.pdf", os.O_WRONLY|os.O_CREATE, 0600)
	if err != os.ErrPermission {
		t.Errorf("OpenFile without principal: got err %v, want os.ErrPermission", err)
	}
}

func TestGuardedFileSystemOpenFileAdmitsThroughOpenGate(t *testing.T) {
	g := gate.New(gate.Config{DefaultOpen: true})
	principal := &Principal{Destination: fakeDestination{}, Gate: g}

	fs := &guardedFileSystem{cfg: &Config{Mime: mimetypes.New(mimetypes.DefaultTable())}}
	ctx := context.WithValue(context.Background(), principalContextKey{}, principal)

	f, err := fs.OpenFile(ctx, "scan.pdf", os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	n, err := f.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Errorf("Write: n=%d err=%v", n, err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestPutFileCloseFinalizesWhenSizeMatchesContentLength(t *testing.T) {
	w := &recordingWriter{}
	size := int64(5)
	f := &putFile{w: w, expectedSize: &size}

	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if w.observedErr != nil {
		t.Errorf("ObserveError called unexpectedly: %v", w.observedErr)
	}
}

func TestPutFileCloseObservesErrorOnSizeMismatch(t *testing.T) {
	w := &recordingWriter{}
	size := int64(10)
	f := &putFile{w: w, expectedSize: &size}

	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err == nil {
		t.Error("Close: expected error on size mismatch, got nil")
	}
	if w.observedErr == nil {
		t.Error("Close: expected ObserveError to be called on size mismatch")
	}
}

func TestExpectedSizeFromContext(t *testing.T) {
	if _, ok := expectedSizeFromContext(context.Background()); ok {
		t.Error("expected no size with no value in context")
	}

	ctx := context.WithValue(context.Background(), contentLengthContextKey{}, int64(-1))
	if _, ok := expectedSizeFromContext(ctx); ok {
		t.Error("expected no size for unknown (-1) content length")
	}

	ctx = context.WithValue(context.Background(), contentLengthContextKey{}, int64(42))
	n, ok := expectedSizeFromContext(ctx)
	if !ok || n != 42 {
		t.Errorf("expectedSizeFromContext: got (%d, %v), want (42, true)", n, ok)
	}
}

func TestGuardedFileSystemOpenFileRefusedWhenGateClosed(t *testing.T) {
	g := gate.New(gate.Config{DefaultOpen: false})
	principal := &Principal{Destination: fakeDestination{}, Gate: g}

	fs := &guardedFileSystem{cfg: &Config{Mime: mimetypes.New(mimetypes.DefaultTable())}}
	ctx := context.WithValue(context.Background(), principalContextKey{}, principal)

	_, err := fs.OpenFile(ctx, "scan.pdf", os.O_WRONLY|os.O_CREATE, 0600)
	if err != os.ErrPermission {
		t.Errorf("OpenFile with closed gate: got err %v, want os.ErrPermission", err)
	}
}
