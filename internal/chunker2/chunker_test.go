package chunker2

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"testing"
)

func digestHex(r *Reader) string {
	d := r.Digest()
	return hex.EncodeToString(d[:])
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func drainAll(t *testing.T, ctx context.Context, w *Writer, data []byte, writeSize int) error {
	t.Helper()
	for len(data) > 0 {
		n := writeSize
		if n > len(data) {
			n = len(data)
		}
		if _, err := w.Write(ctx, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func collectChunks(t *testing.T, ctx context.Context, r *Reader) ([]string, error) {
	t.Helper()
	var chunks []string
	for {
		data, eof, err := r.NextChunk(ctx)
		if err != nil {
			return chunks, err
		}
		if eof {
			return chunks, nil
		}
		chunks = append(chunks, string(data))
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Scenario 1: zero-byte upload.
func TestZeroByteUpload(t *testing.T) {
	ctx := context.Background()
	w, r := New(64, 64, 10)
	defer w.Close()
	defer r.Close()

	writeErrCh := make(chan error, 1)
	go func() { writeErrCh <- w.Finalize(ctx) }()

	data, eof, err := r.NextChunk(ctx)
	if err != nil {
		t.Fatalf("next chunk: %v", err)
	}
	if !eof {
		t.Fatalf("expected eof, got chunk %q", data)
	}
	if got := digestHex(r); got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("digest = %s, want d41d8cd98f00b204e9800998ecf8427e", got)
	}
	if err := r.Finalize(ctx); err != nil {
		t.Fatalf("reader finalize: %v", err)
	}
	if err := <-writeErrCh; err != nil {
		t.Fatalf("writer finalize: %v", err)
	}
}

func TestFinalizeTwicePanics(t *testing.T) {
	ctx := context.Background()
	w, r := New(64, 64, 10)
	defer w.Close()
	defer r.Close()

	go func() { _ = w.Finalize(ctx) }()
	if _, _, err := r.NextChunk(ctx); err != nil {
		t.Fatalf("next chunk: %v", err)
	}
	if err := r.Finalize(ctx); err != nil {
		t.Fatalf("reader finalize: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic calling Finalize twice")
		}
	}()
	_ = r.Finalize(ctx)
}

// Scenario 2: "Hello, world!" with initial=1, max=4, cap=10, one big write.
func TestHelloWorldAdaptiveSizing(t *testing.T) {
	ctx := context.Background()
	w, r := New(1, 4, 10)
	defer w.Close()
	defer r.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := w.Write(ctx, []byte("Hello, world!"))
		if err == nil {
			err = w.Finalize(ctx)
		}
		errCh <- err
	}()

	chunks, err := collectChunks(t, ctx, r)
	if err != nil {
		t.Fatalf("collect chunks: %v", err)
	}
	want := []string{"H", "el", "lo, ", "worl", "d!"}
	if !equalStrings(chunks, want) {
		t.Fatalf("chunks = %#v, want %#v", chunks, want)
	}
	wantDigest := md5Hex("Hello, world!")
	if wantDigest != "6cd3556deb0da54bca060b4c39479839" {
		t.Fatalf("sanity: md5(%q) = %s", "Hello, world!", wantDigest)
	}
	if got := digestHex(r); got != wantDigest {
		t.Fatalf("digest = %s, want %s", got, wantDigest)
	}
	if err := r.Finalize(ctx); err != nil {
		t.Fatalf("reader finalize: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("writer goroutine: %v", err)
	}
}

// Scenario 3: short writes aggregate. initial=2, max=8, cap=10, 13 writes of
// 1 byte each of "Hello, world!".
func TestShortWritesAggregate(t *testing.T) {
	ctx := context.Background()
	w, r := New(2, 8, 10)
	defer w.Close()
	defer r.Close()

	errCh := make(chan error, 1)
	go func() {
		err := drainAll(t, ctx, w, []byte("Hello, world!"), 1)
		if err == nil {
			err = w.Finalize(ctx)
		}
		errCh <- err
	}()

	chunks, err := collectChunks(t, ctx, r)
	if err != nil {
		t.Fatalf("collect chunks: %v", err)
	}
	want := []string{"He", "llo,", " world!"}
	if !equalStrings(chunks, want) {
		t.Fatalf("chunks = %#v, want %#v", chunks, want)
	}
	if got := digestHex(r); got != md5Hex("Hello, world!") {
		t.Fatalf("digest mismatch")
	}
	if err := r.Finalize(ctx); err != nil {
		t.Fatalf("reader finalize: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("writer goroutine: %v", err)
	}
}

// Scenario 4: cap exceeded. initial=2, max=4, cap=3, writing 13 bytes.
func TestCapExceeded(t *testing.T) {
	ctx := context.Background()
	w, r := New(2, 4, 3)
	defer w.Close()
	defer r.Close()

	writeErrCh := make(chan error, 1)
	go func() {
		_, err := w.Write(ctx, []byte("Hello, world!"))
		writeErrCh <- err
	}()

	var readErr error
	for {
		_, eof, err := r.NextChunk(ctx)
		if err != nil {
			readErr = err
			break
		}
		if eof {
			t.Fatalf("did not expect clean eof")
		}
	}

	writeErr := <-writeErrCh
	if !errors.Is(writeErr, ErrFileTooLarge) {
		t.Fatalf("write error = %v, want ErrFileTooLarge", writeErr)
	}
	if !errors.Is(readErr, ErrFileTooLarge) {
		t.Fatalf("read error = %v, want ErrFileTooLarge", readErr)
	}
}

// Exactly max chunk count is ok.
func TestExactlyMaxChunkCountIsOK(t *testing.T) {
	ctx := context.Background()
	w, r := New(2, 4, 4)
	defer w.Close()
	defer r.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := w.Write(ctx, []byte("Hello, world!"))
		if err == nil {
			err = w.Finalize(ctx)
		}
		errCh <- err
	}()

	chunks, err := collectChunks(t, ctx, r)
	if err != nil {
		t.Fatalf("collect chunks: %v", err)
	}
	want := []string{"He", "llo,", " wor", "ld!"}
	if !equalStrings(chunks, want) {
		t.Fatalf("chunks = %#v, want %#v", chunks, want)
	}
	if err := r.Finalize(ctx); err != nil {
		t.Fatalf("reader finalize: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("writer: %v", err)
	}
}

// Writer drop before Finalize, after the Reader has drained all produced
// chunks, surfaces ErrUnexpectedEOF on the Reader's next call.
func TestWriterDropBeforeFinalizeAfterDrain(t *testing.T) {
	ctx := context.Background()
	w, r := New(2, 4, 4)
	defer r.Close()

	if _, err := w.Write(ctx, []byte("He")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, eof, err := r.NextChunk(ctx)
	if err != nil || eof || string(data) != "He" {
		t.Fatalf("next chunk = %q, %v, %v", data, eof, err)
	}

	w.Close()

	if _, _, err := r.NextChunk(ctx); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want ErrUnexpectedEOF", err)
	}
}

// Reader drop before observing Eof poisons the Writer's next call.
func TestReaderDropBeforeEof(t *testing.T) {
	ctx := context.Background()
	w, r := New(2, 4, 4)
	defer w.Close()

	r.Close() // dropped before any chunk observed

	if _, err := w.Write(ctx, []byte("Hello, world!")); !errors.Is(err, ErrReaderGone) {
		t.Fatalf("err = %v, want ErrReaderGone", err)
	}
}
