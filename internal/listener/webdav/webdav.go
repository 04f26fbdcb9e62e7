// Package webdav implements the WebDAV-over-TLS front end: HTTP Basic Auth
// maps each request to a destination/gate pair, and a write-only
// golang.org/x/net/webdav.FileSystem accepts PUT requests while reporting
// success (without effecting any change) for MKCOL/DELETE/MOVE, matching
// the quirky behavior scanners expect from a DAV share.
package webdav

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/webdav"

	"github.com/tamwuff/scan2blob/internal/debug"
	"github.com/tamwuff/scan2blob/internal/errors"
	"github.com/tamwuff/scan2blob/internal/gate"
	"github.com/tamwuff/scan2blob/internal/httpbasicauth"
	"github.com/tamwuff/scan2blob/internal/mimetypes"
	"github.com/tamwuff/scan2blob/internal/pwhash"
)

// Principal is what an authenticated HTTP Basic Auth user resolves to.
type Principal struct {
	PasswordHash string
	Destination  gate.FileWriter
	Gate         *gate.Gate
}

// Config carries the construction-time parameters of a Listener.
type Config struct {
	ListenOn         []string
	CertificateChain []byte // PEM-encoded certificate chain
	PrivateKey       []byte // PEM-encoded private key
	Users            map[string]Principal
	Mime             *mimetypes.Table
}

// Listener serves WebDAV over TLS on one or more addresses.
type Listener struct {
	cfg     Config
	tlsCert tls.Certificate
}

// New parses cfg's certificate/key pair.
func New(cfg Config) (*Listener, error) {
	cert, err := tls.X509KeyPair(cfg.CertificateChain, cfg.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "parsing TLS certificate/key pair")
	}
	return &Listener{cfg: cfg, tlsCert: cert}, nil
}

// Start runs an HTTPS server for every configured address, returning only
// when ctx is done or a listener fails.
func (l *Listener) Start(ctx context.Context) error {
	handler := &webdav.Handler{
		FileSystem: &guardedFileSystem{cfg: &l.cfg},
		LockSystem: webdav.NewMemLS(),
	}

	mux := http.NewServeMux()
	mux.Handle("/", l.authenticate(handler))

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{l.tlsCert}}

	errc := make(chan error, len(l.cfg.ListenOn))
	for _, addr := range l.cfg.ListenOn {
		srv := &http.Server{Addr: addr, Handler: mux, TLSConfig: tlsCfg}
		debug.Log("webdav: listening on %v", addr)
		go func(srv *http.Server) {
			errc <- srv.ListenAndServeTLS("", "")
		}(srv)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return errors.Wrap(err, "webdav listener exited")
	}
}

type principalContextKey struct{}
type contentLengthContextKey struct{}

func (l *Listener) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := httpbasicauth.Parse(r.Header.Get("Authorization"))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="scan2blob"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		principal, ok := l.cfg.Users[user]
		if !ok {
			debug.Log("webdav: unknown user %q", user)
			w.Header().Set("WWW-Authenticate", `Basic realm="scan2blob"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		match, err := pwhash.Verify(principal.PasswordHash, pass)
		if err != nil || !match {
			debug.Log("webdav: password mismatch for user %q", user)
			w.Header().Set("WWW-Authenticate", `Basic realm="scan2blob"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey{}, &principal)
		ctx = context.WithValue(ctx, contentLengthContextKey{}, r.ContentLength)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}

// expectedSizeFromContext returns the request's announced Content-Length,
// if any; http.Request.ContentLength is -1 when the client didn't send one
// (e.g. chunked transfer encoding), in which case no comparison is made.
func expectedSizeFromContext(ctx context.Context) (int64, bool) {
	n, ok := ctx.Value(contentLengthContextKey{}).(int64)
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}

// guardedFileSystem implements webdav.FileSystem. It holds only a reference
// to the immutable listener config (never to the handler or a per-request
// object), so it cannot form a reference cycle back to its owner.
type guardedFileSystem struct {
	cfg *Config
}

func (fs *guardedFileSystem) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return nil
}

func (fs *guardedFileSystem) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return nil, os.ErrPermission
	}

	principal, ok := principalFromContext(ctx)
	if !ok {
		return nil, os.ErrPermission
	}

	w, err := principal.Gate.TryWriteFile(name, fs.cfg.Mime, principal.Destination)
	if err != nil {
		return nil, errors.Wrap(err, "TryWriteFile")
	}
	if w == nil {
		return nil, os.ErrPermission
	}
	cw, ok := w.(chunkerWriter)
	if !ok {
		return nil, errors.New("webdav: destination writer does not support streaming writes")
	}

	pf := &putFile{w: cw}
	if size, ok := expectedSizeFromContext(ctx); ok {
		pf.expectedSize = &size
	}
	return pf, nil
}

func (fs *guardedFileSystem) RemoveAll(ctx context.Context, name string) error {
	return nil
}

func (fs *guardedFileSystem) Rename(ctx context.Context, oldName, newName string) error {
	return nil
}

func (fs *guardedFileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	return rootDirInfo{}, nil
}

// chunkerWriter is the subset of *internal/chunker2.Writer that putFile
// needs.
type chunkerWriter interface {
	Write(ctx context.Context, data []byte) (int, error)
	Finalize(ctx context.Context) error
	ObserveError(err error)
}

// putFile adapts a chunker2.Writer to webdav.File for the duration of a PUT
// request. Only sequential writing and a final Close are exercised by
// golang.org/x/net/webdav's PUT handling; Read/Seek/Readdir are refused.
type putFile struct {
	w            chunkerWriter
	off          int64
	expectedSize *int64
}

func (f *putFile) Write(p []byte) (int, error) {
	n, err := f.w.Write(context.Background(), p)
	f.off += int64(n)
	return n, err
}

// Close finalizes the upload, first checking the written byte count
// against the request's announced Content-Length (if any).
func (f *putFile) Close() error {
	if f.expectedSize != nil && f.off != *f.expectedSize {
		err := errors.Errorf("webdav: wrote %d bytes, expected %d", f.off, *f.expectedSize)
		f.w.ObserveError(err)
		return err
	}
	return f.w.Finalize(context.Background())
}

func (f *putFile) Read([]byte) (int, error) {
	return 0, errors.New("webdav: read not supported")
}

func (f *putFile) Seek(offset int64, whence int) (int64, error) {
	return 0, errors.New("webdav: seek not supported")
}

func (f *putFile) Readdir(count int) ([]os.FileInfo, error) {
	return nil, errors.New("webdav: readdir not supported")
}

func (f *putFile) Stat() (os.FileInfo, error) {
	return fileInfo{size: f.off}, nil
}

type fileInfo struct {
	size int64
}

func (fi fileInfo) Name() string       { return "" }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() os.FileMode  { return 0600 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() interface{}   { return nil }

type rootDirInfo struct{}

func (rootDirInfo) Name() string       { return "/" }
func (rootDirInfo) Size() int64        { return 0 }
func (rootDirInfo) Mode() os.FileMode  { return os.ModeDir | 0700 }
func (rootDirInfo) ModTime() time.Time { return time.Time{} }
func (rootDirInfo) IsDir() bool        { return true }
func (rootDirInfo) Sys() interface{}   { return nil }
