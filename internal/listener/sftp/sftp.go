// Package sftp implements the SFTP front end: an SSH server that accepts
// public-key authentication only, maps the authenticated key to a
// destination/gate pair, and exposes a single write-only virtual directory
// through the sftp subsystem.
package sftp

import (
	"context"
	"io"
	"net"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tamwuff/scan2blob/internal/debug"
	"github.com/tamwuff/scan2blob/internal/errors"
	"github.com/tamwuff/scan2blob/internal/gate"
	"github.com/tamwuff/scan2blob/internal/mimetypes"
)

// Principal is what an authorized public key resolves to.
type Principal struct {
	Destination gate.FileWriter
	Gate        *gate.Gate
}

// Config carries the construction-time parameters of a Listener.
type Config struct {
	ListenOn []string
	// HostKey is a PEM-encoded private key in OpenSSH format.
	HostKey []byte
	// AuthorizedKeys is keyed by ssh.PublicKey.Marshal() of the client key.
	AuthorizedKeys map[string]Principal
	Mime           *mimetypes.Table
}

// Listener accepts SFTP connections on one or more addresses.
type Listener struct {
	cfg      Config
	hostKey  ssh.Signer
	sshCfg   *ssh.ServerConfig
}

// New parses cfg.HostKey and builds the SSH server configuration.
func New(cfg Config) (*Listener, error) {
	signer, err := ssh.ParsePrivateKey(cfg.HostKey)
	if err != nil {
		return nil, errors.Wrap(err, "parsing ssh host key")
	}

	l := &Listener{cfg: cfg, hostKey: signer}

	sshCfg := &ssh.ServerConfig{
		PublicKeyCallback: l.publicKeyCallback,
	}
	sshCfg.AddHostKey(signer)
	l.sshCfg = sshCfg

	return l, nil
}

const principalExtension = "scan2blob-principal-key"

func (l *Listener) publicKeyCallback(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	fingerprint := string(key.Marshal())
	if _, ok := l.cfg.AuthorizedKeys[fingerprint]; !ok {
		return nil, errors.New("unauthorized public key")
	}
	debug.Log("sftp: authorized public key for user %q", conn.User())
	return &ssh.Permissions{Extensions: map[string]string{principalExtension: fingerprint}}, nil
}

// Start runs the accept loops for every configured address, returning a
// listen error, or ctx.Err() once ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	for _, addr := range l.cfg.ListenOn {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "listening on %v", addr)
		}
		debug.Log("sftp: listening on %v", addr)
		go l.acceptLoop(ctx, ln)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			debug.Log("sftp: accept error: %v", err)
			return
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, nConn net.Conn) {
	defer nConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(nConn, l.sshCfg)
	if err != nil {
		debug.Log("sftp: handshake failed: %v", err)
		return
	}
	defer sshConn.Close()

	principal, ok := l.cfg.AuthorizedKeys[sshConn.Permissions.Extensions[principalExtension]]
	if !ok {
		debug.Log("sftp: connection authenticated but principal vanished from config")
		return
	}

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			debug.Log("sftp: could not accept channel: %v", err)
			continue
		}
		go l.handleSession(ctx, channel, requests, principal)
	}
}

func (l *Listener) handleSession(ctx context.Context, channel ssh.Channel, requests <-chan *ssh.Request, principal Principal) {
	defer channel.Close()

	var haveSubsystem bool

	for req := range requests {
		switch req.Type {
		case "subsystem":
			if string(req.Payload[4:]) == "sftp" {
				req.Reply(true, nil)
				haveSubsystem = true
				goto serve
			}
			req.Reply(false, nil)
		default:
			req.Reply(false, nil)
		}
	}

serve:
	if !haveSubsystem {
		return
	}

	handlers := sftp.Handlers{
		FileGet:  refusingHandler{},
		FilePut:  &putHandler{principal: principal, mime: l.cfg.Mime},
		FileCmd:  refusingHandler{},
		FileList: refusingHandler{},
	}

	server := sftp.NewRequestServer(channel, handlers)
	defer server.Close()

	if err := server.Serve(); err != nil && err != io.EOF {
		debug.Log("sftp: session error: %v", err)
	}
}

// putHandler implements sftp.FileWriter (PUT), admitting the write through
// the connection's gate and streaming it to the destination's chunker.
type putHandler struct {
	principal Principal
	mime      *mimetypes.Table
}

func (h *putHandler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	w, err := h.principal.Gate.TryWriteFile(r.Filepath, h.mime, h.principal.Destination)
	if err != nil {
		return nil, errors.Wrap(err, "TryWriteFile")
	}
	if w == nil {
		return nil, sftp.ErrSSHFxPermissionDenied
	}
	cw, ok := w.(chunkerWriterAt)
	if !ok {
		return nil, errors.New("sftp: destination writer does not support streaming writes")
	}

	adapter := &writerAtAdapter{w: cw}
	if r.AttrFlags().Size {
		size := int64(r.Attributes().Size)
		adapter.expectedSize = &size
	}
	return adapter, nil
}

// chunkerWriterAt is the subset of *internal/chunker2.Writer that the
// sftp.WriterAt adapter needs.
type chunkerWriterAt interface {
	Write(ctx context.Context, data []byte) (int, error)
	Finalize(ctx context.Context) error
	ObserveError(err error)
}

// writerAtAdapter presents a sequential chunker2.Writer as the io.WriterAt
// the sftp package's request server expects; sequential offset-ordered
// writes (the only pattern real SFTP clients doing a single PUT produce)
// are accepted, anything else is rejected. It also implements io.Closer:
// the request server calls Close on SSH_FXP_CLOSE, which is what drives
// Finalize (and with it, CommitBlockList) — without it an SFTP upload
// would stage blocks that are never committed.
type writerAtAdapter struct {
	w            chunkerWriterAt
	offset       int64
	expectedSize *int64
}

func (a *writerAtAdapter) WriteAt(p []byte, off int64) (int, error) {
	if off != a.offset {
		return 0, errors.Errorf("sftp: non-sequential write at offset %d, expected %d", off, a.offset)
	}
	n, err := a.w.Write(context.Background(), p)
	a.offset += int64(n)
	return n, err
}

// Close finalizes the upload, first checking the written byte count
// against the size the client announced when opening the file (if any).
func (a *writerAtAdapter) Close() error {
	if a.expectedSize != nil && a.offset != *a.expectedSize {
		err := errors.Errorf("sftp: wrote %d bytes, expected %d", a.offset, *a.expectedSize)
		a.w.ObserveError(err)
		return err
	}
	return a.w.Finalize(context.Background())
}

// refusingHandler implements sftp.FileReader, sftp.FileCmder and
// sftp.FileLister: reads, file commands and stats are refused, and a
// directory listing succeeds with no entries. This listener exposes a single
// write-only virtual directory and nothing else.
type refusingHandler struct{}

func (refusingHandler) Fileread(*sftp.Request) (io.ReaderAt, error) {
	return nil, sftp.ErrSSHFxOpUnsupported
}

func (refusingHandler) Filecmd(*sftp.Request) error {
	return sftp.ErrSSHFxOpUnsupported
}

func (refusingHandler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	switch r.Method {
	case "List":
		return emptyLister{}, nil
	case "Stat":
		return nil, sftp.ErrSSHFxOpUnsupported
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

type emptyLister struct{}

func (emptyLister) ListAt([]os.FileInfo, int64) (int, error) {
	return 0, io.EOF
}
