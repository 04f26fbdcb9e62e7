// Package gateweb serves a small per-gate HTTP(S) control panel: GET
// returns the gate's current state as HTML or JSON (content-negotiated),
// and POST flips the gate open (timed, with an optional name hint) or
// closed.
package gateweb

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tamwuff/scan2blob/internal/debug"
	"github.com/tamwuff/scan2blob/internal/errors"
	"github.com/tamwuff/scan2blob/internal/gate"
	"github.com/tamwuff/scan2blob/internal/httpaccept"
	"github.com/tamwuff/scan2blob/internal/httpbasicauth"
	"github.com/tamwuff/scan2blob/internal/pwhash"
)

// maxBodyBytes caps how much of a request body this handler will read,
// since it only ever expects a short form-urlencoded or JSON payload.
const maxBodyBytes = 10000

// Config carries the construction-time parameters of a Listener.
type Config struct {
	ListenOn         []string
	CertificateChain []byte
	PrivateKey       []byte
	Users            map[string]string // username -> scrypt password hash
	Gate             *gate.Gate
	GateName         string
}

// Listener serves the gate web UI over TLS on one or more addresses.
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
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handle)

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{l.tlsCert}}

	errc := make(chan error, len(l.cfg.ListenOn))
	for _, addr := range l.cfg.ListenOn {
		srv := &http.Server{Addr: addr, Handler: mux, TLSConfig: tlsCfg}
		debug.Log("gateweb: listening on %v", addr)
		go func(srv *http.Server) {
			errc <- srv.ListenAndServeTLS("", "")
		}(srv)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return errors.Wrap(err, "gateweb listener exited")
	}
}

func (l *Listener) checkAuth(r *http.Request) bool {
	user, pass, ok := httpbasicauth.Parse(r.Header.Get("Authorization"))
	if !ok {
		return false
	}
	hash, ok := l.cfg.Users[user]
	if !ok {
		return false
	}
	match, err := pwhash.Verify(hash, pass)
	return err == nil && match
}

// appArgs is the parsed request action: Open=true to open the gate (timed,
// with NameHint), Open=false to close it.
type appArgs struct {
	Open     bool
	NameHint string
}

func parseCgiOpen(s string) (bool, error) {
	switch s {
	case "Locked":
		return false, nil
	case "Unlocked":
		return true, nil
	default:
		return false, errors.Errorf("invalid \"open\" value %q", s)
	}
}

func parseFormArgs(values url.Values) (*appArgs, error) {
	open, err := parseCgiOpen(values.Get("open"))
	if err != nil {
		return nil, err
	}
	return &appArgs{Open: open, NameHint: strings.TrimSpace(values.Get("name_hint"))}, nil
}

func parseJSONArgs(body []byte) (*appArgs, error) {
	var raw struct {
		Open     bool    `json:"open"`
		NameHint *string `json:"name_hint"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	args := &appArgs{Open: raw.Open}
	if raw.NameHint != nil {
		args.NameHint = strings.TrimSpace(*raw.NameHint)
	}
	return args, nil
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	if !l.checkAuth(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="scan2blob"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))

	var args *appArgs
	var argsErr error
	needRedirect := false

	switch {
	case strings.HasPrefix(r.Header.Get("Content-Type"), "application/json"):
		args, argsErr = parseJSONArgs(body)
	case strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded"):
		values, err := url.ParseQuery(string(body))
		if err != nil {
			argsErr = err
			break
		}
		args, argsErr = parseFormArgs(values)
	default:
		if r.URL.RawQuery != "" {
			values, err := url.ParseQuery(r.URL.RawQuery)
			if err != nil {
				argsErr = err
			} else {
				args, argsErr = parseFormArgs(values)
			}
			needRedirect = true
		}
	}

	if r.URL.Path != "" && r.URL.Path != "/" {
		needRedirect = true
	}
	if r.Method == http.MethodPost {
		needRedirect = true
	}

	if args != nil {
		if args.Open {
			l.cfg.Gate.AssertOpenTimedWithHint(args.NameHint)
		} else {
			l.cfg.Gate.AssertClosed()
		}
	}

	ext := l.cfg.Gate.CurrentStateExtended()

	var errMsg string
	if argsErr != nil {
		errMsg = argsErr.Error()
	}

	var nextChangeTime int64
	var hasNextChangeTime bool
	if ext.ResidualValid {
		nextChangeTime = time.Now().Add(ext.Residual).Unix()
		hasNextChangeTime = true
	}

	isBrowser := httpaccept.AcceptsHTML(r.Header.Get("Accept"))
	status := http.StatusOK
	if errMsg != "" {
		status = http.StatusBadRequest
	}

	w.Header().Set("Cache-Control", "no-store")

	if !isBrowser {
		writeJSON(w, status, ext, errMsg, nextChangeTime, hasNextChangeTime)
		return
	}

	if needRedirect {
		if errMsg != "" {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(status)
			io.WriteString(w, errMsg)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Location", calculateRedirect(r))
		w.WriteHeader(http.StatusSeeOther)
		io.WriteString(w, renderHTML(l.cfg.GateName, ext, "", nextChangeTime, hasNextChangeTime))
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	io.WriteString(w, renderHTML(l.cfg.GateName, ext, errMsg, nextChangeTime, hasNextChangeTime))
}

func calculateRedirect(r *http.Request) string {
	host := r.Header.Get("Host")
	if host == "" {
		return "/"
	}
	return "https://" + host + "/"
}

func writeJSON(w http.ResponseWriter, status int, ext gate.ExtendedState, errMsg string, nextChangeTime int64, hasNextChangeTime bool) {
	resp := struct {
		Error          *string `json:"error"`
		Open           bool    `json:"open"`
		NameHint       *string `json:"name_hint"`
		NextChangeTime *int64  `json:"next_change_time"`
	}{
		Open: ext.Open,
	}
	if errMsg != "" {
		resp.Error = &errMsg
	}
	if ext.HasHint {
		resp.NameHint = &ext.Hint
	}
	if hasNextChangeTime {
		resp.NextChangeTime = &nextChangeTime
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(resp)
}

func renderHTML(gateName string, ext gate.ExtendedState, errMsg string, nextChangeTime int64, hasNextChangeTime bool) string {
	var b strings.Builder

	b.WriteString("<html><head><title>")
	b.WriteString(html.EscapeString(gateName))
	b.WriteString("</title></head><body><h1>")
	b.WriteString(html.EscapeString(gateName))
	b.WriteString("</h1>")

	if errMsg != "" {
		b.WriteString(`<p style="color:red;"><strong>Error: `)
		b.WriteString(html.EscapeString(errMsg))
		b.WriteString("</strong></p><hr/>")
	}

	b.WriteString(`<form method="post" action="/"><table><tr>`)
	b.WriteString(`<td colspan="2">Current status: `)
	if ext.Open {
		b.WriteString("unlocked")
	} else {
		b.WriteString("locked")
	}
	if hasNextChangeTime {
		initialMins := (nextChangeTime - time.Now().Unix())
		if initialMins < 0 {
			initialMins = 0
		}
		b.WriteString(` (valid for next <span id="next_change_time">`)
		b.WriteString(strconv.FormatInt((initialMins+30)/60, 10))
		b.WriteString(`</span> minutes)`)
	}
	b.WriteString(`</td></tr><tr><td colspan="2">Name hint: `)
	b.WriteString(`<input type="text" size="32" name="name_hint" value="`)
	if ext.HasHint {
		b.WriteString(html.EscapeString(ext.Hint))
	}
	b.WriteString(`"/><br></td></tr><tr><td align="left">`)
	b.WriteString(`<input type="submit" name="open" value="Locked"/>`)
	b.WriteString(`</td><td align="right">`)
	b.WriteString(`<input type="submit" name="open" value="Unlocked"/>`)
	b.WriteString(`</td></tr></table></form>`)

	if hasNextChangeTime {
		b.WriteString("<script>")
		b.WriteString("setInterval(updateNextChangeTime, 10000);\n")
		b.WriteString("function updateNextChangeTime() {\n")
		b.WriteString("const now = Date.now() / 1000;\n")
		b.WriteString("const next_change_time = Math.max(0, " + strconv.FormatInt(nextChangeTime, 10) + " - now);\n")
		b.WriteString("const elem = document.getElementById(\"next_change_time\");\n")
		b.WriteString("elem.textContent = Math.round(next_change_time / 60).toString()\n")
		b.WriteString("}</script>")
	}

	b.WriteString("</body></html>")
	return b.String()
}
