// Command scan2blob is the daemon: it reads a JSON configuration file
// describing destinations, gates and listeners, then serves SFTP and/or
// WebDAV front ends that stream admitted uploads into Azure Blob Storage.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/tamwuff/scan2blob/internal/config"
	"github.com/tamwuff/scan2blob/internal/debug"
	"github.com/tamwuff/scan2blob/internal/destination"
	"github.com/tamwuff/scan2blob/internal/errors"
	"github.com/tamwuff/scan2blob/internal/gate"
	"github.com/tamwuff/scan2blob/internal/gateweb"
	sftplistener "github.com/tamwuff/scan2blob/internal/listener/sftp"
	webdavlistener "github.com/tamwuff/scan2blob/internal/listener/webdav"
	"github.com/tamwuff/scan2blob/internal/mimetypes"
	"github.com/tamwuff/scan2blob/internal/pidfile"
	"github.com/tamwuff/scan2blob/internal/supervisor"
)

const defaultConfigFile = "/usr/local/etc/scan2blob.json"

const (
	defaultTimedAssertionLifetime = 3600 // seconds
	defaultNameHintLifetime       = 600  // seconds
)

// buildGate constructs the per-principal Gate described by gc, applying the
// documented defaults for any lifetime left unset.
func buildGate(gc config.GateConfig) *gate.Gate {
	timed := gc.TimedAssertionLifetime
	if timed <= 0 {
		timed = defaultTimedAssertionLifetime
	}
	hint := gc.NameHintLifetime
	if hint <= 0 {
		hint = defaultNameHintLifetime
	}
	return gate.New(gate.Config{
		DefaultOpen:            gc.DefaultOpen,
		TimedAssertionLifetime: time.Duration(timed) * time.Second,
		NameHintLifetime:       time.Duration(hint) * time.Second,
	})
}

// spawnGateWebUI starts the optional control panel for one principal's
// gate, reusing the owning listener's TLS certificate/key.
func spawnGateWebUI(sup *supervisor.Supervisor, label string, g *gate.Gate, webUI *config.GateWebUI, certChain, privateKey []byte) error {
	if webUI == nil {
		return nil
	}
	passwordHash, err := webUI.PasswordHash.Get()
	if err != nil {
		return errors.Wrapf(err, "gate web_ui %q", label)
	}
	listener, err := gateweb.New(gateweb.Config{
		ListenOn:         webUI.ListenOn,
		CertificateChain: certChain,
		PrivateKey:       privateKey,
		Users:            map[string]string{webUI.Username: passwordHash},
		Gate:             g,
		GateName:         label,
	})
	if err != nil {
		return errors.Wrapf(err, "gate web_ui %q", label)
	}
	sup.SpawnCritical("gateweb-"+label, listener.Start)
	return nil
}

var opts struct {
	ConfigFile string
	PIDFile    string
}

var cmdRoot = &cobra.Command{
	Use:           "scan2blob",
	Short:         "Stream scanner uploads (SFTP/WebDAV) into Azure Blob Storage",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func init() {
	fs := cmdRoot.Flags()
	fs.StringVarP(&opts.ConfigFile, "configuration", "c", defaultConfigFile, "path to the configuration file")
	fs.StringVar(&opts.PIDFile, "pidfile", "", "optional path to write a PID file to")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}

	var pf *pidfile.PIDFile
	if opts.PIDFile != "" {
		pf, err = pidfile.Write(opts.PIDFile)
		if err != nil {
			return err
		}
		defer pf.Remove()
	}

	mime := mimetypes.New(mergeMimeOverrides(cfg.MimeTypes))

	destinations := make(map[string]*destination.Destination, len(cfg.Destinations))
	for name, d := range cfg.Destinations {
		sas, err := d.SAS.Get()
		if err != nil {
			return errors.Wrapf(err, "destination %q", name)
		}
		dest, err := destination.New(destination.Config{
			StorageAccount:       d.StorageAccount,
			Container:            d.Container,
			SAS:                  sas,
			Prefix:               d.Prefix,
			InitialChunkSize:     d.InitialChunkSize,
			MaxChunkSize:         d.MaxChunkSize,
			MaxConcurrentUploads: d.MaxConcurrentUploads,
		})
		if err != nil {
			return errors.Wrapf(err, "destination %q", name)
		}
		destinations[name] = dest
	}

	sup := supervisor.New()
	ctx := context.Background()

	for i, l := range cfg.Listeners {
		switch l.Type {
		case "sftp":
			listener, err := buildSftpListener(sup, i, l.Sftp, destinations, mime)
			if err != nil {
				return errors.Wrapf(err, "listener %d (sftp)", i)
			}
			sup.SpawnCritical(fmt.Sprintf("sftp-listener-%d", i), listener.Start)
		case "webdav":
			listener, err := buildWebdavListener(sup, i, l.Webdav, destinations, mime)
			if err != nil {
				return errors.Wrapf(err, "listener %d (webdav)", i)
			}
			sup.SpawnCritical(fmt.Sprintf("webdav-listener-%d", i), listener.Start)
		default:
			return errors.Errorf("listener %d: unknown type %q", i, l.Type)
		}
	}

	code := sup.Wait(ctx)
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

func mergeMimeOverrides(overrides map[string]config.MimeOverride) map[string]mimetypes.RawEntry {
	raw := mimetypes.DefaultTable()
	for ext, o := range overrides {
		raw[ext] = mimetypes.RawEntry{OverrideSuffix: o.Suffix, ContentType: o.ContentType}
	}
	return raw
}

func buildSftpListener(sup *supervisor.Supervisor, idx int, cfg *config.ListenerSftp, destinations map[string]*destination.Destination, mime *mimetypes.Table) (*sftplistener.Listener, error) {
	hostKey, err := cfg.HostKey.Get()
	if err != nil {
		return nil, errors.Wrap(err, "host_key")
	}

	authorizedKeys := make(map[string]sftplistener.Principal, len(cfg.AuthorizedKeys))
	for _, ak := range cfg.AuthorizedKeys {
		dest, ok := destinations[ak.Destination]
		if !ok {
			return nil, errors.Errorf("authorized_keys: unknown destination %q", ak.Destination)
		}
		if ak.Gate.WebUI != nil {
			// The SFTP front end has no TLS certificate of its own to serve
			// an HTTPS control panel with; gate web UIs are only available
			// on WebDAV users.
			debug.Log("sftp listener %d: ignoring gate web_ui for authorized key (no TLS material available)", idx)
		}
		pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(ak.PublicKey))
		if err != nil {
			return nil, errors.Wrapf(err, "authorized_keys: public key for destination %q", ak.Destination)
		}
		authorizedKeys[string(pk.Marshal())] = sftplistener.Principal{
			Destination: dest,
			Gate:        buildGate(ak.Gate),
		}
	}

	return sftplistener.New(sftplistener.Config{
		ListenOn:       cfg.ListenOn,
		HostKey:        []byte(hostKey),
		AuthorizedKeys: authorizedKeys,
		Mime:           mime,
	})
}

func buildWebdavListener(sup *supervisor.Supervisor, idx int, cfg *config.ListenerWebdav, destinations map[string]*destination.Destination, mime *mimetypes.Table) (*webdavlistener.Listener, error) {
	certChain, err := cfg.CertificateChain.Get()
	if err != nil {
		return nil, errors.Wrap(err, "certificate_chain")
	}
	privateKey, err := cfg.PrivateKey.Get()
	if err != nil {
		return nil, errors.Wrap(err, "private_key")
	}

	users := make(map[string]webdavlistener.Principal, len(cfg.Users))
	for name, u := range cfg.Users {
		dest, ok := destinations[u.Destination]
		if !ok {
			return nil, errors.Errorf("users: unknown destination %q", u.Destination)
		}
		g := buildGate(u.Gate)
		users[name] = webdavlistener.Principal{
			PasswordHash: u.PasswordHash,
			Destination:  dest,
			Gate:         g,
		}
		if err := spawnGateWebUI(sup, fmt.Sprintf("webdav-listener-%d-%s", idx, name), g, u.Gate.WebUI, []byte(certChain), []byte(privateKey)); err != nil {
			return nil, err
		}
	}

	return webdavlistener.New(webdavlistener.Config{
		ListenOn:         cfg.ListenOn,
		CertificateChain: []byte(certChain),
		PrivateKey:       []byte(privateKey),
		Users:            users,
		Mime:             mime,
	})
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scan2blob: %v\n", err)
		os.Exit(1)
	}
}
