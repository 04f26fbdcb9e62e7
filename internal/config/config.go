// Package config parses the daemon's JSON configuration file: the
// destination table, the listener table (SFTP and WebDAV), and the MIME
// override table.
package config

import (
	"encoding/json"
	"os"

	"github.com/tamwuff/scan2blob/internal/errors"
)

// Sas is a SAS token, given either as a literal string or as the name of an
// environment variable to resolve it from at load time. It unmarshals from
// either a bare JSON string or an object {"env": "VAR_NAME"}.
type Sas struct {
	literal string
	env     string
	isEnv   bool
}

func (s *Sas) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		*s = Sas{literal: literal}
		return nil
	}

	var obj struct {
		Env string `json:"env"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "Sas: not a string or {\"env\":...} object")
	}
	if obj.Env == "" {
		return errors.New("Sas: \"env\" must not be empty")
	}
	*s = Sas{env: obj.Env, isEnv: true}
	return nil
}

// Get resolves the SAS token: the literal value, or the named environment
// variable's value.
func (s Sas) Get() (string, error) {
	if !s.isEnv {
		return s.literal, nil
	}
	v, ok := os.LookupEnv(s.env)
	if !ok {
		return "", errors.Errorf("%s: environment variable not found", s.env)
	}
	return v, nil
}

// LiteralOrFile is a string value given either directly in the config file
// or as the path to a file to read it from. It unmarshals from either a
// bare JSON string or an object {"file": "path"}.
type LiteralOrFile struct {
	literal  string
	filePath string
	isFile   bool
}

func (l *LiteralOrFile) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		*l = LiteralOrFile{literal: literal}
		return nil
	}

	var obj struct {
		File string `json:"file"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "LiteralOrFile: not a string or {\"file\":...} object")
	}
	if obj.File == "" {
		return errors.New("LiteralOrFile: \"file\" must not be empty")
	}
	*l = LiteralOrFile{filePath: obj.File, isFile: true}
	return nil
}

// Get resolves the value: the literal string, or the contents of the named
// file.
func (l LiteralOrFile) Get() (string, error) {
	if !l.isFile {
		return l.literal, nil
	}
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return "", errors.Wrap(err, "LiteralOrFile: reading "+l.filePath)
	}
	return string(data), nil
}

// Destination is one entry of the "destinations" map: an Azure Blob Storage
// container plus a blob-naming prefix and chunking/concurrency policy.
type Destination struct {
	StorageAccount string `json:"storage_account"`
	Container      string `json:"container"`
	SAS            Sas    `json:"sas"`
	Prefix         string `json:"prefix"`

	// InitialChunkSize and MaxChunkSize bound the chunker's doubling
	// buffer size; zero means the destination package's own defaults
	// (65536 / 4194304).
	InitialChunkSize int `json:"initial_chunk_size"`
	MaxChunkSize     int `json:"max_chunk_size"`

	// MaxConcurrentUploads bounds in-flight StageBlock calls for this
	// destination; zero means unbounded.
	MaxConcurrentUploads uint `json:"max_concurrent_uploads"`
}

// GateWebUI configures an optional per-gate HTTP(S) control panel, secured
// by its own HTTP Basic Auth credential.
type GateWebUI struct {
	Username     string        `json:"username"`
	PasswordHash LiteralOrFile `json:"password_hash"`
	ListenOn     []string      `json:"listen_on"`
}

// GateConfig configures the admission Gate owned by one authorized key or
// WebDAV user: its default state, assertion lifetimes, and optional web UI.
type GateConfig struct {
	DefaultOpen            bool       `json:"default_open"`
	TimedAssertionLifetime int        `json:"timed_assertion_lifetime"`
	NameHintLifetime       int        `json:"name_hint_lifetime"`
	WebUI                  *GateWebUI `json:"web_ui"`
}

// ListenerSftpAuthorizedKey maps one authorized SSH public key to the
// destination it may upload to, and the gate guarding that upload.
type ListenerSftpAuthorizedKey struct {
	PublicKey   string     `json:"public_key"`
	Destination string     `json:"destination"`
	Gate        GateConfig `json:"gate"`
}

// ListenerSftp configures one SFTP front end.
type ListenerSftp struct {
	ListenOn       []string                    `json:"listen_on"`
	HostKey        LiteralOrFile               `json:"host_key"`
	AuthorizedKeys []ListenerSftpAuthorizedKey `json:"authorized_keys"`
}

// ListenerWebdavUser maps one HTTP Basic Auth principal to its password
// hash, the destination it may upload to, and the gate guarding that
// upload.
type ListenerWebdavUser struct {
	PasswordHash string     `json:"password_hash"`
	Destination  string     `json:"destination"`
	Gate         GateConfig `json:"gate"`
}

// ListenerWebdav configures one WebDAV-over-TLS front end.
type ListenerWebdav struct {
	ListenOn         []string                      `json:"listen_on"`
	CertificateChain LiteralOrFile                 `json:"certificate_chain"`
	PrivateKey       LiteralOrFile                 `json:"private_key"`
	Users            map[string]ListenerWebdavUser `json:"users"`
	WebUI            bool                          `json:"web_ui"`
}

// Listener is one entry of the "listeners" list, discriminated by "type".
type Listener struct {
	Type   string          `json:"type"`
	Sftp   *ListenerSftp   `json:"-"`
	Webdav *ListenerWebdav `json:"-"`
}

func (l *Listener) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return errors.Wrap(err, "listener: missing \"type\"")
	}

	switch tag.Type {
	case "sftp":
		var cfg ListenerSftp
		if err := json.Unmarshal(data, &cfg); err != nil {
			return errors.Wrap(err, "listener: sftp")
		}
		*l = Listener{Type: "sftp", Sftp: &cfg}
	case "webdav":
		var cfg ListenerWebdav
		if err := json.Unmarshal(data, &cfg); err != nil {
			return errors.Wrap(err, "listener: webdav")
		}
		*l = Listener{Type: "webdav", Webdav: &cfg}
	default:
		return errors.Errorf("listener: unknown type %q", tag.Type)
	}
	return nil
}

// MimeOverride is one entry of the "mime_types" override table.
type MimeOverride struct {
	Suffix      string `json:"override_suffix"`
	ContentType string `json:"content_type"`
}

// Config is the daemon's top-level configuration.
type Config struct {
	Destinations map[string]Destination  `json:"destinations"`
	Listeners    []Listener              `json:"listeners"`
	MimeTypes    map[string]MimeOverride `json:"mime_types"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	return &cfg, nil
}
