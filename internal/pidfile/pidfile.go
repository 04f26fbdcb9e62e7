// Package pidfile writes and removes a PID file, refusing to start a
// second instance against the same path.
package pidfile

import (
	"fmt"
	"os"

	"github.com/tamwuff/scan2blob/internal/errors"
)

// PIDFile is a handle to a created PID file; call Remove when the daemon
// shuts down.
type PIDFile struct {
	path string
}

// Write creates the PID file at path, containing the current process's
// PID. It fails if the file already exists, refusing to start a second
// instance.
func Write(path string) (*PIDFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Errorf("pidfile %v already exists; is another instance running?", path)
		}
		return nil, errors.Wrap(err, "creating pidfile")
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, "writing pidfile")
	}

	return &PIDFile{path: path}, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing pidfile")
	}
	return nil
}
