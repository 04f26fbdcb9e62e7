package pidfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan2blob.pid")

	pf, err := Write(path)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Errorf("pidfile is empty")
	}

	if err := pf.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("pidfile still exists after Remove")
	}
}

func TestWriteRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan2blob.pid")

	pf, err := Write(path)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	defer pf.Remove()

	if _, err := Write(path); err == nil {
		t.Errorf("expected error writing pidfile a second time")
	}
}

func TestRemoveOnNilIsNoop(t *testing.T) {
	var pf *PIDFile
	if err := pf.Remove(); err != nil {
		t.Errorf("Remove on nil: %v", err)
	}
}
