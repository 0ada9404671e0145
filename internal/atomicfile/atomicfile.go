// Package atomicfile writes a file through a temporary sibling that is
// renamed over the destination on Commit.
package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

type AtomicFile interface {
	io.WriteCloser
	// Name returns the path of the temporary file.
	Name() string
	Commit() error
}

type atomicFile struct {
	name     string
	tempfile *os.File
}

// New creates a temporary file next to name. Close discards it, Commit
// moves it into place.
func New(name string) (AtomicFile, error) {
	tempfile, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp*")
	if err != nil {
		return nil, err
	}
	return &atomicFile{name: name, tempfile: tempfile}, nil
}

func (f *atomicFile) Name() string {
	if f.tempfile == nil {
		return ""
	}
	return f.tempfile.Name()
}

func (f *atomicFile) Write(d []byte) (int, error) {
	if f.tempfile == nil {
		return 0, os.ErrClosed
	}
	return f.tempfile.Write(d)
}

// Close removes the temporary file unless it was committed.
func (f *atomicFile) Close() error {
	if f.tempfile == nil {
		return nil
	}
	_ = f.tempfile.Close()
	err := os.Remove(f.tempfile.Name())
	f.tempfile = nil
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *atomicFile) Commit() error {
	if f.tempfile == nil {
		return errors.New("file is closed")
	}
	if err := f.tempfile.Chmod(0o644); err != nil {
		return errors.Join(err, f.Close())
	}
	if err := f.tempfile.Sync(); err != nil {
		return errors.Join(err, f.Close())
	}
	if err := f.tempfile.Close(); err != nil {
		_ = os.Remove(f.tempfile.Name())
		f.tempfile = nil
		return err
	}
	if err := os.Rename(f.tempfile.Name(), f.name); err != nil {
		_ = os.Remove(f.tempfile.Name())
		f.tempfile = nil
		return err
	}
	f.tempfile = nil
	return nil
}

// WriteFile writes data to name atomically.
func WriteFile(name string, data []byte) error {
	f, err := New(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Commit()
}
