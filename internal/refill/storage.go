package refill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Archive keeps raw copies of messages that failed to parse
type Archive interface {
	// Save stores a raw message and returns the name it was stored under
	Save(name string, raw []byte) (string, error)

	// Get retrieves an archived message
	Get(name string) ([]byte, error)

	// Delete removes an archived message
	Delete(name string) error
}

// DirArchive implements Archive as .eml files in a directory
type DirArchive struct {
	dir string
}

// NewDirArchive creates a DirArchive, creating dir if it doesn't exist
func NewDirArchive(dir string) (*DirArchive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &DirArchive{dir: dir}, nil
}

// path keeps every name inside the archive directory
func (a *DirArchive) path(name string) (string, error) {
	clean := filepath.Base(filepath.Clean(name))
	if clean == "." || clean == string(filepath.Separator) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid archive name: %q", name)
	}
	return filepath.Join(a.dir, clean), nil
}

// Save writes raw to <name>.eml
func (a *DirArchive) Save(name string, raw []byte) (string, error) {
	if !strings.HasSuffix(name, ".eml") {
		name += ".eml"
	}
	p, err := a.path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, raw, 0600); err != nil {
		return "", fmt.Errorf("writing archived message: %w", err)
	}
	return filepath.Base(p), nil
}

// Get reads an archived message
func (a *DirArchive) Get(name string) ([]byte, error) {
	p, err := a.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading archived message: %w", err)
	}
	return data, nil
}

// Delete removes an archived message
func (a *DirArchive) Delete(name string) error {
	p, err := a.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("deleting archived message: %w", err)
	}
	return nil
}
