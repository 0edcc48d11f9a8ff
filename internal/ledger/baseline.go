package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BaselineStore holds the most recently confirmed mileage
type BaselineStore interface {
	// Load returns the current baseline, 0 if none was recorded yet
	Load(ctx context.Context) (int, error)

	// Save records a newly confirmed mileage
	Save(ctx context.Context, mileage int) error
}

// LedgerBaseline reads the baseline from the ledger's last row
type LedgerBaseline struct {
	ledger Writer
}

// NewLedgerBaseline creates a LedgerBaseline backed by ledger
func NewLedgerBaseline(ledger Writer) *LedgerBaseline {
	return &LedgerBaseline{ledger: ledger}
}

// Load implements BaselineStore
func (b *LedgerBaseline) Load(ctx context.Context) (int, error) {
	mileage, err := b.ledger.PreviousMileage(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading previous mileage from ledger: %w", err)
	}
	return mileage, nil
}

// Save is a no-op: the appended ledger row already records the mileage
func (b *LedgerBaseline) Save(ctx context.Context, mileage int) error {
	return nil
}

// FileBaseline keeps the baseline as a plain-text integer in a local file
type FileBaseline struct {
	path string
}

// NewFileBaseline creates a FileBaseline, creating its parent directory if needed
func NewFileBaseline(path string) (*FileBaseline, error) {
	if path == "" {
		return nil, fmt.Errorf("baseline file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating baseline directory: %w", err)
	}
	return &FileBaseline{path: path}, nil
}

// Load implements BaselineStore
func (b *FileBaseline) Load(ctx context.Context) (int, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading baseline file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	mileage, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("parsing baseline file: %w", err)
	}
	return mileage, nil
}

// Save implements BaselineStore. The file is replaced atomically.
func (b *FileBaseline) Save(ctx context.Context, mileage int) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".baseline-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.Itoa(mileage) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replacing baseline file: %w", err)
	}
	return nil
}
