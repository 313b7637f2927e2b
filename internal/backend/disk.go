package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucko/bytebin/internal/content"
)

// Disk is a local-disk storage backend: one file per key in a flat
// directory, written atomically via temp-file-then-rename.
type Disk struct {
	id   string
	root string
}

// NewDisk creates a disk backend rooted at dir, identified by id.
func NewDisk(id, dir string) *Disk {
	return &Disk{id: id, root: dir}
}

// Init ensures the root directory exists.
func (d *Disk) Init(_ context.Context) error {
	return os.MkdirAll(d.root, 0o755)
}

func (d *Disk) ID() string { return d.id }

func (d *Disk) path(key string) string {
	return filepath.Join(d.root, key)
}

func (d *Disk) Load(_ context.Context, key string) (*content.Record, error) {
	f, err := os.Open(d.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	// Unreadable/truncated files surface as ErrCorrupt; the caller
	// (coordinator) treats that the same as an expired record and deletes it.
	rec, err := readRecord(f, key, false)
	if err != nil {
		return nil, err
	}
	rec.BackendID = d.id
	return rec, nil
}

func (d *Disk) Save(_ context.Context, rec *content.Record) error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("backend/disk: creating root: %w", err)
	}

	dst := d.path(rec.Key)
	tmp, err := os.CreateTemp(d.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("backend/disk: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := writeRecord(tmp, rec); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("backend/disk: writing record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backend/disk: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backend/disk: renaming temp file: %w", err)
	}
	return nil
}

func (d *Disk) Delete(_ context.Context, key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Disk) List(_ context.Context, visit VisitFunc) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		key := entry.Name()
		rec, err := d.readMetaOnly(key)
		if err != nil {
			if visitErr := visit(nil, fmt.Errorf("backend/disk: %s: %w", key, err)); visitErr != nil {
				return visitErr
			}
			continue
		}
		rec.BackendID = d.id
		if err := visit(rec, nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *Disk) readMetaOnly(key string) (*content.Record, error) {
	f, err := os.Open(d.path(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readRecord(f, key, true)
}

func (d *Disk) ListKeys(ctx context.Context, visit func(key string) error) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		if err := visit(entry.Name()); err != nil {
			return err
		}
	}
	return nil
}
