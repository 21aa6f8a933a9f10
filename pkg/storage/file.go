package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/HatiCode/usagecast/pkg/series"
)

// FileStore writes each table as {Dir}/{name}.csv in the series file format. Writes go
// to a temporary file in the same directory and are renamed into place, so readers never
// observe a partial file.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Path returns the file that holds the named table.
func (f *FileStore) Path(name string) string {
	return filepath.Join(f.Dir, name+".csv")
}

func (f *FileStore) Put(ctx context.Context, table Table) error {
	if err := ValidateName(table.Name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.Dir, "."+table.Name+"-*.csv.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := series.WriteCSV(tmp, table.Records); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", table.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", table.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", table.Name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", table.Name, err)
	}

	if err := os.Rename(tmp.Name(), f.Path(table.Name)); err != nil {
		return fmt.Errorf("rename %s: %w", table.Name, err)
	}
	return nil
}

func (f *FileStore) Get(ctx context.Context, name string) (Table, bool, error) {
	if err := ValidateName(name); err != nil {
		return Table{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Table{}, false, err
	}

	path := f.Path(name)
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Table{}, false, nil
	}
	if err != nil {
		return Table{}, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Table{}, false, fmt.Errorf("stat %s: %w", path, err)
	}

	records, err := series.ReadCSV(file)
	if err != nil {
		return Table{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	return Table{Name: name, GeneratedAt: info.ModTime().UTC(), Records: records}, true, nil
}
