package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// Backend is a filesystem implementation of the dataspace.ResourceStore interface.
// Resource IDs map to paths below BaseDir. Create uses O_EXCL, so concurrent
// writers on the same host (or a shared filesystem honoring O_EXCL) never
// overwrite each other.
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing resources
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: config.BaseDir}, nil
}

// Put writes the resource through a temporary file so readers never see a
// partial write.
func (b *Backend) Put(ctx context.Context, resource string, data []byte) error {
	path, err := b.path(resource)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// Create writes a new resource and fails with dataspace.ErrResourceExists if
// the path is taken.
func (b *Backend) Create(ctx context.Context, resource string, data []byte) error {
	path, err := b.path(resource)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return dataspace.ErrResourceExists
	}
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return file.Sync()
}

// Get reads a resource
func (b *Backend) Get(ctx context.Context, resource string) ([]byte, error) {
	path, err := b.path(resource)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, dataspace.ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// List walks the container directory. A missing container yields
// dataspace.ErrResourceNotFound. Temporary files are skipped.
func (b *Backend) List(ctx context.Context, container string) ([]string, error) {
	root, err := b.path(container)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, dataspace.ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", container, err)
	}
	return ids, nil
}

// Delete removes a resource
func (b *Backend) Delete(ctx context.Context, resource string) error {
	path, err := b.path(resource)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return dataspace.ErrResourceNotFound
	}
	return err
}

// path maps a resource ID to a file path, refusing IDs that escape baseDir.
func (b *Backend) path(resource string) (string, error) {
	clean := strings.Trim(resource, "/")
	for _, segment := range strings.Split(clean, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid resource id %q", resource)
		}
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(clean)), nil
}
