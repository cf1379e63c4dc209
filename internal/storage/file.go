package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/document"
	"github.com/xtxerr/cfgsync/internal/errors"
)

// FileExtension is the suffix of every configuration file.
const FileExtension = ".yml"

// FileStorage stores one YAML document per object.
//
// The default collection lives at the filesystem root; a named collection
// such as "language.fr" lives in the directory "language/fr".
type FileStorage struct {
	fs billy.Filesystem
}

// NewFileStorage creates a file store on an existing filesystem.
func NewFileStorage(fs billy.Filesystem) *FileStorage {
	return &FileStorage{fs: fs}
}

// NewDirStorage creates a file store rooted at dir on the local disk.
func NewDirStorage(dir string) *FileStorage {
	return NewFileStorage(osfs.New(dir))
}

// NewMemFileStorage creates a file store on an in-memory filesystem.
func NewMemFileStorage() *FileStorage {
	return NewFileStorage(memfs.New())
}

// Filesystem returns the underlying filesystem.
func (s *FileStorage) Filesystem() billy.Filesystem {
	return s.fs
}

// List implements Storage.
func (s *FileStorage) List(ctx context.Context, collection string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := s.fs.ReadDir(collectionDir(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.StorageError("list", collection, "", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), FileExtension))
	}
	sort.Strings(names)
	return names, nil
}

// Read implements Storage.
func (s *FileStorage) Read(ctx context.Context, collection, name string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := util.ReadFile(s.fs, filePath(collection, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.StorageError("read", collection, name, err)
	}

	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, errors.StorageError("decode", collection, name, err)
	}
	return data, nil
}

// Exists implements Storage.
func (s *FileStorage) Exists(ctx context.Context, collection, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := s.fs.Stat(filePath(collection, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.StorageError("stat", collection, name, err)
}

// Write implements Storage.
func (s *FileStorage) Write(ctx context.Context, collection, name string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := yaml.Marshal(document.Canonical(data))
	if err != nil {
		return errors.StorageError("encode", collection, name, err)
	}

	if dir := collectionDir(collection); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.StorageError("write", collection, name, err)
		}
	}

	if err := util.WriteFile(s.fs, filePath(collection, name), raw, 0o644); err != nil {
		return errors.StorageError("write", collection, name, err)
	}
	return nil
}

// Delete implements Storage.
func (s *FileStorage) Delete(ctx context.Context, collection, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.fs.Remove(filePath(collection, name)); err != nil && !os.IsNotExist(err) {
		return errors.StorageError("delete", collection, name, err)
	}
	return nil
}

// Collections implements Storage.
func (s *FileStorage) Collections(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.walkCollections(ctx, ".", &out); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStorage) walkCollections(ctx context.Context, dir string, out *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.StorageError("list collections", "", dir, err)
	}

	hasFiles := false
	for _, e := range entries {
		if e.IsDir() {
			if err := s.walkCollections(ctx, path.Join(dir, e.Name()), out); err != nil {
				return err
			}
			continue
		}
		if strings.HasSuffix(e.Name(), FileExtension) {
			hasFiles = true
		}
	}

	if hasFiles && dir != "." {
		*out = append(*out, strings.ReplaceAll(path.Clean(dir), "/", config.CollectionSeparator))
	}
	return nil
}

func collectionDir(collection string) string {
	if collection == config.DefaultCollection {
		return "."
	}
	return strings.ReplaceAll(collection, config.CollectionSeparator, "/")
}

func filePath(collection, name string) string {
	return path.Join(collectionDir(collection), name+FileExtension)
}

// String returns a description of the store for log output.
func (s *FileStorage) String() string {
	return fmt.Sprintf("file(%s)", s.fs.Root())
}
