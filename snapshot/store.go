package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrNotFound = errors.New("snapshot: object not found")
	ErrExists   = errors.New("snapshot: object already exists")
)

// ObjectStore is the storage a snapshot is written to. Paths are slash
// separated.
type ObjectStore interface {
	// Put stores data at path. With failIfExists set an existing object is
	// left untouched and ErrExists returned.
	Put(ctx context.Context, path string, data []byte, failIfExists bool) error
	// Get returns the object at path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
}

// MemStore is an ObjectStore held in process memory.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ ObjectStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (s *MemStore) Put(_ context.Context, path string, data []byte, failIfExists bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; ok && failIfExists {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	s.objects[path] = append([]byte(nil), data...)
	return nil
}

func (s *MemStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

// DirStore is an ObjectStore rooted at a local directory.
type DirStore struct {
	Root string
}

var _ ObjectStore = DirStore{}

func NewDirStore(root string) DirStore {
	return DirStore{Root: root}
}

func (s DirStore) filename(path string) string {
	return filepath.Join(s.Root, filepath.FromSlash(path))
}

func (s DirStore) Put(_ context.Context, path string, data []byte, failIfExists bool) error {
	name := s.filename(path)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	if failIfExists {
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		if err != nil {
			return err
		}
		if _, err = f.Write(data); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	// Replace through a rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}

func (s DirStore) Get(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(s.filename(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}
