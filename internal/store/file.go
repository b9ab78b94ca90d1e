package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// JSONFile — коллекция в одном JSON-файле, запись через tmp + rename.
type JSONFile[T any] struct {
	path string
	mu   sync.Mutex
}

func NewJSONFile[T any](path string) *JSONFile[T] {
	return &JSONFile[T]{path: path}
}

func (f *JSONFile[T]) Load(_ context.Context) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", f.path)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var items []T
	if err := sonic.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrapf(err, "decode %s", f.path)
	}
	return items, nil
}

func (f *JSONFile[T]) Save(_ context.Context, items []T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if items == nil {
		items = []T{}
	}
	data, err := sonic.ConfigStd.MarshalIndent(items, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode")
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrap(err, "create dir")
	}

	tmp := f.path + ".tmp"
	fh, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "open tmp")
	}
	if _, err := fh.Write(data); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "write tmp")
	}
	if err := fh.Sync(); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "sync tmp")
	}
	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "close tmp")
	}
	return errors.Wrap(os.Rename(tmp, f.path), "rename")
}
