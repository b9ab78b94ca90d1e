// Package store — хранилища упорядоченных коллекций (лоты, снапшоты, вехи).
package store

import (
	"context"
	"sync"
)

// Store хранит коллекцию записей целиком с сохранением порядка вставки.
type Store[T any] interface {
	Load(ctx context.Context) ([]T, error)
	Save(ctx context.Context, items []T) error
}

// Memory — хранилище в памяти, для dry-run без диска и тестов.
type Memory[T any] struct {
	mu    sync.Mutex
	items []T
}

func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{}
}

func (m *Memory[T]) Load(_ context.Context) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]T, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *Memory[T]) Save(_ context.Context, items []T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make([]T, len(items))
	copy(m.items, items)
	return nil
}
