package refstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/anishathalye/git-remote-dropbox/internal/blobstore"
)

// memStore is a minimal in-memory blobstore.Store for exercising
// refstore's CAS logic without a network-backed binding.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	rev  map[string]int
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, rev: map[string]int{}}
}

func (m *memStore) Get(_ context.Context, path string) ([]byte, blobstore.Rev, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[path]
	if !ok {
		return nil, "", blobstore.ErrNotFound
	}
	return data, revString(m.rev[path]), nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]blobstore.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []blobstore.Entry
	for path := range m.data {
		if strings.HasPrefix(path, prefix) {
			entries = append(entries, blobstore.Entry{Path: path, Rev: revString(m.rev[path])})
		}
	}
	return entries, nil
}

func (m *memStore) PutCreate(_ context.Context, path string, data []byte) (blobstore.Rev, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[path]; ok {
		return "", blobstore.ErrAlreadyExists
	}
	m.data[path] = data
	m.rev[path] = 1
	return revString(1), nil
}

func (m *memStore) PutUpdate(_ context.Context, path string, data []byte, expected blobstore.Rev) (blobstore.Rev, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rev[path]
	if !ok || revString(cur) != expected {
		return "", blobstore.ErrRevMismatch
	}
	m.data[path] = data
	m.rev[path] = cur + 1
	return revString(cur + 1), nil
}

func (m *memStore) PutOverwrite(_ context.Context, path string, data []byte) (blobstore.Rev, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.rev[path] + 1
	m.data[path] = data
	m.rev[path] = next
	return revString(next), nil
}

func (m *memStore) Delete(_ context.Context, path string, expected blobstore.Rev) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rev[path]
	if !ok {
		return blobstore.ErrNotFound
	}
	if revString(cur) != expected {
		return blobstore.ErrRevMismatch
	}
	delete(m.data, path)
	delete(m.rev, path)
	return nil
}

func revString(n int) blobstore.Rev { return blobstore.Rev(fmt.Sprintf("rev-%s", strconv.Itoa(n))) }

var _ blobstore.Store = (*memStore)(nil)
