package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStorage keeps objects in process. Used for local runs without MinIO and in tests.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func memoryKey(bucket, key string) string {
	return bucket + "/" + key
}

func (m *MemoryStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memoryKey(bucket, objectKey)] = data
	return nil
}

func (m *MemoryStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[memoryKey(bucket, objectKey)]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStorage) ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo {
	m.mu.Lock()
	var keys []string
	for k := range m.objects {
		key := strings.TrimPrefix(k, bucket+"/")
		if strings.HasPrefix(k, bucket+"/") && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()
	sort.Strings(keys)

	out := make(chan ObjectInfo, len(keys))
	for _, key := range keys {
		out <- ObjectInfo{Key: key}
	}
	close(out)
	return out
}

func (m *MemoryStorage) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, memoryKey(bucket, key))
	}
	return nil
}

// Len returns the number of stored objects across buckets.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
