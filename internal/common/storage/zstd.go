package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

const zstdContentType = "application/zstd"

// CompressedStore writes zstd compressed blobs into one bucket.
type CompressedStore struct {
	objects ObjectStorage
	bucket  string
	level   zstd.EncoderLevel
}

func NewCompressedStore(objects ObjectStorage, bucket string) *CompressedStore {
	return &CompressedStore{objects: objects, bucket: bucket, level: zstd.SpeedDefault}
}

// Put compresses data and stores it under key, replacing any previous object.
func (s *CompressedStore) Put(ctx context.Context, key string, data []byte) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(s.level))
	if err != nil {
		return fmt.Errorf("create zstd writer failed: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return fmt.Errorf("zstd compress failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("zstd compress failed: %w", err)
	}
	return s.objects.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()), zstdContentType)
}

// Get reads and decompresses the object at key.
func (s *CompressedStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.objects.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	dec, err := zstd.NewReader(obj)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader failed: %w", err)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed: %w", err)
	}
	return data, nil
}

// DeletePrefix removes every object under prefix. An empty prefix is refused.
func (s *CompressedStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.New("prefix is required")
	}
	var keys []string
	for obj := range s.objects.ListObjects(ctx, s.bucket, prefix) {
		if obj.Err != nil {
			return 0, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	if err := s.objects.RemoveObjects(ctx, s.bucket, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
