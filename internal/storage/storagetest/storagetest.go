// Package storagetest provides an in-process Storage for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"resourceapi/internal/storage"
)

type object struct {
	data []byte
	info storage.ObjectInfo
}

// Bucket is a map-backed storage.Storage. The zero value is not usable; call New.
type Bucket struct {
	mu      sync.RWMutex
	objects map[string]object
}

var _ storage.Storage = (*Bucket)(nil)

func New() *Bucket {
	return &Bucket{objects: make(map[string]object)}
}

func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, opt storage.PutObjectOptions) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info := storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opt.ContentType,
		LastModified: time.Now().UTC(),
		Metadata:     opt.Metadata,
	}
	b.mu.Lock()
	b.objects[key] = object{data: data, info: info}
	b.mu.Unlock()
	return info, nil
}

func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	info, err := b.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	b.mu.RLock()
	data := b.objects[key].data
	b.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (b *Bucket) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.objects[key]
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("%w: %s", storage.ErrNotExist, key)
	}
	return o.info, nil
}

// Delete removes key. Like S3, deleting a missing key is not an error.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	b.mu.RLock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	b.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (b *Bucket) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Raw returns the stored bytes for key.
func (b *Bucket) Raw(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.objects[key]
	return o.data, ok
}
