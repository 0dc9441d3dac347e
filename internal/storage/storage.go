package storage

// Package storage contains object storage abstractions for S3-compatible backends.
// Implementations stream content and never touch local disk.

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotExist is returned when a key has no object.
	ErrNotExist = errors.New("object does not exist")
	// ErrUnavailable marks transient backend failures worth retrying.
	ErrUnavailable = errors.New("object storage unavailable")
)

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is a reusable, S3-compatible object storage client interface.
type Storage interface {
	// Put uploads an object under the given key, replacing any existing one.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Stat returns object info without content.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Ping checks that the bucket is reachable.
	Ping(ctx context.Context) error
}
