// Package storage moves bulk import/export files between the engine's local
// filesystem and where they actually live.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"coltable-go/types"
)

var ErrBadLocation = func(path, info string) error {
	return fmt.Errorf("%w: location %q: %s", types.ErrValidation, path, info)
}

// Store is a place files can be read from and written to.
type Store interface {
	// Fetch makes key readable as a local file. cleanup removes any copy
	// Fetch made and is never nil on success.
	Fetch(ctx context.Context, key string) (local string, cleanup func(), err error)
	// Create opens key for writing; the object is complete once Close
	// returns nil.
	Create(ctx context.Context, key string) (io.WriteCloser, error)
}

// S3Options carries what is needed to reach an S3-compatible endpoint.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

const s3Scheme = "s3://"

// IsRemote reports whether path names an object store location.
func IsRemote(path string) bool {
	return strings.HasPrefix(strings.ToLower(path), s3Scheme)
}

// ParseS3Path splits s3://bucket/key.
func ParseS3Path(path string) (bucket, key string, err error) {
	if !IsRemote(path) {
		return "", "", ErrBadLocation(path, "missing s3:// scheme")
	}
	rest := path[len(s3Scheme):]
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", ErrBadLocation(path, "expected s3://bucket/key")
	}
	return bucket, key, nil
}

// Resolve picks the store serving path and the key to use with it.
func Resolve(path string, opts S3Options) (Store, string, error) {
	if !IsRemote(path) {
		return LocalStore{}, path, nil
	}
	bucket, key, err := ParseS3Path(path)
	if err != nil {
		return nil, "", err
	}
	st, err := NewMinioStore(opts, bucket)
	if err != nil {
		return nil, "", err
	}
	return st, key, nil
}

// LocalStore reads and writes the local filesystem directly.
type LocalStore struct{}

func (LocalStore) Fetch(_ context.Context, key string) (string, func(), error) {
	if _, err := os.Stat(key); err != nil {
		return "", nil, err
	}
	return key, func() {}, nil
}

func (LocalStore) Create(_ context.Context, key string) (io.WriteCloser, error) {
	if dir := filepath.Dir(key); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(key)
}

// TempFile creates an empty file in dir (the OS default when empty) whose
// name ends with the extension of like, so format detection by suffix keeps
// working on the copy.
func TempFile(dir, like string) (*os.File, error) {
	return os.CreateTemp(dir, "coltable-*"+filepath.Ext(like))
}
