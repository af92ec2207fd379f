package storage

import (
	"context"
	"io"
	"os"

	"github.com/minio/minio-go"
)

// MinioStore serves one bucket of an S3-compatible object store.
type MinioStore struct {
	client *minio.Client
	bucket string
	// temp dir for downloaded copies
	dir string
}

func NewMinioStore(opts S3Options, bucket string) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, opts.AccessKey, opts.SecretKey, opts.UseSSL)
	if err != nil {
		return nil, err
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Fetch downloads the whole object; the engine bulk-loads from a local
// file only.
func (m *MinioStore) Fetch(ctx context.Context, key string) (string, func(), error) {
	obj, err := m.client.GetObjectWithContext(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", nil, err
	}
	defer obj.Close()

	f, err := TempFile(m.dir, key)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := io.Copy(f, obj); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

// Create streams writes into a single PutObject call running behind a pipe.
func (m *MinioStore) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &objectWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := m.client.PutObjectWithContext(ctx, m.bucket, key, pr, -1, minio.PutObjectOptions{})
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type objectWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *objectWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

// Close finishes the upload and reports its outcome.
func (w *objectWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}
