package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"coltable-go/types"

	"github.com/stretchr/testify/require"
)

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		path        string
		bucket, key string
		ok          bool
	}{
		{"s3://tables/people.tsv", "tables", "people.tsv", true},
		{"S3://tables/dir/people.parquet", "tables", "dir/people.parquet", true},
		{"s3://tables", "", "", false},
		{"s3:///people.tsv", "", "", false},
		{"/tmp/people.tsv", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			bucket, key, err := ParseS3Path(tt.path)
			if !tt.ok {
				require.ErrorIs(t, err, types.ErrValidation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.bucket, bucket)
			require.Equal(t, tt.key, key)
		})
	}
}

func TestResolve(t *testing.T) {
	st, key, err := Resolve("data/people.tsv", S3Options{})
	require.NoError(t, err)
	require.IsType(t, LocalStore{}, st)
	require.Equal(t, "data/people.tsv", key)

	st, key, err = Resolve("s3://tables/people.tsv", S3Options{Endpoint: "localhost:9000"})
	require.NoError(t, err)
	ms, ok := st.(*MinioStore)
	require.True(t, ok)
	require.Equal(t, "tables", ms.bucket)
	require.Equal(t, "people.tsv", key)

	_, _, err = Resolve("s3://tables", S3Options{Endpoint: "localhost:9000"})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "out.tsv")

	var st Store = LocalStore{}
	w, err := st.Create(ctx, path)
	require.NoError(t, err)
	_, err = io.Copy(w, strings.NewReader("john\t253\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	local, cleanup, err := st.Fetch(ctx, path)
	require.NoError(t, err)
	defer cleanup()
	require.Equal(t, path, local)
	raw, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, "john\t253\n", string(raw))

	_, _, err = st.Fetch(ctx, filepath.Join(t.TempDir(), "missing.tsv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestTempFileKeepsExtension(t *testing.T) {
	f, err := TempFile(t.TempDir(), "dir/people.parquet")
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, ".parquet", filepath.Ext(f.Name()))
}
