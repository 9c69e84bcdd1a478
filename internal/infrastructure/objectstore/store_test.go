package objectstore

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStripsClientPaths(t *testing.T) {
	id := uuid.MustParse("6f1c2a7e-0000-4000-8000-000000000001")
	for _, name := range []string{"scan.pdf", "../../etc/scan.pdf", `C:\Users\me\scan.pdf`} {
		k := Key(id, "q1", name)
		assert.True(t, strings.HasPrefix(k, "responses/"+id.String()+"/q1/"), k)
		assert.True(t, strings.HasSuffix(k, "-scan.pdf"), k)
		assert.NotContains(t, k, "..")
	}
	assert.True(t, strings.HasSuffix(Key(id, "q1", ""), "-file"))
}

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("https://files.example.com/")

	url, err := s.Put(ctx, Object{Key: "a/b.txt", Body: strings.NewReader("hello"), Size: 5})
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/a/b.txt", url)

	data, err := s.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, 1, s.Len())

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore("").Put(ctx, Object{Key: "k", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(S3Config{Region: "us-east-1"}, nil)
	assert.Error(t, err)
}
