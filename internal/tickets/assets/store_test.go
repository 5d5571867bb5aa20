package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Put(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "/assets/")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "tickets/ord-1/t1.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "/assets/tickets/ord-1/t1.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "tickets", "ord-1", "t1.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestFileStore_StaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "assets"), "/assets")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "../../escape.txt", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "/assets/escape.txt", url)
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = s.Put(context.Background(), "", []byte("x"))
	assert.Error(t, err)
}
