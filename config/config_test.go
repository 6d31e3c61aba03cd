package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestNewAtPath_Defaults(t *testing.T) {
	c, err := NewAtPath("/tmp/x.yml")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.yml", c.Path())
	assert.Equal(t, "/var/lib/originfs/origin", c.Storage.Root)
	assert.Equal(t, 3, c.Pool.Capacity)
	assert.Equal(t, time.Duration(0), c.Pool.CallTimeout)
	assert.Equal(t, "json", c.Pool.Codec)
	assert.Equal(t, 65536, c.Tree.ChunkSize)
	assert.Equal(t, 8, c.Tree.CopyConcurrency)
	assert.Equal(t, "127.0.0.1", c.Api.Host)
	assert.Equal(t, 8090, c.Api.Port)
}

func TestFromFile(t *testing.T) {
	t.Setenv("ORIGINFS_TEST_ROOT", "/srv/origin")
	p := writeConfig(t, `
debug: true
storage:
  root: ${ORIGINFS_TEST_ROOT}
pool:
  capacity: 5
  call_timeout: 2s
  codec: cbor
api:
  port: 9000
`)
	require.NoError(t, FromFile(p))

	c := Get()
	assert.True(t, c.Debug)
	assert.Equal(t, "/srv/origin", c.Storage.Root)
	assert.Equal(t, 5, c.Pool.Capacity)
	assert.Equal(t, 2*time.Second, c.Pool.CallTimeout)
	assert.Equal(t, "cbor", c.Pool.Codec)
	assert.Equal(t, 9000, c.Api.Port)
	// Untouched values keep their defaults.
	assert.Equal(t, "127.0.0.1", c.Api.Host)
	assert.Equal(t, 65536, c.Tree.ChunkSize)
}

func TestFromFile_Invalid(t *testing.T) {
	assert.Error(t, FromFile(writeConfig(t, "pool:\n  codec: xml\n")))
	assert.Error(t, FromFile(writeConfig(t, "pool:\n  capacity: 0\n")))
	assert.Error(t, FromFile(writeConfig(t, "storage: [")))
	assert.Error(t, FromFile(filepath.Join(t.TempDir(), "missing.yml")))
}

func TestGetReturnsCopy(t *testing.T) {
	c, _ := NewAtPath("")
	Set(c)

	Get().Debug = true
	assert.False(t, Get().Debug)

	Update(func(c *Configuration) {
		c.Debug = true
	})
	assert.True(t, Get().Debug)
}

func TestWriteToDisk(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.yml")
	c, _ := NewAtPath(p)
	c.Pool.Capacity = 7
	require.NoError(t, c.WriteToDisk())

	require.NoError(t, FromFile(p))
	assert.Equal(t, 7, Get().Pool.Capacity)

	c, _ = NewAtPath("")
	assert.Error(t, c.WriteToDisk())
}
