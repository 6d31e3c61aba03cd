package notify

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) *net.UnixConn {
	t.Helper()
	p := filepath.Join(t.TempDir(), "notify.sock")
	c, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: p, Net: "unixgram"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	t.Setenv("NOTIFY_SOCKET", p)
	return c
}

func receive(t *testing.T, c *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	n, err := c.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestNotify(t *testing.T) {
	c := listen(t)

	require.NoError(t, Ready())
	assert.Equal(t, "READY=1", receive(t, c))

	require.NoError(t, Status("serving\n/var/lib/originfs"))
	assert.Equal(t, "STATUS=serving /var/lib/originfs", receive(t, c))

	require.NoError(t, Stopping())
	assert.Equal(t, "STOPPING=1", receive(t, c))
}

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	assert.NoError(t, Ready())
	assert.NoError(t, Stopping())
}
