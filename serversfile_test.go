package rproxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadServersFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers":[{"ip":"127.0.0.1","port":8080},{"ip":"127.0.0.1","port":8081}]}`), 0o644))

	addrs, err := LoadServersFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"127.0.0.1:8080", "127.0.0.1:8081"}, addrs)
}

func TestLoadServersFileInvalidEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers":[{"ip":"not a host!!","port":99999}]}`), 0o644))

	_, err := LoadServersFile(path)
	require.Error(t, err)
}
