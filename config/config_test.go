package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "users.db", cfg.DBPath)
	assert.Equal(t, "plain", cfg.CredentialScheme)
	assert.Equal(t, 200, cfg.MaxConns)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PRIVCHAT_PORT", "6000")
	t.Setenv("PRIVCHAT_DB_PATH", "/tmp/other.db")
	t.Setenv("PRIVCHAT_CREDENTIAL_SCHEME", "bcrypt")

	cfg := Load()

	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, "bcrypt", cfg.CredentialScheme)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_DB_DIR", "/var/lib/privchat")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "port: 7000\ndb_path: ${TEST_DB_DIR}/users.db\nmax_conns: 50\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "/var/lib/privchat/users.db", cfg.DBPath)
	assert.Equal(t, 50, cfg.MaxConns)
	// Untouched fields keep their defaults.
	assert.Equal(t, 600, cfg.ReadTimeout)
}

func TestLoadFileEnvStillWins(t *testing.T) {
	t.Setenv("PRIVCHAT_PORT", "9000")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFileBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- not yaml"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
