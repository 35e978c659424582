package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCredential(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.txt")
	require.NoError(t, os.WriteFile(path, []byte("  AIzaSecret \n"), 0600))

	got, err := LoadCredential(path)
	require.NoError(t, err)
	assert.Equal(t, "AIzaSecret", got)
}

func TestLoadCredentialMissing(t *testing.T) {
	_, err := LoadCredential(filepath.Join(t.TempDir(), "token.txt"))
	assert.ErrorIs(t, err, ErrCredentialMissing)
}

func TestLoadCredentialEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.txt")
	require.NoError(t, os.WriteFile(path, []byte(" \n\t"), 0600))

	_, err := LoadCredential(path)
	assert.ErrorIs(t, err, ErrCredentialEmpty)
}

func TestResolveCredential(t *testing.T) {
	dir := t.TempDir()

	t.Run("file wins", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.API.TokenFile = filepath.Join(dir, "file.txt")
		cfg.API.APIKey = "from-env"
		require.NoError(t, os.WriteFile(cfg.API.TokenFile, []byte("from-file"), 0600))

		got, err := ResolveCredential(cfg)
		require.NoError(t, err)
		assert.Equal(t, "from-file", got)
	})

	t.Run("env fallback", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.API.TokenFile = filepath.Join(dir, "absent.txt")
		cfg.API.APIKey = "from-env"

		got, err := ResolveCredential(cfg)
		require.NoError(t, err)
		assert.Equal(t, "from-env", got)
	})

	t.Run("empty file does not fall back", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.API.TokenFile = filepath.Join(dir, "empty.txt")
		cfg.API.APIKey = "from-env"
		require.NoError(t, os.WriteFile(cfg.API.TokenFile, nil, 0600))

		_, err := ResolveCredential(cfg)
		assert.ErrorIs(t, err, ErrCredentialEmpty)
	})

	t.Run("nothing", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.API.TokenFile = filepath.Join(dir, "absent.txt")

		_, err := ResolveCredential(cfg)
		assert.ErrorIs(t, err, ErrCredentialMissing)
	})
}
