package jwt

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSigningKey(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "should generate 32 byte key", size: 32},
		{name: "should generate 64 byte key", size: 64},
		{name: "should reject short key", size: 16, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := GenerateSigningKey(tt.size)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, tt.size)
		})
	}
}

func TestSaveAndLoadSigningKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signing.key")

	key, err := GenerateSigningKey(32)
	require.NoError(t, err)
	require.NoError(t, SaveSigningKey(key, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadSigningKeyFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)
}

func TestLoadSigningKeyFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSigningKeyFromFile(filepath.Join(dir, "missing.key"))
	assert.Error(t, err)

	short := filepath.Join(dir, "short.key")
	require.NoError(t, os.WriteFile(short, []byte("tooshort"), 0600))
	_, err = LoadSigningKeyFromFile(short)
	assert.Error(t, err)
}

func TestLoadSigningKey_RawMaterial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.key")
	raw := strings.Repeat("r", 40)
	require.NoError(t, os.WriteFile(path, []byte(raw+"\n"), 0600))

	key, err := LoadSigningKey(path, "")
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), key)
}

func TestLoadSigningKey_PrefersEnv(t *testing.T) {
	envKey, err := GenerateSigningKey(32)
	require.NoError(t, err)
	t.Setenv("GIM_TEST_SIGNING_KEY", hex.EncodeToString(envKey))

	key, err := LoadSigningKey(filepath.Join(t.TempDir(), "missing.key"), "GIM_TEST_SIGNING_KEY")
	require.NoError(t, err)
	assert.Equal(t, envKey, key)
}

func TestLoadSigningKey_NoSource(t *testing.T) {
	_, err := LoadSigningKey("", "GIM_TEST_UNSET_SIGNING_KEY")
	assert.Error(t, err)

	_, err = LoadSigningKeyFromEnv("GIM_TEST_UNSET_SIGNING_KEY")
	assert.Error(t, err)
}
