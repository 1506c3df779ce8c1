package cryptox_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aussiebroadwan/tabsession/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	s, err := cryptox.NewSealer([]byte("test-key-material"), "cookies")
	require.NoError(t, err)

	sealed, err := s.Seal("eyJhbGciOiJIUzI1NiJ9.payload.sig")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sealed, "v1."))
	require.NotContains(t, sealed, "payload")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "eyJhbGciOiJIUzI1NiJ9.payload.sig", opened)
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, err := cryptox.NewSealer([]byte("test-key-material"), "cookies")
	require.NoError(t, err)

	a, err := s.Seal("same")
	require.NoError(t, err)
	b, err := s.Seal("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestOpenRejects(t *testing.T) {
	s, err := cryptox.NewSealer([]byte("test-key-material"), "cookies")
	require.NoError(t, err)

	t.Run("plaintext", func(t *testing.T) {
		_, err := s.Open("plain-value")
		require.ErrorIs(t, err, cryptox.ErrNotSealed)
	})

	t.Run("tampered", func(t *testing.T) {
		sealed, err := s.Seal("value")
		require.NoError(t, err)
		tampered := sealed[:len(sealed)-3] + "AAA"
		_, err = s.Open(tampered)
		require.ErrorIs(t, err, cryptox.ErrOpen)
	})

	t.Run("different info", func(t *testing.T) {
		other, err := cryptox.NewSealer([]byte("test-key-material"), "something-else")
		require.NoError(t, err)

		sealed, err := s.Seal("value")
		require.NoError(t, err)
		_, err = other.Open(sealed)
		require.ErrorIs(t, err, cryptox.ErrOpen)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := s.Open("v1.AAAA")
		require.ErrorIs(t, err, cryptox.ErrOpen)
	})
}

func TestNewSealerFromFile(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cookie.key")
		require.NoError(t, os.WriteFile(path, []byte("file-key\n"), 0o600))

		s, err := cryptox.NewSealerFromFile(path, "UNUSED", "cookies")
		require.NoError(t, err)

		sealed, err := s.Seal("x")
		require.NoError(t, err)

		same, err := cryptox.NewSealer([]byte("file-key"), "cookies")
		require.NoError(t, err)
		opened, err := same.Open(sealed)
		require.NoError(t, err)
		require.Equal(t, "x", opened)
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("TABSESSION_TEST_KEY", "env-key")
		_, err := cryptox.NewSealerFromFile("", "TABSESSION_TEST_KEY", "cookies")
		require.NoError(t, err)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := cryptox.NewSealerFromFile("", "TABSESSION_TEST_KEY_MISSING", "cookies")
		require.ErrorIs(t, err, cryptox.ErrNoKeyMaterial)
	})
}
