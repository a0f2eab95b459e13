package utils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPairRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "raffle-keys")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "player.key")
	kp, err := WriteKeyPair(path)
	require.NoError(t, err)

	private, public, err := ReadKeyPair(path)
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(public))
	require.True(t, public.Equal(public.Base().Mul(private, nil)))
}

func TestReadKeyPairMissing(t *testing.T) {
	_, _, err := ReadKeyPair("/does/not/exist")
	require.Error(t, err)
}
