package kvstore

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetSet(t *testing.T) {
	s := openMem(t)

	_, ok, err := s.GetString("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetString("empty", ""))
	v, ok, err := s.GetString("empty")
	require.NoError(t, err)
	assert.True(t, ok, "empty value is still found")
	assert.Equal(t, "", v)

	require.NoError(t, s.SetString(" a ", "1"))
	v, ok, err = s.GetString("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Delete("a"))
	ok, err = s.Has("a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.SetString("  ", "x"))
}

func TestKeysAndDropPrefix(t *testing.T) {
	s := openMem(t)
	require.NoError(t, s.SetMany(map[string][]byte{
		"seen/t1": nil,
		"seen/t2": nil,
		"other":   []byte("x"),
	}))

	keys, err := s.Keys("seen/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"seen/t1", "seen/t2"}, keys)

	require.NoError(t, s.DropPrefix("seen/"))
	keys, err = s.Keys("seen/")
	require.NoError(t, err)
	assert.Empty(t, keys)
	ok, _ := s.Has("other")
	assert.True(t, ok)
}

func TestClosed(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.Get("a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set("a", nil), ErrClosed)

	_, err = Open(OpenOptions{})
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	hexKey := "0x" + strings.Repeat("ab", 32)

	cases := []struct {
		name    string
		in      string
		wantLen int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"hex", hexKey, 32, false},
		{"base64", base64.StdEncoding.EncodeToString(raw), 32, false},
		{"short hex", "abcd", 0, true},
		{"garbage", "not a key!", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := ParseKey(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, b, tc.wantLen)
		})
	}
}
