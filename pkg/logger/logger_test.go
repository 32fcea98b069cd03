package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTemp(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "p2pbuy.log")
	require.NoError(t, Init(Config{Level: "debug", OutputFile: path, MaxSize: 1, Quiet: true}))
	t.Cleanup(func() { Logger = nil })
	return path
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestInitQuietWritesFile(t *testing.T) {
	path := initTemp(t)

	ForTrade("poller", "t-42").Info("settled")
	Debugf("tick %d", 3)

	out := read(t, path)
	assert.Contains(t, out, "component=poller")
	assert.Contains(t, out, "trade_id=t-42")
	assert.Contains(t, out, "tick 3")
	assert.NotContains(t, out, "\x1b[", "no colors in quiet mode")
}

func TestInitBadLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	require.NoError(t, Init(Config{Level: "loud", OutputFile: path, Quiet: true}))
	t.Cleanup(func() { Logger = nil })
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}

func TestRedactSecrets(t *testing.T) {
	path := initTemp(t)

	words := "abandon ability able about above absent absorb abstract absurd abuse access accident"
	WithFields(logrus.Fields{"private_key": "0xdeadbeef", "order": "o1"}).Warn("wallet loaded")
	Infof("restored from %s", words)
	hash := "0x" + "ab" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	WithField("tx", hash).Info("escrow locked")

	out := read(t, path)
	assert.NotContains(t, out, "deadbeef")
	assert.NotContains(t, out, "abandon ability")
	assert.Contains(t, out, "private_key=\"[redacted]\"")
	assert.Contains(t, out, "order=o1")
	assert.Contains(t, out, hash, "tx hashes stay readable")
}

func TestRedactMnemonicOnlyMatchesWordlist(t *testing.T) {
	phrase := "abandon ability able about above absent absorb abstract absurd abuse access accident"

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"phrase inside message", "restored from " + phrase + " ok", "restored from [redacted] ok"},
		{"eleven words stay", "abandon ability able about above absent absorb abstract absurd abuse access", "abandon ability able about above absent absorb abstract absurd abuse access"},
		{"ordinary sentence", "waiting for backend index before syncing trade state again later today please", "waiting for backend index before syncing trade state again later today please"},
		{"broken by punctuation", "abandon ability able about above absent, absorb abstract absurd abuse access accident", "abandon ability able about above absent, absorb abstract absurd abuse access accident"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, redactMnemonic(tc.in))
		})
	}
}
