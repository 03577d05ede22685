package io

import (
	"errors"
	stdio "io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "summary.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]int{"pairs": 3}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"pairs\": 3\n}\n", string(data))
	assert.NoFileExists(t, path+".tmp")
}

func TestWriteLinesAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.jsonl")

	require.NoError(t, WriteLinesAtomic(path, [][]byte{[]byte(`{"a":1}`), []byte(`{"b":2}`)}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", string(data))
}

func TestWriteWithAtomic_FailureKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, WriteFileAtomic(path, []byte("old\n")))

	boom := errors.New("boom")
	err := WriteWithAtomic(path, func(w stdio.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
	assert.NoFileExists(t, path+".tmp")
}

func TestFanoutWrite(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a", "x.json"), filepath.Join(dir, "b", "x.json")}

	require.NoError(t, FanoutWrite(paths, []byte("{}")))

	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, "{}", string(data))
	}
}
