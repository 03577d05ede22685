// Package io writes run artifacts so that readers never observe a partial file.
package io

import (
	"bufio"
	"encoding/json"
	stdio "io"
	"os"
	"path/filepath"
)

// WriteJSONAtomic writes JSON to file atomically using temp file + rename
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// WriteLinesAtomic writes newline-terminated lines to file atomically
func WriteLinesAtomic(path string, lines [][]byte) error {
	return WriteWithAtomic(path, func(w stdio.Writer) error {
		for _, line := range lines {
			if _, err := w.Write(line); err != nil {
				return err
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteFileAtomic writes data to file atomically
func WriteFileAtomic(path string, data []byte) error {
	return WriteWithAtomic(path, func(w stdio.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteWithAtomic streams the output of fill into a temp file that replaces
// path only when fill succeeds
func WriteWithAtomic(path string, fill func(w stdio.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	buf := bufio.NewWriter(file)
	if err := fill(buf); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := buf.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}

// FanoutWrite writes data to multiple paths atomically
func FanoutWrite(paths []string, data []byte) error {
	for _, path := range paths {
		if err := WriteFileAtomic(path, data); err != nil {
			return err
		}
	}
	return nil
}
