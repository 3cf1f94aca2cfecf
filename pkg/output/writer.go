package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrOutputWrite wraps every failure to create or write output artifacts.
var ErrOutputWrite = errors.New("output write failed")

// DefaultFileName is the structured output document name
const DefaultFileName = "output.json"

// EnsureDir creates dir and its parents
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create output directory: %w", ErrOutputWrite, err)
	}
	return nil
}

// Marshal renders a document as indented JSON with lexicographically sorted keys
func Marshal(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write serialises doc into dir/name. The document is rendered completely
// before anything touches the filesystem, and lands through a rename, so a
// reader never sees a partial file.
func Write(dir, name string, doc Document) (string, error) {
	if name == "" {
		name = DefaultFileName
	}
	data, err := Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%w: encode: %w", ErrOutputWrite, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}
	return path, nil
}
