package data

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// WriteGuide atomically writes body to path. With gzipCopy set, a
// compressed copy is also written to path + ".gz". Both files are staged
// before either is moved into place, and the compressed copy is moved
// first, so a failure never leaves a new guide without its copy.
func WriteGuide(path string, body []byte, gzipCopy bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var staged []string
	defer func() {
		for _, name := range staged {
			_ = os.Remove(name)
		}
	}()

	guideTmp, err := stage(path, body)
	if err != nil {
		return err
	}
	staged = append(staged, guideTmp)

	if gzipCopy {
		compressed, err := compress(filepath.Base(path), body)
		if err != nil {
			return err
		}

		gz, err := stage(path+".gz", compressed)
		if err != nil {
			return err
		}
		staged = append(staged, gz)

		if err := os.Rename(gz, path+".gz"); err != nil {
			return fmt.Errorf("failed to move compressed guide into place: %w", err)
		}
		staged = staged[:1]
	}

	if err := os.Rename(guideTmp, path); err != nil {
		return fmt.Errorf("failed to move guide into place: %w", err)
	}
	staged = nil

	return nil
}

func compress(name string, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	zw.Name = name
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("failed to compress guide: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress guide: %w", err)
	}
	return buf.Bytes(), nil
}

// stage writes data to a temporary file next to path and returns its name.
func stage(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil { //nolint:gosec // guide files are meant to be world readable
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}

	return tmp.Name(), nil
}
