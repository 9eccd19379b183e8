package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Relocate moves a processed drop file into destDir, creating the directory
// if needed. A name collision gets a timestamp-suffixed name and is moved by
// copy+delete. Plain moves prefer an atomic rename, falling back to
// copy+delete when source and destination are on different filesystems.
func Relocate(sourcePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	dest := filepath.Join(destDir, filepath.Base(sourcePath))
	if _, err := os.Stat(dest); err == nil {
		return copyAndRemove(sourcePath, collisionName(dest))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat destination: %w", err)
	}

	if err := os.Rename(sourcePath, dest); err != nil {
		if errors.Is(err, syscall.EXDEV) {
			return copyAndRemove(sourcePath, dest)
		}
		return fmt.Errorf("failed to move %s: %w", sourcePath, err)
	}
	return nil
}

// collisionName appends a UTC timestamp before the extension so an existing
// file is never overwritten.
func collisionName(dest string) string {
	ext := filepath.Ext(dest)
	base := strings.TrimSuffix(dest, ext)
	return base + "_" + time.Now().UTC().Format("20060102T150405") + ext
}

func copyAndRemove(sourcePath, dest string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		src.Close()
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to copy %s: %w", sourcePath, err)
	}
	if err := out.Close(); err != nil {
		src.Close()
		return fmt.Errorf("failed to flush destination: %w", err)
	}

	src.Close()
	if err := os.Remove(sourcePath); err != nil {
		return fmt.Errorf("failed to remove source after copy: %w", err)
	}
	return nil
}
