// Package fsx abstracts the destination-filesystem operations the download
// engine needs, so transfer logic can be exercised against a test double.
package fsx

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

const dirPerm = 0755

// FileSystem is the narrow filesystem surface consumed by the engine.
type FileSystem interface {
	MkdirAll(path string) error
	Exists(path string) bool
	// Size returns the size of the file at path, or an error wrapping
	// fs.ErrNotExist when it is absent.
	Size(path string) (int64, error)
	OpenAppend(path string) (io.WriteCloser, error)
	Remove(path string) error
	Rename(oldPath, newPath string) error
}

// OS is the real filesystem.
type OS struct{}

func NewOS() OS { return OS{} }

func (OS) MkdirAll(path string) error {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return nil
}

func (OS) Exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

func (OS) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}

	return info.Size(), nil
}

func (OS) OpenAppend(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for append: %w", err)
	}

	return f, nil
}

func (OS) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}

	return nil
}

func (OS) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// IsNotExist reports whether err means the file was absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
