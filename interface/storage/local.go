package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage implements Storage on a local directory
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a Storage rooted at the given directory
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0766); err != nil {
		return nil, fmt.Errorf("NewLocalStorage: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

// SaveAsset implements Storage
func (s *LocalStorage) SaveAsset(ctx context.Context, jobUUID, localFile string) (string, error) {
	src, err := os.Open(localFile)
	if err != nil {
		return "", fmt.Errorf("SaveAsset.Open: %w", err)
	}
	defer src.Close()

	dstDir := filepath.Join(s.root, jobUUID)
	if err := os.MkdirAll(dstDir, 0766); err != nil {
		return "", fmt.Errorf("SaveAsset: %w", err)
	}
	dstFile := filepath.Join(dstDir, filepath.Base(localFile))
	dst, err := os.Create(dstFile)
	if err != nil {
		return "", fmt.Errorf("SaveAsset.Create: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("SaveAsset.Copy to %s: %w", dstFile, err)
	}
	return dstFile, nil
}

// ImportAsset implements Storage
func (s *LocalStorage) ImportAsset(ctx context.Context, jobUUID, name, localDir string) error {
	srcFile := filepath.Join(s.root, jobUUID, name)
	src, err := os.Open(srcFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrFileNotFound{srcFile}
		}
		return fmt.Errorf("ImportAsset.Open: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(localDir, name))
	if err != nil {
		return fmt.Errorf("ImportAsset.Create: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("ImportAsset.Copy from %s: %w", srcFile, err)
	}
	return nil
}

// DeleteAsset implements Storage
func (s *LocalStorage) DeleteAsset(ctx context.Context, jobUUID, name string) error {
	file := filepath.Join(s.root, jobUUID, name)
	if err := os.Remove(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrFileNotFound{file}
		}
		return fmt.Errorf("DeleteAsset: %w", err)
	}
	return nil
}

// ListAssets implements Storage
func (s *LocalStorage) ListAssets(ctx context.Context, jobUUID string) ([]string, error) {
	files, err := os.ReadDir(filepath.Join(s.root, jobUUID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ListAssets: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() {
			names = append(names, f.Name())
		}
	}
	return names, nil
}
