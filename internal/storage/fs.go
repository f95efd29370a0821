/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Filesystem stores objects as files below a root directory.
type Filesystem struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystem creates a filesystem-backed store rooted at rootDir.
func NewFilesystem(rootDir string, logger zerolog.Logger) *Filesystem {
	return &Filesystem{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "storage").Str("backend", "fs").Logger(),
	}
}

func (fs *Filesystem) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(fs.rootDir, clean), nil
}

// Put writes data to key, replacing any previous content.
func (fs *Filesystem) Put(_ context.Context, key string, data []byte) error {
	fullPath, err := fs.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	// write then rename so readers never see a partial file
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename file: %w", err)
	}

	fs.logger.Debug().Str("path", fullPath).Int("bytes", len(data)).Msg("object stored")
	return nil
}

// Get reads key.
func (fs *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	fullPath, err := fs.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// URL returns the file path of key.
func (fs *Filesystem) URL(key string) string {
	p, err := fs.path(key)
	if err != nil {
		return ""
	}
	return p
}
