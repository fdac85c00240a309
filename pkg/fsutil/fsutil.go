// Package fsutil writes result files with optional ownership.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// OwnerConfig holds parsed UID/GID for file ownership.
type OwnerConfig struct {
	UID int
	GID int
}

// ParseOwner parses "UID:GID" string. Returns nil if empty.
func ParseOwner(owner string) (*OwnerConfig, error) {
	if owner == "" {
		return nil, nil
	}

	uidStr, gidStr, ok := strings.Cut(owner, ":")
	if !ok || strings.Contains(gidStr, ":") {
		return nil, fmt.Errorf("invalid format %q, expected UID:GID", owner)
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UID %q: %w", uidStr, err)
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid GID %q: %w", gidStr, err)
	}

	return &OwnerConfig{UID: uid, GID: gid}, nil
}

// Chown sets ownership if owner is not nil. Best-effort, ignores errors.
func Chown(path string, owner *OwnerConfig) {
	if owner == nil {
		return
	}

	_ = os.Chown(path, owner.UID, owner.GID)
}

// MkdirAll creates directory and sets ownership. It is safe to call on an
// existing directory.
func MkdirAll(path string, perm os.FileMode, owner *OwnerConfig) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}

	Chown(path, owner)

	return nil
}

// WriteFileAtomic writes data to a temporary file in the target directory
// and renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, owner *OwnerConfig) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		cleanup()

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()

		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		cleanup()

		return fmt.Errorf("renaming into place: %w", err)
	}

	Chown(path, owner)

	return nil
}
