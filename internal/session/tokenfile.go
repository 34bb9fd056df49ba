package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/anonfs/anonfs-go/internal/vault"
)

// filePerms restricts token files to owner-only read/write.
const filePerms = 0o600

// dirPerms is used when creating the tokens directory.
const dirPerms = 0o700

// loadPair reads a saved token pair from disk. Returns (nil, nil) if the
// file does not exist — the anonymous state, not an error.
func loadPair(path string) (*vault.TokenPair, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("session: reading %s: %w", path, err)
	}

	var pair vault.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("session: decoding %s: %w", path, err)
	}

	if pair.Access == "" || pair.Refresh == "" {
		return nil, fmt.Errorf("session: %s missing token pair (re-login required)", path)
	}

	return &pair, nil
}

// savePair writes the token pair to disk atomically (write-to-temp +
// rename) with 0600 permissions. Both tokens live in one file so they are
// always written and cleared as a unit. Never logs token values.
func savePair(path string, pair *vault.TokenPair) error {
	data, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding token pair: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, dirPerms); mkErr != nil {
		return fmt.Errorf("session: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	// Clean up temp file on any error path.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("session: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close
	// and rename cannot leave an empty or partial token file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("session: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("session: renaming: %w", err)
	}

	success = true

	return nil
}

// removePair deletes the token file. A missing file is not an error —
// removal is idempotent.
func removePair(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}
