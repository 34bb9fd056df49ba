// Package transfer moves file bytes in and out of the vault under the
// current session's authorization: multipart uploads, and downloads with
// save-as semantics and structured-error extraction.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/anonfs/anonfs-go/internal/vault"
)

// API is the transfer surface of the vault client. *vault.Client
// satisfies it.
type API interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*vault.FileResource, error)
	Download(ctx context.Context, fileID int64, w io.Writer) (int64, error)
}

// Orchestrator performs uploads and downloads. A successful upload runs
// the injected onDone hook — the full re-fetch of the owned view is the
// consistency mechanism, never a local insert.
type Orchestrator struct {
	api    API
	logger *slog.Logger

	// onDone is invoked after a mutating transfer completes, so callers
	// chain a directory refresh instead of relying on an unwired callback.
	// May be nil.
	onDone func(ctx context.Context) error
}

// New creates an Orchestrator. onDone may be nil.
func New(api API, onDone func(ctx context.Context) error, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{api: api, onDone: onDone, logger: logger}
}

// Upload submits the file at localPath and, on success, runs the onDone
// refresh hook. Concurrent uploads are independent; no content
// de-duplication is attempted.
func (o *Orchestrator) Upload(ctx context.Context, localPath string) (*vault.FileResource, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening %s: %w", localPath, err)
	}
	defer f.Close()

	res, err := o.api.Upload(ctx, filepath.Base(localPath), f)
	if err != nil {
		return nil, err
	}

	// A completion arriving after cancellation must not apply side effects.
	if ctx.Err() != nil {
		return nil, fmt.Errorf("transfer: upload canceled: %w", ctx.Err())
	}

	if o.onDone != nil {
		if refreshErr := o.onDone(ctx); refreshErr != nil {
			o.logger.Warn("post-upload refresh failed",
				slog.String("error", refreshErr.Error()),
			)
		}
	}

	return res, nil
}

// Download retrieves fileID into destPath via a transient temp file in the
// destination directory, renamed into place only once the full payload
// has been flushed — the save-as flow. The temp file is removed on every
// failure path.
func (o *Orchestrator) Download(ctx context.Context, fileID int64, destPath string) (int64, error) {
	dir := filepath.Dir(destPath)

	tmp, err := os.CreateTemp(dir, ".anonfs-dl-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("transfer: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := o.api.Download(ctx, fileID, tmp)
	if err != nil {
		tmp.Close()
		return 0, err
	}

	if ctx.Err() != nil {
		tmp.Close()
		return 0, fmt.Errorf("transfer: download canceled: %w", ctx.Err())
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("transfer: syncing download: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("transfer: closing download: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("transfer: saving download: %w", err)
	}

	success = true

	o.logger.Info("download saved",
		slog.Int64("file_id", fileID),
		slog.String("path", destPath),
		slog.Int64("bytes", n),
	)

	return n, nil
}

// UserMessage converts a transfer error into the message shown to the
// user. Download failures whose error body decoded as structured data
// carry the extracted reason; everything else degrades to a generic
// message.
func UserMessage(err error) string {
	var dlErr *vault.DownloadError

	if errors.As(err, &dlErr) {
		if dlErr.Reason != "" {
			return "Download failed: " + dlErr.Reason
		}

		return "Download failed"
	}

	if errors.Is(err, vault.ErrUnreachable) {
		return "Transfer failed: server unreachable"
	}

	return "Transfer failed: " + err.Error()
}
