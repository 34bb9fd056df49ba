package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DownloadError carries the structured reason extracted from a failed
// download. The download endpoint serves both success payloads and error
// bodies under the same binary content type, so the error body has to be
// reinterpreted as JSON before a reason is available.
type DownloadError struct {
	StatusCode int
	Reason     string // empty when the body was not structured error data
}

func (e *DownloadError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("vault: download failed (HTTP %d): %s", e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("vault: download failed (HTTP %d)", e.StatusCode)
}

// Download streams the decrypted content of a file to the given writer and
// returns the number of bytes written.
//
// Response classification happens before any decoding: 2xx bodies are
// treated as raw bytes and streamed; non-2xx bodies are read fully and
// parsed as a JSON {"error": ...} document. When that parse succeeds the
// returned *DownloadError carries the extracted reason; otherwise the
// Reason is left empty and callers fall back to a generic message.
func (c *Client) Download(ctx context.Context, fileID int64, w io.Writer) (int64, error) {
	c.logger.Info("downloading file", slog.Int64("file_id", fileID))

	path := fmt.Sprintf("/download/%d", fileID)

	// The classification below needs the raw response, so this bypasses
	// Do's error-body handling: a single authenticated request, no retry
	// loop (the payload stream is not replayable mid-flight).
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("vault: creating download request: %w", err)
	}

	if c.token == nil {
		return 0, fmt.Errorf("vault: no token source configured")
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("vault: download canceled: %w", ctx.Err())
		}

		return 0, fmt.Errorf("%w: GET %s: %v", ErrUnreachable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, c.decodeDownloadError(resp, fileID)
	}

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		c.logger.Error("streaming download content failed",
			slog.Int64("file_id", fileID),
			slog.String("error", copyErr.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("vault: streaming download content: %w", copyErr)
	}

	c.logger.Debug("download complete",
		slog.Int64("file_id", fileID),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}

// decodeDownloadError reinterprets a failed download body as structured
// error data. The body arrives under the success path's binary content
// type, so this is the only place it gets parsed as JSON.
func (c *Client) decodeDownloadError(resp *http.Response, fileID int64) error {
	body, readErr := io.ReadAll(resp.Body)

	dlErr := &DownloadError{StatusCode: resp.StatusCode}

	if readErr == nil {
		var parsed struct {
			Error string `json:"error"`
		}

		if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil && parsed.Error != "" {
			dlErr.Reason = parsed.Error
		}
	}

	c.logger.Warn("download failed",
		slog.Int64("file_id", fileID),
		slog.Int("status", resp.StatusCode),
		slog.String("reason", dlErr.Reason),
	)

	return dlErr
}

// IsNotFoundDownload reports whether err is a download failure for a
// missing file.
func IsNotFoundDownload(err error) bool {
	var dlErr *DownloadError

	return errors.As(err, &dlErr) && dlErr.StatusCode == http.StatusNotFound
}
