package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ListMyFiles returns the files owned by the authenticated identity,
// newest first (server ordering).
func (c *Client) ListMyFiles(ctx context.Context) ([]FileResource, error) {
	return c.listFiles(ctx, "/my-files", "listing owned files")
}

// ListSharedFiles returns the files other identities have shared with the
// authenticated identity.
func (c *Client) ListSharedFiles(ctx context.Context) ([]FileResource, error) {
	return c.listFiles(ctx, "/shared-files", "listing shared files")
}

// listFiles fetches and decodes one of the two file collections. Shared by
// ListMyFiles and ListSharedFiles to avoid duplication.
func (c *Client) listFiles(ctx context.Context, path, entryMsg string) ([]FileResource, error) {
	c.logger.Info(entryMsg, slog.String("path", path))

	resp, err := c.Do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var records []fileResourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("vault: decoding file list response: %w", err)
	}

	files := make([]FileResource, 0, len(records))
	for i := range records {
		files = append(files, records[i].toResource(c.logger))
	}

	c.logger.Info("file list complete",
		slog.String("path", path),
		slog.Int("total_files", len(files)),
	)

	return files, nil
}
