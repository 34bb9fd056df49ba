package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
)

// uploadFieldName is the multipart form field the vault API reads the
// file payload from.
const uploadFieldName = "file"

// Upload submits a file's bytes as a multipart payload and returns the
// created resource. The caller owns list consistency: re-fetch the owned
// view after a successful upload instead of inserting locally.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*FileResource, error) {
	c.logger.Info("uploading file", slog.String("name", filename))

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(uploadFieldName, filename)
	if err != nil {
		return nil, fmt.Errorf("vault: creating multipart field: %w", err)
	}

	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("vault: buffering upload payload: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("vault: finalizing multipart payload: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/upload", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var record fileResourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("vault: decoding upload response: %w", err)
	}

	res := record.toResource(c.logger)

	c.logger.Info("upload complete",
		slog.String("name", filename),
		slog.Int64("file_id", res.ID),
		slog.Int64("size", res.FileSize),
	)

	return &res, nil
}
