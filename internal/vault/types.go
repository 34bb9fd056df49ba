package vault

import (
	"log/slog"
	"time"
)

// Timestamp validation bounds — timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// FileResource is an encrypted file record in the vault. Every resource
// has exactly one owner; the bytes themselves never reach the client in
// plaintext key terms — only the decrypted payload on download.
type FileResource struct {
	ID            int64
	OriginalName  string
	FileSize      int64
	CreatedAt     time.Time
	OwnerUsername string
}

// fileResourceResponse mirrors the vault API file JSON exactly.
// Unexported — callers use FileResource via toResource() normalization.
type fileResourceResponse struct {
	ID           int64  `json:"id"`
	OriginalName string `json:"original_name"`
	UploadedBy   string `json:"uploaded_by"`
	CreatedAt    string `json:"created_at"`
	FileSize     int64  `json:"file_size"`
}

// toResource normalizes a vault API file record into our FileResource type.
func (f *fileResourceResponse) toResource(logger *slog.Logger) FileResource {
	res := FileResource{
		ID:            f.ID,
		OriginalName:  f.OriginalName,
		FileSize:      f.FileSize,
		OwnerUsername: f.UploadedBy,
	}

	if res.FileSize < 0 {
		logger.Warn("negative file size in API response, clamping to zero",
			slog.Int64("file_id", f.ID),
			slog.Int64("file_size", f.FileSize),
		)

		res.FileSize = 0
	}

	res.CreatedAt = parseTimestamp(f.CreatedAt, f.ID, logger)

	return res
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC() and logged.
func parseTimestamp(raw string, fileID int64, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Warn("empty created_at timestamp, using current time",
			slog.Int64("file_id", fileID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid created_at timestamp, using current time",
			slog.Int64("file_id", fileID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("created_at timestamp out of valid range, using current time",
			slog.Int64("file_id", fileID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// TokenPair is the access/refresh credential pair returned by the login
// endpoint. Both values are opaque signed strings.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}
