package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Permission is the capability level of a share grant.
type Permission string

const (
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

// Valid reports whether p is one of the two defined permission levels.
func (p Permission) Valid() bool {
	return p == PermissionView || p == PermissionEdit
}

// ShareGrant binds one file to one recipient identity with a permission
// level and an optional expiry. ExpiresInHours must be entirely absent
// from the wire payload when the grant never expires — its absence, not a
// zero value, is what signals "no expiry".
type ShareGrant struct {
	FileID         int64      `json:"file_id"`
	RecipientEmail string     `json:"email"`
	Permission     Permission `json:"permission_type"`
	ExpiresInHours *int       `json:"expires_in_hours,omitempty"`
}

// ShareFile submits a share grant. Grant resolution (recipient lookup,
// dedup, self-share rejection) is entirely server-side; the client only
// observes success or failure, and the API returns no grant identifier.
func (c *Client) ShareFile(ctx context.Context, grant ShareGrant) error {
	if !grant.Permission.Valid() {
		return fmt.Errorf("vault: invalid permission %q", grant.Permission)
	}

	c.logger.Info("sharing file",
		slog.Int64("file_id", grant.FileID),
		slog.String("recipient", grant.RecipientEmail),
		slog.String("permission", string(grant.Permission)),
		slog.Bool("expires", grant.ExpiresInHours != nil),
	)

	body, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("vault: marshaling share request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/share-file", bytes.NewReader(body), "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Info("share grant accepted",
		slog.Int64("file_id", grant.FileID),
		slog.String("recipient", grant.RecipientEmail),
	)

	return nil
}
