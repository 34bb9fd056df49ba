// Package share implements the grant workflow: building a share request
// scoping a file to a recipient with a permission level and an optional
// expiry, submitting it, and reporting the outcome.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anonfs/anonfs-go/internal/vault"
)

// State is the workflow's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// expiryHours is the fixed lifetime applied when the expiry toggle is on.
// The toggle is binary: a grant either lapses after 24 hours or never.
const expiryHours = 24

// ErrNoRecipient is the only client-side validation failure: an empty
// recipient email. Recipient existence is resolved server-side.
var ErrNoRecipient = errors.New("share: recipient email is required")

// ErrShareRejected is surfaced when the server rejects a grant. The
// backend does not disambiguate causes, so the message stays generic.
var ErrShareRejected = errors.New("share: share failed — check that the recipient exists")

// Form holds the grant fields as entered. Zero value is the default form:
// view permission, expiry off, empty recipient.
type Form struct {
	FileID         int64
	RecipientEmail string
	Permission     vault.Permission
	Expires        bool
}

// Submitter is the share surface of the vault client. *vault.Client
// satisfies it.
type Submitter interface {
	ShareFile(ctx context.Context, grant vault.ShareGrant) error
}

// Workflow drives a grant submission through
// Idle → Validating → Submitting → {Succeeded, Failed}. On success the
// form resets to defaults and the onSuccess hook runs (the caller chains
// a directory refresh there); on failure every field is kept for retry.
type Workflow struct {
	api       Submitter
	onSuccess func(ctx context.Context) error
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	form  Form
}

// New creates a Workflow in the Idle state with a default form.
// onSuccess may be nil.
func New(api Submitter, onSuccess func(ctx context.Context) error, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}

	return &Workflow{
		api:       api,
		onSuccess: onSuccess,
		logger:    logger,
		state:     StateIdle,
		form:      defaultForm(),
	}
}

func defaultForm() Form {
	return Form{Permission: vault.PermissionView}
}

// State returns the current workflow state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state
}

// Form returns a copy of the current form fields.
func (w *Workflow) Form() Form {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.form
}

// SetFileID selects the file being shared.
func (w *Workflow) SetFileID(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.form.FileID = id
}

// SetRecipient sets the recipient email.
func (w *Workflow) SetRecipient(email string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.form.RecipientEmail = email
}

// SetPermission sets the permission level. Invalid values are ignored and
// logged — the form can only ever hold one of the two defined levels.
func (w *Workflow) SetPermission(p vault.Permission) {
	if !p.Valid() {
		w.logger.Warn("ignoring invalid permission", slog.String("permission", string(p)))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.form.Permission = p
}

// SetExpires toggles the 24-hour expiry.
func (w *Workflow) SetExpires(expires bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.form.Expires = expires
}

// Submit validates and submits the grant. On success the form resets and
// the onSuccess hook runs; on any failure the form is left untouched so
// the user can retry.
func (w *Workflow) Submit(ctx context.Context) error {
	w.mu.Lock()
	w.state = StateValidating

	if w.form.RecipientEmail == "" {
		w.state = StateFailed
		w.mu.Unlock()

		return ErrNoRecipient
	}

	grant := vault.ShareGrant{
		FileID:         w.form.FileID,
		RecipientEmail: w.form.RecipientEmail,
		Permission:     w.form.Permission,
	}

	// The expiry field must be entirely absent unless the toggle is on —
	// absence, not zero, signals "no expiry".
	if w.form.Expires {
		hours := expiryHours
		grant.ExpiresInHours = &hours
	}

	w.state = StateSubmitting
	w.mu.Unlock()

	err := w.api.ShareFile(ctx, grant)

	w.mu.Lock()

	if err != nil {
		w.state = StateFailed
		w.mu.Unlock()

		w.logger.Warn("share grant rejected",
			slog.Int64("file_id", grant.FileID),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("%w: %v", ErrShareRejected, err)
	}

	w.state = StateSucceeded
	w.form = defaultForm()
	w.mu.Unlock()

	w.logger.Info("share grant succeeded",
		slog.Int64("file_id", grant.FileID),
		slog.String("recipient", grant.RecipientEmail),
	)

	if w.onSuccess != nil {
		if refreshErr := w.onSuccess(ctx); refreshErr != nil {
			w.logger.Warn("post-share refresh failed",
				slog.String("error", refreshErr.Error()),
			)
		}
	}

	return nil
}
