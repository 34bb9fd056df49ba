package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonfs/anonfs-go/internal/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI records transfer calls and serves canned outcomes.
type fakeAPI struct {
	uploadName string
	uploadBody []byte
	uploadRes  *vault.FileResource
	uploadErr  error

	downloadPayload []byte
	downloadErr     error
}

func (f *fakeAPI) Upload(_ context.Context, filename string, r io.Reader) (*vault.FileResource, error) {
	f.uploadName = filename

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f.uploadBody = body

	if f.uploadErr != nil {
		return nil, f.uploadErr
	}

	return f.uploadRes, nil
}

func (f *fakeAPI) Download(_ context.Context, _ int64, w io.Writer) (int64, error) {
	if f.downloadErr != nil {
		return 0, f.downloadErr
	}

	n, err := w.Write(f.downloadPayload)

	return int64(n), err
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestUploadSendsBaseName(t *testing.T) {
	api := &fakeAPI{uploadRes: &vault.FileResource{ID: 7, OriginalName: "notes.txt", FileSize: 5}}
	o := New(api, nil, testLogger())

	path := writeTempFile(t, "notes.txt", "hello")

	res, err := o.Upload(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "notes.txt", api.uploadName)
	assert.Equal(t, []byte("hello"), api.uploadBody)
	assert.Equal(t, int64(7), res.ID)
}

func TestUploadRunsRefreshHook(t *testing.T) {
	api := &fakeAPI{uploadRes: &vault.FileResource{ID: 1}}

	refreshed := 0
	o := New(api, func(_ context.Context) error {
		refreshed++
		return nil
	}, testLogger())

	path := writeTempFile(t, "a.txt", "x")

	_, err := o.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)
}

func TestUploadFailureSkipsHook(t *testing.T) {
	api := &fakeAPI{uploadErr: vault.ErrServerError}

	refreshed := 0
	o := New(api, func(_ context.Context) error {
		refreshed++
		return nil
	}, testLogger())

	path := writeTempFile(t, "a.txt", "x")

	_, err := o.Upload(context.Background(), path)
	assert.ErrorIs(t, err, vault.ErrServerError)
	assert.Zero(t, refreshed)
}

func TestUploadHookFailureIsNotFatal(t *testing.T) {
	api := &fakeAPI{uploadRes: &vault.FileResource{ID: 1}}
	o := New(api, func(_ context.Context) error {
		return errors.New("refresh broke")
	}, testLogger())

	path := writeTempFile(t, "a.txt", "x")

	res, err := o.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestUploadCanceledCompletionAppliesNoSideEffects(t *testing.T) {
	api := &fakeAPI{uploadRes: &vault.FileResource{ID: 1}}

	refreshed := 0
	o := New(api, func(_ context.Context) error {
		refreshed++
		return nil
	}, testLogger())

	path := writeTempFile(t, "a.txt", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Upload(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, refreshed)
}

func TestUploadMissingFile(t *testing.T) {
	o := New(&fakeAPI{}, nil, testLogger())

	_, err := o.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestDownloadSaveAs(t *testing.T) {
	api := &fakeAPI{downloadPayload: []byte("file content")}
	o := New(api, nil, testLogger())

	dest := filepath.Join(t.TempDir(), "out.txt")

	n, err := o.Download(context.Background(), 42, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("file content")), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "file content", string(got))
}

func TestDownloadFailureLeavesNoFiles(t *testing.T) {
	api := &fakeAPI{downloadErr: &vault.DownloadError{StatusCode: 404, Reason: "not found"}}
	o := New(api, nil, testLogger())

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.txt")

	_, err := o.Download(context.Background(), 42, dest)
	require.Error(t, err)

	// Neither the destination nor a stray temp file may remain.
	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestDownloadErrorPassthrough(t *testing.T) {
	api := &fakeAPI{downloadErr: &vault.DownloadError{StatusCode: 404, Reason: "not found"}}
	o := New(api, nil, testLogger())

	_, err := o.Download(context.Background(), 42, filepath.Join(t.TempDir(), "x"))

	var dlErr *vault.DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, "not found", dlErr.Reason)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			"download not found",
			&vault.DownloadError{StatusCode: 404, Reason: "not found"},
			"Download failed: not found",
		},
		{
			"download with reason",
			&vault.DownloadError{StatusCode: 403, Reason: "permission denied"},
			"Download failed: permission denied",
		},
		{
			"download without reason",
			&vault.DownloadError{StatusCode: 500},
			"Download failed",
		},
		{
			"unreachable",
			vault.ErrUnreachable,
			"Transfer failed: server unreachable",
		},
		{
			"other",
			errors.New("disk full"),
			"Transfer failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
