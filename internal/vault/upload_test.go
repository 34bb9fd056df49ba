package vault

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadSendsMultipartFile(t *testing.T) {
	var (
		gotField    string
		gotFilename string
		gotContent  []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/upload", r.URL.Path)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		gotField = "file"
		gotFilename = header.Filename
		gotContent, err = io.ReadAll(file)
		require.NoError(t, err)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 7, "original_name": "notes.txt", "uploaded_by": "alice", "created_at": "2026-05-01T10:00:00Z", "file_size": 11}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	res, err := c.Upload(context.Background(), "notes.txt", strings.NewReader("hello vault"))
	require.NoError(t, err)

	assert.Equal(t, "file", gotField)
	assert.Equal(t, "notes.txt", gotFilename)
	assert.Equal(t, "hello vault", string(gotContent))

	assert.Equal(t, int64(7), res.ID)
	assert.Equal(t, "notes.txt", res.OriginalName)
	assert.Equal(t, int64(11), res.FileSize)
}

func TestUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "internal error"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.Upload(context.Background(), "x.txt", strings.NewReader("data"))
	assert.ErrorIs(t, err, ErrServerError)
}
