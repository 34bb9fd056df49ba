package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := signingKey("")
	require.NoError(t, err)

	st, err := newStore(t.TempDir(), key, logger)
	require.NoError(t, err)

	srv := httptest.NewServer(newServer(st, key, logger).routes())
	t.Cleanup(srv.Close)

	return srv
}

func postJSON(t *testing.T, url string, body any, token string) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

func getAuthed(t *testing.T, url, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	return v
}

// registerAndLogin creates an account and returns its access token.
func registerAndLogin(t *testing.T, srv *httptest.Server, username, email string) string {
	t.Helper()

	resp := postJSON(t, srv.URL+"/register", map[string]string{
		"username": username, "email": email, "password": "hunter2222",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/login", map[string]string{
		"username": username, "password": "hunter2222",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tokens := decodeJSON[map[string]string](t, resp)
	require.NotEmpty(t, tokens["access"])
	require.NotEmpty(t, tokens["refresh"])

	return tokens["access"]
}

func uploadFile(t *testing.T, srv *httptest.Server, token, name, content string) fileJSON {
	t.Helper()

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decodeJSON[fileJSON](t, resp)
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestVault(t)

	resp := postJSON(t, srv.URL+"/register", map[string]string{
		"username": "", "email": "not-an-email", "password": "short",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fields := decodeJSON[map[string][]string](t, resp)
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
}

func TestRegisterDuplicateUsername(t *testing.T) {
	srv := newTestVault(t)
	registerAndLogin(t, srv, "alice", "alice@example.com")

	resp := postJSON(t, srv.URL+"/register", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "hunter2222",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fields := decodeJSON[map[string][]string](t, resp)
	assert.Contains(t, fields["username"][0], "already exists")
}

func TestLoginWrongPassword(t *testing.T) {
	srv := newTestVault(t)
	registerAndLogin(t, srv, "alice", "alice@example.com")

	resp := postJSON(t, srv.URL+"/login", map[string]string{
		"username": "alice", "password": "wrong",
	}, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshFlow(t *testing.T) {
	srv := newTestVault(t)

	resp := postJSON(t, srv.URL+"/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "hunter2222",
	}, "")
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/login", map[string]string{
		"username": "alice", "password": "hunter2222",
	}, "")
	tokens := decodeJSON[map[string]string](t, resp)

	// Exchange the refresh token for a fresh access token and use it.
	resp = postJSON(t, srv.URL+"/token/refresh", map[string]string{"refresh": tokens["refresh"]}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	renewed := decodeJSON[map[string]string](t, resp)
	require.NotEmpty(t, renewed["access"])

	resp = getAuthed(t, srv.URL+"/my-files", renewed["access"])
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	srv := newTestVault(t)
	access := registerAndLogin(t, srv, "alice", "alice@example.com")

	// An access token is not a refresh token.
	resp := postJSON(t, srv.URL+"/token/refresh", map[string]string{"refresh": access}, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestVault(t)

	for _, path := range []string{"/my-files", "/shared-files", "/download/1"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := getAuthed(t, srv.URL+"/my-files", "garbage-token")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadListDownloadRoundTrip(t *testing.T) {
	srv := newTestVault(t)
	token := registerAndLogin(t, srv, "alice", "alice@example.com")

	uploaded := uploadFile(t, srv, token, "notes.txt", "secret content")
	assert.Equal(t, "notes.txt", uploaded.OriginalName)
	assert.Equal(t, "alice", uploaded.UploadedBy)
	assert.Equal(t, int64(len("secret content")), uploaded.FileSize)

	resp := getAuthed(t, srv.URL+"/my-files", token)
	files := decodeJSON[[]fileJSON](t, resp)
	require.Len(t, files, 1)
	assert.Equal(t, uploaded.ID, files[0].ID)

	resp = getAuthed(t, srv.URL+"/download/"+strconv.FormatInt(uploaded.ID, 10), token)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// Round trip through encryption at rest.
	assert.Equal(t, "secret content", string(body))
}

func TestDownloadNotFound(t *testing.T) {
	srv := newTestVault(t)
	token := registerAndLogin(t, srv, "alice", "alice@example.com")

	resp := getAuthed(t, srv.URL+"/download/999", token)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	errBody := decodeJSON[map[string]string](t, resp)
	assert.Equal(t, "not found", errBody["error"])
}

func TestShareGrantsAccess(t *testing.T) {
	srv := newTestVault(t)
	aliceTok := registerAndLogin(t, srv, "alice", "alice@example.com")
	bobTok := registerAndLogin(t, srv, "bob", "bob@example.com")

	uploaded := uploadFile(t, srv, aliceTok, "shared.txt", "for bob")

	// Bob cannot see or fetch it yet.
	resp := getAuthed(t, srv.URL+"/shared-files", bobTok)
	assert.Empty(t, decodeJSON[[]fileJSON](t, resp))

	resp = getAuthed(t, srv.URL+"/download/"+strconv.FormatInt(uploaded.ID, 10), bobTok)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Alice shares it with bob's email.
	resp = postJSON(t, srv.URL+"/share-file", map[string]any{
		"file_id": uploaded.ID, "email": "bob@example.com", "permission_type": "view",
	}, aliceTok)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Now it appears in bob's shared view, attributed to alice.
	resp = getAuthed(t, srv.URL+"/shared-files", bobTok)
	shared := decodeJSON[[]fileJSON](t, resp)
	require.Len(t, shared, 1)
	assert.Equal(t, "alice", shared[0].UploadedBy)

	// And bob can download it.
	resp = getAuthed(t, srv.URL+"/download/"+strconv.FormatInt(uploaded.ID, 10), bobTok)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "for bob", string(body))
}

func TestShareValidation(t *testing.T) {
	srv := newTestVault(t)
	aliceTok := registerAndLogin(t, srv, "alice", "alice@example.com")
	registerAndLogin(t, srv, "bob", "bob@example.com")

	uploaded := uploadFile(t, srv, aliceTok, "a.txt", "x")

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{
			"unknown recipient",
			map[string]any{"file_id": uploaded.ID, "email": "ghost@example.com", "permission_type": "view"},
			http.StatusBadRequest,
		},
		{
			"missing email",
			map[string]any{"file_id": uploaded.ID, "permission_type": "view"},
			http.StatusBadRequest,
		},
		{
			"bad permission",
			map[string]any{"file_id": uploaded.ID, "email": "bob@example.com", "permission_type": "admin"},
			http.StatusBadRequest,
		},
		{
			"file not owned",
			map[string]any{"file_id": int64(999), "email": "bob@example.com", "permission_type": "view"},
			http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/share-file", tt.body, aliceTok)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestShareCannotShareOthersFile(t *testing.T) {
	srv := newTestVault(t)
	aliceTok := registerAndLogin(t, srv, "alice", "alice@example.com")
	bobTok := registerAndLogin(t, srv, "bob", "bob@example.com")

	uploaded := uploadFile(t, srv, aliceTok, "a.txt", "x")

	resp := postJSON(t, srv.URL+"/share-file", map[string]any{
		"file_id": uploaded.ID, "email": "alice@example.com", "permission_type": "view",
	}, bobTok)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExpiredShareIsInvisible(t *testing.T) {
	srv := newTestVault(t)
	aliceTok := registerAndLogin(t, srv, "alice", "alice@example.com")
	bobTok := registerAndLogin(t, srv, "bob", "bob@example.com")

	uploaded := uploadFile(t, srv, aliceTok, "a.txt", "x")

	// Zero-hour expiry makes the grant lapse immediately.
	hours := 0
	resp := postJSON(t, srv.URL+"/share-file", map[string]any{
		"file_id": uploaded.ID, "email": "bob@example.com", "permission_type": "view", "expires_in_hours": hours,
	}, aliceTok)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = getAuthed(t, srv.URL+"/shared-files", bobTok)
	assert.Empty(t, decodeJSON[[]fileJSON](t, resp))
}

