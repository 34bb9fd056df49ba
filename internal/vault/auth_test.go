package vault

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginSuccess(t *testing.T) {
	var gotBody loginRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/login", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		// No Authorization header on the login endpoint.
		assert.Empty(t, r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"access":  "access-token",
			"refresh": "refresh-token",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	pair, err := c.Login(context.Background(), "alice", "hunter22")
	require.NoError(t, err)

	assert.Equal(t, "alice", gotBody.Username)
	assert.Equal(t, "hunter22", gotBody.Password)
	assert.Equal(t, "access-token", pair.Access)
	assert.Equal(t, "refresh-token", pair.Refresh)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "no active account found with the given credentials"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginEndpointNotFound(t *testing.T) {
	// A 404 on /login means a misconfigured server URL, not a missing user.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.Login(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestLoginMissingTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "only-one"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.Login(context.Background(), "alice", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token pair")
}

func TestRegisterSuccess(t *testing.T) {
	var gotBody registerRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.Register(context.Background(), "bob", "bob@example.com", "hunter22")
	require.NoError(t, err)

	assert.Equal(t, "bob", gotBody.Username)
	assert.Equal(t, "bob@example.com", gotBody.Email)
	assert.Equal(t, "hunter22", gotBody.Password)
}

func TestRegisterValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"username": ["A user with that username already exists."], "email": ["Enter a valid email address."]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.Register(context.Background(), "bob", "bad", "pw12345678")
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	assert.Equal(t, []string{"A user with that username already exists."}, vErr.Fields["username"])
	assert.Equal(t, "Enter a valid email address. A user with that username already exists.", vErr.Message())
}

func TestRegisterNonFieldBadRequest(t *testing.T) {
	// A 400 whose body is not a field mapping stays a plain APIError.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "malformed request body"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.Register(context.Background(), "bob", "bob@example.com", "pw12345678")
	require.Error(t, err)

	var vErr *ValidationError
	assert.False(t, errors.As(err, &vErr))
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestRefreshSuccess(t *testing.T) {
	var gotBody refreshRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token/refresh", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]string{"access": "fresh-access"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	access, err := c.Refresh(context.Background(), "refresh-token")
	require.NoError(t, err)

	assert.Equal(t, "refresh-token", gotBody.Refresh)
	assert.Equal(t, "fresh-access", access)
}

func TestRefreshExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "refresh token invalid or expired"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	_, err := c.Refresh(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
