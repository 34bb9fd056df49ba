package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

// Login submits credentials and returns the access/refresh token pair.
// Failures are classified: ErrInvalidCredentials for 401,
// ErrEndpointNotFound for 404 (misconfigured server URL), ErrUnreachable
// for network failures, and an APIError for everything else.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	c.logger.Info("logging in", slog.String("username", username))

	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("vault: marshaling login request: %w", err)
	}

	resp, err := c.doUnauthenticated(ctx, http.MethodPost, "/login", bytes.NewReader(body))
	if err != nil {
		return nil, classifyLoginError(err)
	}
	defer resp.Body.Close()

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("vault: decoding login response: %w", err)
	}

	if pair.Access == "" || pair.Refresh == "" {
		return nil, fmt.Errorf("vault: login response missing token pair")
	}

	c.logger.Info("login successful", slog.String("username", username))

	return &pair, nil
}

// classifyLoginError maps transport-level errors from the login endpoint
// to the credential-specific sentinels.
func classifyLoginError(err error) error {
	var apiErr *APIError

	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return ErrInvalidCredentials
		case http.StatusNotFound:
			return ErrEndpointNotFound
		}
	}

	return err
}

// Register creates a new account. It does not establish a session — the
// caller must log in separately. A 400 response carries per-field
// validation messages, surfaced as a *ValidationError.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	c.logger.Info("registering account",
		slog.String("username", username),
		slog.String("email", email),
	)

	body, err := json.Marshal(registerRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("vault: marshaling register request: %w", err)
	}

	resp, err := c.doUnauthenticated(ctx, http.MethodPost, "/register", bytes.NewReader(body))
	if err != nil {
		return classifyRegisterError(err)
	}
	defer resp.Body.Close()

	c.logger.Info("registration successful", slog.String("username", username))

	return nil
}

// classifyRegisterError re-parses a 400 response body as the field-error
// mapping the register endpoint returns.
func classifyRegisterError(err error) error {
	var apiErr *APIError

	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return err
	}

	var fields map[string][]string
	if jsonErr := json.Unmarshal([]byte(apiErr.Message), &fields); jsonErr != nil || len(fields) == 0 {
		return err
	}

	return &ValidationError{Fields: fields}
}

// Refresh exchanges the refresh token for a new access token. Returns
// ErrUnauthorized (via the APIError) when the refresh token itself is
// expired or revoked.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	c.logger.Debug("refreshing access token")

	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return "", fmt.Errorf("vault: marshaling refresh request: %w", err)
	}

	resp, err := c.doUnauthenticated(ctx, http.MethodPost, "/token/refresh", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("vault: decoding refresh response: %w", err)
	}

	if rr.Access == "" {
		return "", fmt.Errorf("vault: refresh response missing access token")
	}

	c.logger.Debug("access token refreshed")

	return rr.Access, nil
}
