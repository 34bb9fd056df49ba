package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	// maxUploadBytes bounds multipart memory use for the dev server.
	maxUploadBytes = 512 << 20
)

type server struct {
	store  *store
	key    []byte
	logger *slog.Logger
}

func newServer(store *store, key []byte, logger *slog.Logger) *server {
	return &server{store: store, key: key, logger: logger}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/token/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/my-files", s.handleMyFiles)
		r.Get("/shared-files", s.handleSharedFiles)
		r.Post("/upload", s.handleUpload)
		r.Get("/download/{id}", s.handleDownload)
		r.Post("/share-file", s.handleShareFile)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// issueToken signs an HS256 token carrying the username and token type.
func (s *server) issueToken(username, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"username":   username,
		"token_type": tokenType,
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// parseToken verifies the signature and expiry and returns the username.
func (s *server) parseToken(raw, wantType string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		return s.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}

	if tt, _ := claims["token_type"].(string); tt != wantType {
		return "", fmt.Errorf("token type %q, want %q", tt, wantType)
	}

	username, _ := claims["username"].(string)
	if username == "" {
		return "", errors.New("token missing username claim")
	}

	return username, nil
}

type ctxKey int

const ctxKeyUsername ctxKey = 0

// requireAuth validates the Bearer access token and stores the username
// in the request context.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		username, err := s.parseToken(raw, "access")
		if err != nil {
			s.logger.Debug("rejecting token", "error", err.Error())
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if _, found := s.store.userByUsername(username); !found {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUsername, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func usernameFrom(r *http.Request) string {
	username, _ := r.Context().Value(ctxKeyUsername).(string)
	return username
}

type registerBody struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister validates the fields and creates the account. Validation
// failures return a 400 with a field-to-messages mapping.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	fields := make(map[string][]string)

	if body.Username == "" {
		fields["username"] = append(fields["username"], "This field is required.")
	}

	if body.Email == "" {
		fields["email"] = append(fields["email"], "This field is required.")
	} else if !strings.Contains(body.Email, "@") {
		fields["email"] = append(fields["email"], "Enter a valid email address.")
	}

	if len(body.Password) < 8 {
		fields["password"] = append(fields["password"], "Password must be at least 8 characters.")
	}

	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	if err := s.store.createUser(body.Username, body.Email, body.Password); err != nil {
		if errors.Is(err, errUserExists) {
			writeJSON(w, http.StatusBadRequest, map[string][]string{
				"username": {"A user with that username already exists."},
			})
			return
		}

		s.logger.Error("creating user", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("user registered", slog.String("username", body.Username))
	writeJSON(w, http.StatusCreated, map[string]string{"username": body.Username})
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if _, err := s.store.authenticate(body.Username, body.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "no active account found with the given credentials")
		return
	}

	access, err := s.issueToken(body.Username, "access", accessTokenTTL)
	if err == nil {
		var refresh string

		refresh, err = s.issueToken(body.Username, "refresh", refreshTokenTTL)
		if err == nil {
			s.logger.Info("user logged in", slog.String("username", body.Username))
			writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
			return
		}
	}

	s.logger.Error("issuing tokens", "error", err.Error())
	writeError(w, http.StatusInternalServerError, "internal error")
}

type refreshBody struct {
	Refresh string `json:"refresh"`
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Refresh == "" {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	username, err := s.parseToken(body.Refresh, "refresh")
	if err != nil {
		writeError(w, http.StatusUnauthorized, "refresh token invalid or expired")
		return
	}

	access, err := s.issueToken(username, "access", accessTokenTTL)
	if err != nil {
		s.logger.Error("issuing access token", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

type fileJSON struct {
	ID           int64  `json:"id"`
	OriginalName string `json:"original_name"`
	UploadedBy   string `json:"uploaded_by"`
	CreatedAt    string `json:"created_at"`
	FileSize     int64  `json:"file_size"`
}

func filesToJSON(files []*storedFile) []fileJSON {
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })

	out := make([]fileJSON, 0, len(files))
	for _, f := range files {
		out = append(out, fileJSON{
			ID:           f.ID,
			OriginalName: f.OriginalName,
			UploadedBy:   f.Owner,
			CreatedAt:    f.CreatedAt.Format(time.RFC3339),
			FileSize:     f.Size,
		})
	}

	return out
}

func (s *server) handleMyFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, filesToJSON(s.store.ownedFiles(usernameFrom(r))))
}

func (s *server) handleSharedFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, filesToJSON(s.store.sharedFiles(usernameFrom(r))))
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload")
		return
	}

	stored, err := s.store.saveFile(usernameFrom(r), header.Filename, data)
	if err != nil {
		s.logger.Error("storing upload", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("file uploaded",
		slog.String("owner", stored.Owner),
		slog.Int64("file_id", stored.ID),
		slog.Int64("size", stored.Size),
	)

	writeJSON(w, http.StatusCreated, filesToJSON([]*storedFile{stored})[0])
}

func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	f, data, err := s.store.openFile(usernameFrom(r), fileID)
	if err != nil {
		if errors.Is(err, errFileNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		s.logger.Error("opening file", slog.Int64("file_id", fileID), "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.OriginalName))
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	_, _ = w.Write(data)
}

type shareBody struct {
	FileID         int64  `json:"file_id"`
	Email          string `json:"email"`
	PermissionType string `json:"permission_type"`
	ExpiresInHours *int   `json:"expires_in_hours"`
}

func (s *server) handleShareFile(w http.ResponseWriter, r *http.Request) {
	var body shareBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if body.PermissionType != "view" && body.PermissionType != "edit" {
		writeError(w, http.StatusBadRequest, "permission_type must be view or edit")
		return
	}

	err := s.store.addShare(usernameFrom(r), body.FileID, body.Email, body.PermissionType, body.ExpiresInHours)
	if err != nil {
		switch {
		case errors.Is(err, errFileNotFound):
			writeError(w, http.StatusNotFound, "file not found")
		case errors.Is(err, errUserNotFound):
			writeError(w, http.StatusBadRequest, "recipient not found")
		default:
			s.logger.Error("recording share", "error", err.Error())
			writeError(w, http.StatusInternalServerError, "internal error")
		}

		return
	}

	s.logger.Info("file shared",
		slog.Int64("file_id", body.FileID),
		slog.String("recipient", body.Email),
		slog.String("permission", body.PermissionType),
	)

	writeJSON(w, http.StatusCreated, map[string]string{"status": "shared"})
}
