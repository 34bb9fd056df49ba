package main

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	errUserExists   = errors.New("username already taken")
	errUserNotFound = errors.New("user not found")
	errFileNotFound = errors.New("file not found")
)

type user struct {
	Username     string
	Email        string
	PasswordHash []byte
}

type storedFile struct {
	ID           int64
	Owner        string
	OriginalName string
	Size         int64
	CreatedAt    time.Time
	BlobName     string
}

type shareGrant struct {
	FileID     int64
	Recipient  string // email
	Permission string
	ExpiresAt  *time.Time
}

// store holds accounts, file metadata, and share grants in memory and
// blob contents encrypted at rest on disk. Metadata is rebuilt from
// scratch on restart, which keeps the dev server simple.
type store struct {
	dataDir string
	aead    cipher.AEAD
	logger  *slog.Logger

	mu     sync.Mutex
	users  map[string]*user // keyed by username
	files  map[int64]*storedFile
	shares []shareGrant
	nextID int64
}

func newStore(dataDir string, key []byte, logger *slog.Logger) (*store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Blob encryption key is derived from the signing secret so one flag
	// configures the whole server.
	blobKey := sha256.Sum256(key)

	block, err := aes.NewCipher(blobKey[:])
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}

	return &store{
		dataDir: dataDir,
		aead:    aead,
		logger:  logger,
		users:   make(map[string]*user),
		files:   make(map[int64]*storedFile),
		nextID:  1,
	}, nil
}

func (s *store) createUser(username, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return errUserExists
	}

	s.users[username] = &user{Username: username, Email: email, PasswordHash: hash}

	return nil
}

// authenticate verifies the credentials and returns the user.
func (s *store) authenticate(username, password string) (*user, error) {
	s.mu.Lock()
	u, ok := s.users[username]
	s.mu.Unlock()

	if !ok {
		return nil, errUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, errUserNotFound
	}

	return u, nil
}

func (s *store) userByUsername(username string) (*user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]

	return u, ok
}

// saveFile encrypts the payload, writes it under a random blob name, and
// records the metadata.
func (s *store) saveFile(owner, originalName string, data []byte) (*storedFile, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, data, nil)
	blobName := uuid.NewString()

	if err := os.WriteFile(filepath.Join(s.dataDir, blobName), sealed, 0o600); err != nil {
		return nil, fmt.Errorf("writing blob: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := &storedFile{
		ID:           s.nextID,
		Owner:        owner,
		OriginalName: originalName,
		Size:         int64(len(data)),
		CreatedAt:    time.Now().UTC(),
		BlobName:     blobName,
	}
	s.nextID++
	s.files[f.ID] = f

	return f, nil
}

// openFile returns the decrypted contents of a file the given user may
// read: either their own, or one shared with their email and not expired.
func (s *store) openFile(username string, fileID int64) (*storedFile, []byte, error) {
	s.mu.Lock()
	f, ok := s.files[fileID]

	allowed := ok && f.Owner == username
	if ok && !allowed {
		if u, found := s.users[username]; found {
			for _, g := range s.shares {
				if g.FileID == fileID && g.Recipient == u.Email && !g.expired() {
					allowed = true
					break
				}
			}
		}
	}
	s.mu.Unlock()

	if !ok || !allowed {
		return nil, nil, errFileNotFound
	}

	sealed, err := os.ReadFile(filepath.Join(s.dataDir, f.BlobName))
	if err != nil {
		return nil, nil, fmt.Errorf("reading blob: %w", err)
	}

	if len(sealed) < s.aead.NonceSize() {
		return nil, nil, fmt.Errorf("blob %s truncated", f.BlobName)
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]

	data, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting blob %s: %w", f.BlobName, err)
	}

	return f, data, nil
}

func (g *shareGrant) expired() bool {
	return g.ExpiresAt != nil && time.Now().After(*g.ExpiresAt)
}

func (s *store) ownedFiles(username string) []*storedFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*storedFile
	for _, f := range s.files {
		if f.Owner == username {
			out = append(out, f)
		}
	}

	return out
}

// sharedFiles returns the files shared with the user's email, skipping
// expired grants.
func (s *store) sharedFiles(username string) []*storedFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return nil
	}

	seen := make(map[int64]bool)

	var out []*storedFile
	for _, g := range s.shares {
		if g.Recipient != u.Email || g.expired() || seen[g.FileID] {
			continue
		}

		if f, found := s.files[g.FileID]; found {
			out = append(out, f)
			seen[g.FileID] = true
		}
	}

	return out
}

// addShare records a grant. The owner must own the file and the
// recipient email must belong to a registered user.
func (s *store) addShare(owner string, fileID int64, recipientEmail, permission string, expiresInHours *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok || f.Owner != owner {
		return errFileNotFound
	}

	found := false
	for _, u := range s.users {
		if u.Email == recipientEmail {
			found = true
			break
		}
	}

	if !found {
		return errUserNotFound
	}

	g := shareGrant{FileID: fileID, Recipient: recipientEmail, Permission: permission}

	if expiresInHours != nil {
		exp := time.Now().Add(time.Duration(*expiresInHours) * time.Hour)
		g.ExpiresAt = &exp
	}

	s.shares = append(s.shares, g)

	return nil
}
