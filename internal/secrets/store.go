// Package secrets keeps per-project credentials encrypted at rest.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/akmatori/autoheal/internal/database"
	"golang.org/x/crypto/nacl/secretbox"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const nonceSize = 24

// KeySize is the length of the master key in bytes
const KeySize = 32

var (
	// ErrInvalidKey is returned when the master key is malformed
	ErrInvalidKey = errors.New("secret key must be 32 bytes hex encoded")
	// ErrDecrypt is returned when a stored secret cannot be opened with the master key
	ErrDecrypt = errors.New("failed to decrypt secret")
	// ErrUnknownKind is returned for secret kinds the system does not use
	ErrUnknownKind = errors.New("unknown secret kind")
)

var knownKinds = map[string]bool{
	database.SecretKindGitHubToken:  true,
	database.SecretKindSandboxToken: true,
}

// IsKnownKind reports whether the kind is accepted by Put
func IsKnownKind(kind string) bool {
	return knownKinds[kind]
}

// Store encrypts secrets with NaCl secretbox before writing them to the database
type Store struct {
	db  *gorm.DB
	key [KeySize]byte
}

// ParseKey decodes a hex master key
func ParseKey(hexKey string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != KeySize {
		return key, ErrInvalidKey
	}
	copy(key[:], raw)
	return key, nil
}

// NewStore creates a Store using the hex-encoded master key
func NewStore(db *gorm.DB, hexKey string) (*Store, error) {
	key, err := ParseKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, key: key}, nil
}

// Put encrypts and upserts the secret for a project
func (s *Store) Put(ctx context.Context, projectID, kind, plaintext string) error {
	if !IsKnownKind(kind) {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	sealed, err := s.seal([]byte(plaintext))
	if err != nil {
		return err
	}

	secret := &database.ProjectSecret{
		ProjectID:  projectID,
		Kind:       kind,
		Ciphertext: sealed,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "updated_at"}),
	}).Create(secret).Error
	if err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// Get returns the decrypted secret. ok is false when no secret is stored.
func (s *Store) Get(ctx context.Context, projectID, kind string) (string, bool, error) {
	var secret database.ProjectSecret
	err := s.db.WithContext(ctx).Where("project_id = ? AND kind = ?", projectID, kind).First(&secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load secret: %w", err)
	}

	plaintext, err := s.open(secret.Ciphertext)
	if err != nil {
		return "", false, err
	}
	return string(plaintext), true, nil
}

// Kinds lists the secret kinds stored for a project, never their values
func (s *Store) Kinds(ctx context.Context, projectID string) ([]string, error) {
	var kinds []string
	err := s.db.WithContext(ctx).Model(&database.ProjectSecret{}).
		Where("project_id = ?", projectID).Order("kind ASC").Pluck("kind", &kinds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list secret kinds: %w", err)
	}
	return kinds, nil
}

// Delete removes a stored secret
func (s *Store) Delete(ctx context.Context, projectID, kind string) error {
	return s.db.WithContext(ctx).Where("project_id = ? AND kind = ?", projectID, kind).
		Delete(&database.ProjectSecret{}).Error
}

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
