package secrets

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/akmatori/autoheal/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(database.DriverSQLite, ":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })
	return db
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", testKey, false},
		{"too short", "0001", true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store, err := NewStore(db, testKey)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}

	if _, ok, err := store.Get(ctx, "checkout", database.SecretKindGitHubToken); err != nil || ok {
		t.Fatalf("expected missing secret, ok=%v err=%v", ok, err)
	}

	if err := store.Put(ctx, "checkout", database.SecretKindGitHubToken, "ghp_first"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := store.Put(ctx, "checkout", database.SecretKindGitHubToken, "ghp_second"); err != nil {
		t.Fatalf("Put (overwrite) error: %v", err)
	}

	value, ok, err := store.Get(ctx, "checkout", database.SecretKindGitHubToken)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if value != "ghp_second" {
		t.Errorf("expected overwritten value, got %q", value)
	}

	var stored database.ProjectSecret
	db.Where("project_id = ?", "checkout").First(&stored)
	if bytes.Contains(stored.Ciphertext, []byte("ghp_second")) {
		t.Error("plaintext must not be stored")
	}

	kinds, err := store.Kinds(ctx, "checkout")
	if err != nil || len(kinds) != 1 || kinds[0] != database.SecretKindGitHubToken {
		t.Errorf("unexpected kinds %v err=%v", kinds, err)
	}
}

func TestStore_UnknownKind(t *testing.T) {
	store, _ := NewStore(setupTestDB(t), testKey)
	err := store.Put(context.Background(), "checkout", "aws_key", "x")
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestStore_WrongKey(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store, _ := NewStore(db, testKey)
	if err := store.Put(ctx, "checkout", database.SecretKindSandboxToken, "s3cret"); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	other, _ := NewStore(db, strings.Repeat("ff", 32))
	if _, _, err := other.Get(ctx, "checkout", database.SecretKindSandboxToken); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
}
