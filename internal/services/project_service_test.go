package services

import (
	"context"
	"errors"
	"testing"

	"github.com/akmatori/autoheal/internal/database"
	"gorm.io/gorm"
)

func TestProjectService_CRUD(t *testing.T) {
	ctx := context.Background()
	svc := NewProjectService(setupTestDB(t))

	project := &database.Project{ID: "checkout", Name: "Checkout", RepoOwner: "acme", RepoName: "checkout"}
	if err := svc.Create(ctx, project); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if project.BaseBranch != "main" {
		t.Errorf("expected default base branch main, got %q", project.BaseBranch)
	}

	err := svc.Create(ctx, &database.Project{ID: "checkout", Name: "Dup"})
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("expected ErrDuplicatedKey, got %v", err)
	}

	channel := "#checkout-alerts"
	disabled := false
	updated, err := svc.Update(ctx, "checkout", ProjectUpdate{SlackChannel: &channel, Enabled: &disabled})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.SlackChannel != channel || updated.Enabled {
		t.Errorf("update not applied: %+v", updated)
	}
	if updated.Repository() != "acme/checkout" {
		t.Errorf("expected acme/checkout, got %q", updated.Repository())
	}

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Update(ctx, "missing", ProjectUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	projects, err := svc.List(ctx)
	if err != nil || len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d err=%v", len(projects), err)
	}
}
