package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/akmatori/autoheal/internal/database"
	"gorm.io/gorm"
)

// ProjectService manages the project registry
type ProjectService struct {
	db *gorm.DB
}

// NewProjectService creates a new ProjectService
func NewProjectService(db *gorm.DB) *ProjectService {
	return &ProjectService{db: db}
}

// List returns all projects ordered by id
func (s *ProjectService) List(ctx context.Context) ([]database.Project, error) {
	var projects []database.Project
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// Get retrieves a project by id
func (s *ProjectService) Get(ctx context.Context, id string) (*database.Project, error) {
	var project database.Project
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// Create inserts a new project. A duplicate id surfaces as gorm.ErrDuplicatedKey.
func (s *ProjectService) Create(ctx context.Context, project *database.Project) error {
	if project.BaseBranch == "" {
		project.BaseBranch = "main"
	}
	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// ProjectUpdate carries optional project field changes
type ProjectUpdate struct {
	Name         *string
	RepoOwner    *string
	RepoName     *string
	BaseBranch   *string
	SlackChannel *string
	Enabled      *bool
}

// Update applies the non-nil fields of the update and returns the stored project
func (s *ProjectService) Update(ctx context.Context, id string, update ProjectUpdate) (*database.Project, error) {
	project, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if update.Name != nil {
		updates["name"] = *update.Name
	}
	if update.RepoOwner != nil {
		updates["repo_owner"] = *update.RepoOwner
	}
	if update.RepoName != nil {
		updates["repo_name"] = *update.RepoName
	}
	if update.BaseBranch != nil {
		updates["base_branch"] = *update.BaseBranch
	}
	if update.SlackChannel != nil {
		updates["slack_channel"] = *update.SlackChannel
	}
	if update.Enabled != nil {
		updates["enabled"] = *update.Enabled
	}
	if len(updates) == 0 {
		return project, nil
	}

	if err := s.db.WithContext(ctx).Model(project).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return s.Get(ctx, id)
}
