package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

var terminalStatuses = []database.IncidentStatus{
	database.IncidentStatusResolved,
	database.IncidentStatusFailed,
}

// IncidentFilter narrows incident listings
type IncidentFilter struct {
	ProjectID       string
	Status          database.IncidentStatus
	IncludeTerminal bool
	Limit           int
	Offset          int
}

// StatusChange describes a guarded status transition.
// From restricts the current status; empty means "any non-terminal status".
type StatusChange struct {
	From    database.IncidentStatus
	To      database.IncidentStatus
	Message string
	// Mutate, when set, edits the persisted metadata inside the same transaction.
	Mutate func(meta *database.IncidentMetadata)
}

// IncidentStore persists incidents and their agent runs
type IncidentStore struct {
	db *gorm.DB
}

// NewIncidentStore creates a new IncidentStore
func NewIncidentStore(db *gorm.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

// DB exposes the underlying handle for components sharing the transaction scope
func (s *IncidentStore) DB() *gorm.DB {
	return s.db
}

// Create inserts a new incident
func (s *IncidentStore) Create(ctx context.Context, incident *database.Incident) error {
	if err := s.db.WithContext(ctx).Create(incident).Error; err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// Get retrieves an incident by id
func (s *IncidentStore) Get(ctx context.Context, id string) (*database.Incident, error) {
	var incident database.Incident
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&incident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return &incident, nil
}

// List returns incidents matching the filter, newest first, with the total count
func (s *IncidentStore) List(ctx context.Context, filter IncidentFilter) ([]database.Incident, int64, error) {
	query := s.db.WithContext(ctx).Model(&database.Incident{})
	if filter.ProjectID != "" {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	} else if !filter.IncludeTerminal {
		query = query.Where("status NOT IN ?", terminalStatuses)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var incidents []database.Incident
	if err := query.Order("created_at DESC").Find(&incidents).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list incidents: %w", err)
	}
	return incidents, total, nil
}

// ListRecent returns the most recently created incidents regardless of status
func (s *IncidentStore) ListRecent(ctx context.Context, limit int) ([]database.Incident, error) {
	var incidents []database.Incident
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&incidents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent incidents: %w", err)
	}
	return incidents, nil
}

// ListByStatus returns incidents currently in any of the given statuses, oldest first
func (s *IncidentStore) ListByStatus(ctx context.Context, statuses ...database.IncidentStatus) ([]database.Incident, error) {
	var incidents []database.Incident
	err := s.db.WithContext(ctx).Where("status IN ?", statuses).Order("created_at ASC").Find(&incidents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents by status: %w", err)
	}
	return incidents, nil
}

// Transition applies a status change if the incident is still eligible.
// Terminal incidents are never modified. Returns the updated incident and
// whether the change was applied.
func (s *IncidentStore) Transition(ctx context.Context, id string, change StatusChange) (*database.Incident, bool, error) {
	var updated database.Incident
	applied := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{
			"status":         change.To,
			"status_message": change.Message,
			"updated_at":     now,
		}
		if change.To == database.IncidentStatusResolved {
			updates["resolved_at"] = now
		}

		query := tx.Model(&database.Incident{}).Where("id = ?", id)
		if change.From != "" {
			query = query.Where("status = ?", change.From)
		} else {
			query = query.Where("status NOT IN ?", terminalStatuses)
		}

		result := query.Updates(updates)
		if result.Error != nil {
			return result.Error
		}

		if err := tx.Where("id = ?", id).First(&updated).Error; err != nil {
			return err
		}
		if result.RowsAffected == 0 {
			return nil
		}
		applied = true

		if change.Mutate != nil {
			change.Mutate(&updated.Metadata)
			if err := tx.Model(&database.Incident{}).Where("id = ?", id).
				Update("metadata", updated.Metadata).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to transition incident %s to %s: %w", id, change.To, err)
	}
	return &updated, applied, nil
}

// UpdateMetadata applies mutate to the stored metadata under a row lock and
// persists the result. Terminal incidents are left untouched.
func (s *IncidentStore) UpdateMetadata(ctx context.Context, id string, mutate func(meta *database.IncidentMetadata)) (*database.Incident, error) {
	incident, _, err := s.updateMetadata(ctx, id, "", mutate)
	return incident, err
}

// UpdateMetadataIn is UpdateMetadata restricted to incidents still in status.
// The returned bool reports whether mutate was applied.
func (s *IncidentStore) UpdateMetadataIn(ctx context.Context, id string, status database.IncidentStatus, mutate func(meta *database.IncidentMetadata)) (*database.Incident, bool, error) {
	return s.updateMetadata(ctx, id, status, mutate)
}

func (s *IncidentStore) updateMetadata(ctx context.Context, id string, status database.IncidentStatus, mutate func(meta *database.IncidentMetadata)) (*database.Incident, bool, error) {
	var incident database.Incident
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&incident).Error; err != nil {
			return err
		}
		if incident.Status.IsTerminal() || (status != "" && incident.Status != status) {
			return nil
		}
		applied = true
		mutate(&incident.Metadata)
		incident.UpdatedAt = time.Now()
		return tx.Model(&database.Incident{}).Where("id = ?", id).
			Updates(map[string]interface{}{"metadata": incident.Metadata, "updated_at": incident.UpdatedAt}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to update incident metadata: %w", err)
	}
	return &incident, applied, nil
}

// StartRun records a WORKING agent run right before a step executes
func (s *IncidentStore) StartRun(ctx context.Context, incidentID string, agent database.AgentName, attempt int) (*database.AgentRun, error) {
	run := &database.AgentRun{
		IncidentID: incidentID,
		AgentName:  agent,
		Status:     database.AgentRunWorking,
		Attempt:    attempt,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to record agent run: %w", err)
	}
	return run, nil
}

// FinishRun finalizes a run. Runs already in a terminal status are left untouched.
func (s *IncidentStore) FinishRun(ctx context.Context, run *database.AgentRun, status database.AgentRunStatus, thoughts string, output database.JSONB) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("agent run cannot finish with status %s", status)
	}
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&database.AgentRun{}).
		Where("id = ? AND status NOT IN ?", run.ID, []database.AgentRunStatus{database.AgentRunCompleted, database.AgentRunFailed}).
		Updates(map[string]interface{}{
			"status":       status,
			"thoughts":     thoughts,
			"output":       output,
			"completed_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to finalize agent run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	run.Status = status
	run.Thoughts = thoughts
	run.Output = output
	run.CompletedAt = &now
	return true, nil
}

// ListRuns returns the agent run timeline of an incident in execution order
func (s *IncidentStore) ListRuns(ctx context.Context, incidentID string) ([]database.AgentRun, error) {
	var runs []database.AgentRun
	err := s.db.WithContext(ctx).Where("incident_id = ?", incidentID).
		Order("started_at ASC, created_at ASC").Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list agent runs: %w", err)
	}
	return runs, nil
}
