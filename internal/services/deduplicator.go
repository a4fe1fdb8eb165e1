package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"gorm.io/gorm"
)

// maxRegisterAttempts bounds the insert/lookup retry when racing registrations
// collide on the open-fingerprint index.
const maxRegisterAttempts = 5

// Deduplicator collapses repeated occurrences of a fault onto the open incident
// carrying the same fingerprint.
type Deduplicator struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDeduplicator creates a new Deduplicator
func NewDeduplicator(db *gorm.DB) *Deduplicator {
	return &Deduplicator{db: db, now: time.Now}
}

// Register stores the candidate as a new OPEN incident unless an open incident
// with the same fingerprint exists, in which case that incident's occurrence
// count and last-seen time are bumped and it is returned with duplicate=true.
func (d *Deduplicator) Register(ctx context.Context, candidate *database.Incident) (*database.Incident, bool, error) {
	if candidate.Fingerprint == "" {
		return nil, false, errors.New("candidate has no fingerprint")
	}

	for attempt := 1; attempt <= maxRegisterAttempts; attempt++ {
		incident, duplicate, err := d.register(ctx, candidate)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent registration inserted first; the next pass finds it.
			log.Printf("Deduplicator: fingerprint %s raced on insert (attempt %d)", shortFingerprint(candidate.Fingerprint), attempt)
			candidate.ID = ""
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return incident, duplicate, nil
	}
	return nil, false, fmt.Errorf("failed to register incident after %d attempts", maxRegisterAttempts)
}

func (d *Deduplicator) register(ctx context.Context, candidate *database.Incident) (*database.Incident, bool, error) {
	var result *database.Incident
	duplicate := false

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing database.Incident
		err := tx.Where("fingerprint = ? AND status <> ?", candidate.Fingerprint, database.IncidentStatusResolved).
			First(&existing).Error
		switch {
		case err == nil:
			now := d.now()
			if err := tx.Model(&database.Incident{}).Where("id = ?", existing.ID).
				Updates(map[string]interface{}{
					"occurrence_count": gorm.Expr("occurrence_count + ?", 1),
					"last_seen":        now,
				}).Error; err != nil {
				return err
			}
			if err := tx.Where("id = ?", existing.ID).First(&existing).Error; err != nil {
				return err
			}
			result = &existing
			duplicate = true
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			candidate.Status = database.IncidentStatusOpen
			candidate.OccurrenceCount = 1
			candidate.LastSeen = d.now()
			if err := tx.Create(candidate).Error; err != nil {
				return err
			}
			result = candidate
			return nil
		default:
			return err
		}
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("failed to register incident: %w", err)
	}
	return result, duplicate, nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
