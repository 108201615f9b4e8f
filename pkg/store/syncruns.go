package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
)

// maxErrorSamples bounds the inline error excerpt stored on the run row;
// the full set lives in SyncError.
const maxErrorSamples = 5

// StartSyncRun creates a run row in the in_progress state.
func (s *Store) StartSyncRun(ctx context.Context, runType models.SyncType) (*models.SyncRun, error) {
	run := models.SyncRun{
		RunID:     uuid.NewString(),
		Type:      runType,
		Status:    models.SyncInProgress,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, &PersistenceError{Op: "start sync run", Err: err}
	}
	return &run, nil
}

// RecordSyncError appends one per-item failure to the run. The stack is a
// rendered error-chain excerpt, not a goroutine dump.
func (s *Store) RecordSyncError(ctx context.Context, runID uint, externalID, errorType, message, stack string) error {
	row := models.SyncError{
		SyncRunID:  runID,
		ExternalID: externalID,
		ErrorType:  errorType,
		Message:    message,
		Stack:      stack,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return &PersistenceError{Op: "record sync error", Err: err}
	}
	return nil
}

// FinishSyncRun closes the run with its final status and counters, folding
// up to maxErrorSamples recorded errors into the run row for inspection.
func (s *Store) FinishSyncRun(ctx context.Context, runID uint, status models.SyncStatus, newBills, updatedBills, amendments int) error {
	var samples []models.SyncError
	if err := s.db.WithContext(ctx).
		Where("sync_run_id = ?", runID).
		Order("id").Limit(maxErrorSamples).
		Find(&samples).Error; err != nil {
		return &PersistenceError{Op: "finish sync run", Err: err}
	}

	type sample struct {
		ExternalID string `json:"external_id,omitempty"`
		Type       string `json:"type"`
		Message    string `json:"message"`
	}
	out := make([]sample, 0, len(samples))
	for _, e := range samples {
		out = append(out, sample{ExternalID: e.ExternalID, Type: e.ErrorType, Message: e.Message})
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return &PersistenceError{Op: "finish sync run", Err: err}
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"status":             status,
			"finished_at":        &now,
			"new_bills":          newBills,
			"updated_bills":      updatedBills,
			"amendments_tracked": amendments,
			"error_samples":      datatypes.JSON(encoded),
		}).Error
	if err != nil {
		return &PersistenceError{Op: "finish sync run", Err: err}
	}
	return nil
}

// GetSyncRun loads a run with its errors.
func (s *Store) GetSyncRun(ctx context.Context, runID uint) (*models.SyncRun, error) {
	var run models.SyncRun
	err := s.db.WithContext(ctx).Preload("Errors").First(&run, runID).Error
	if err != nil {
		return nil, &PersistenceError{Op: "get sync run", Err: err}
	}
	return &run, nil
}

// LastSuccessfulSync returns the most recent run that finished completed,
// or nil when no sync has ever completed cleanly.
func (s *Store) LastSuccessfulSync(ctx context.Context) (*models.SyncRun, error) {
	var run models.SyncRun
	err := s.db.WithContext(ctx).
		Where("status = ?", models.SyncCompleted).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "last successful sync", Err: err}
	}
	return &run, nil
}
