package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
)

// AnalysisInput is the persisted form of one model analysis.
type AnalysisInput struct {
	ModelVersion     string
	Summary          string
	ImpactCategory   string
	ImpactLevel      models.ImpactLevel
	ConfidenceScore  float64
	InsufficientText bool
	RawPayload       []byte
}

// impactScore maps an impact level onto the 0..100 priority scale.
func impactScore(level models.ImpactLevel) int {
	switch level {
	case models.ImpactCritical:
		return 100
	case models.ImpactHigh:
		return 75
	case models.ImpactModerate:
		return 50
	case models.ImpactLow:
		return 25
	default:
		return 0
	}
}

// InsertAnalysis appends a new analysis version for the bill. In one
// transaction it demotes the current analysis, writes the new row as
// version max+1 marked current, and recomputes the bill's priority with
// the model's impact level blended in.
func (s *Store) InsertAnalysis(ctx context.Context, billID uint, in *AnalysisInput) (*models.Analysis, error) {
	var analysis models.Analysis

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Analysis{}).
			Where("bill_id = ? AND is_current", billID).
			Update("is_current", false).Error; err != nil {
			return err
		}

		var maxVersion int
		if err := tx.Model(&models.Analysis{}).
			Where("bill_id = ?", billID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}

		analysis = models.Analysis{
			BillID:           billID,
			Version:          maxVersion + 1,
			AnalysisDate:     time.Now().UTC(),
			ModelVersion:     in.ModelVersion,
			Summary:          in.Summary,
			ImpactCategory:   in.ImpactCategory,
			ImpactLevel:      in.ImpactLevel,
			ConfidenceScore:  in.ConfidenceScore,
			InsufficientText: in.InsufficientText,
			IsCurrent:        true,
			RawPayload:       datatypes.JSON(in.RawPayload),
		}
		if err := tx.Create(&analysis).Error; err != nil {
			return err
		}

		var pr models.Priority
		err := tx.Where("bill_id = ?", billID).First(&pr).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			pr = models.Priority{BillID: billID}
		} else if err != nil {
			return err
		}
		level := in.ImpactLevel
		return s.upsertPriority(tx, billID,
			pr.PublicHealthRelevance, pr.LocalGovRelevance, &level)
	})
	if err != nil {
		return nil, &PersistenceError{Op: "insert analysis", Err: err}
	}
	return &analysis, nil
}

// upsertPriority writes the derived priority row. Without an impact level
// the overall score is the mean of the two relevance scores; with one, the
// model's assessment dominates the blend.
func (s *Store) upsertPriority(tx *gorm.DB, billID uint, health, localGov int, impact *models.ImpactLevel) error {
	var pr models.Priority
	err := tx.Where("bill_id = ?", billID).First(&pr).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		pr = models.Priority{BillID: billID}
	case err != nil:
		return err
	}

	pr.PublicHealthRelevance = health
	pr.LocalGovRelevance = localGov
	base := (health + localGov) / 2
	if impact != nil {
		pr.OverallPriority = (base*2 + impactScore(*impact)*3) / 5
	} else {
		pr.OverallPriority = base
	}
	pr.AutoCategorized = true
	return tx.Save(&pr).Error
}

// CurrentAnalysis returns the current analysis for a bill, or nil when the
// bill has never been analyzed.
func (s *Store) CurrentAnalysis(ctx context.Context, billID uint) (*models.Analysis, error) {
	var analysis models.Analysis
	err := s.db.WithContext(ctx).
		Where("bill_id = ? AND is_current", billID).
		First(&analysis).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "current analysis", Err: err}
	}
	return &analysis, nil
}

// BillsNeedingAnalysis lists bills that have stored text but either no
// analysis at all or an analysis older than the bill's last update,
// ordered by priority so the most relevant bills are analyzed first.
func (s *Store) BillsNeedingAnalysis(ctx context.Context, limit int) ([]models.Bill, error) {
	var bills []models.Bill
	q := s.db.WithContext(ctx).Model(&models.Bill{}).
		Joins("LEFT JOIN priorities ON priorities.bill_id = bills.id").
		Where("EXISTS (SELECT 1 FROM bill_texts WHERE bill_texts.bill_id = bills.id)").
		Where(`NOT EXISTS (
			SELECT 1 FROM analyses
			WHERE analyses.bill_id = bills.id
			  AND analyses.is_current
			  AND analyses.updated_at >= bills.updated_at)`).
		Order("COALESCE(priorities.overall_priority, 0) DESC").
		Order("bills.id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&bills).Error; err != nil {
		return nil, &PersistenceError{Op: "bills needing analysis", Err: err}
	}
	return bills, nil
}
