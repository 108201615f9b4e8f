package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
)

// MapStatus converts the upstream numeric status into a lifecycle status.
// Code 0 means the field was absent, which only happens for bills the
// upstream has not yet classified; unknown codes degrade to updated.
func MapStatus(code int) models.BillStatus {
	switch code {
	case 0:
		return models.StatusNew
	case 1:
		return models.StatusIntroduced
	case 2, 3:
		return models.StatusUpdated
	case 4:
		return models.StatusPassed
	case 5:
		return models.StatusVetoed
	case 6:
		return models.StatusDefeated
	case 7:
		return models.StatusEnacted
	default:
		return models.StatusUpdated
	}
}

// TextInput is one text version ready for persistence: content bytes are
// already sanitized (text) or signature-checked (binary) by the caller.
type TextInput struct {
	VersionNumber int
	TextType      string
	TextDate      *time.Time
	TextHash      string
	IsBinary      bool
	ContentType   string
	Content       []byte
	Metadata      map[string]any
}

// SponsorInput is one sponsor row; the full set replaces the previous set.
type SponsorInput struct {
	PeopleID    int
	Name        string
	Role        string
	District    string
	Party       string
	SponsorType string
	Position    int
}

// AmendmentInput is one amendment keyed by its upstream identifier.
type AmendmentInput struct {
	ExternalID  string
	Adopted     bool
	Date        *time.Time
	Title       string
	Description string
	Hash        string
	StateLink   string
}

// BillInput carries everything UpsertBill persists for one bill.
type BillInput struct {
	DataSource       string
	ExternalID       string
	GovernmentType   models.GovernmentType
	GovernmentSource string
	BillNumber       string
	BillType         string
	Title            string
	Description      string
	StatusCode       int
	URL              string
	StateLink        string
	ChangeHash       string
	IntroducedDate   *time.Time
	LastActionDate   *time.Time
	StatusDate       *time.Time

	Sponsors   []SponsorInput
	Texts      []TextInput
	Amendments []AmendmentInput

	HealthRelevance   int
	LocalGovRelevance int
}

// UpsertBill writes a bill and all its child rows in one transaction.
// Sponsors are replaced wholesale; texts and amendments are upserted by
// their natural keys; the priority row is recomputed from the relevance
// scores. Returns the persisted bill and whether it was newly created.
func (s *Store) UpsertBill(ctx context.Context, in *BillInput) (*models.Bill, bool, error) {
	var bill models.Bill
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("data_source = ? AND external_id = ?",
			in.DataSource, in.ExternalID).First(&bill).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			bill = models.Bill{
				DataSource: in.DataSource,
				ExternalID: in.ExternalID,
			}
		case err != nil:
			return err
		}

		bill.GovernmentType = in.GovernmentType
		bill.GovernmentSource = in.GovernmentSource
		bill.BillNumber = in.BillNumber
		bill.BillType = in.BillType
		bill.Title = in.Title
		bill.Description = in.Description
		bill.Status = MapStatus(in.StatusCode)
		bill.URL = in.URL
		bill.StateLink = in.StateLink
		if in.ChangeHash != "" {
			h := in.ChangeHash
			bill.ChangeHash = &h
		}
		bill.IntroducedDate = in.IntroducedDate
		bill.LastActionDate = in.LastActionDate
		bill.StatusDate = in.StatusDate
		bill.LastAPICheck = time.Now().UTC()

		if err := tx.Save(&bill).Error; err != nil {
			return err
		}

		if err := s.replaceSponsors(tx, bill.ID, in.Sponsors); err != nil {
			return err
		}
		if err := s.upsertTexts(tx, bill.ID, in.Texts); err != nil {
			return err
		}
		if err := s.upsertAmendments(tx, bill.ID, in.Amendments); err != nil {
			return err
		}
		return s.upsertPriority(tx, bill.ID, in.HealthRelevance, in.LocalGovRelevance, nil)
	})
	if err != nil {
		return nil, false, &PersistenceError{Op: "upsert bill", ExternalID: in.ExternalID, Err: err}
	}
	return &bill, created, nil
}

func (s *Store) replaceSponsors(tx *gorm.DB, billID uint, sponsors []SponsorInput) error {
	if err := tx.Where("bill_id = ?", billID).Delete(&models.BillSponsor{}).Error; err != nil {
		return err
	}
	for _, sp := range sponsors {
		row := models.BillSponsor{
			BillID:      billID,
			PeopleID:    sp.PeopleID,
			Name:        sp.Name,
			Role:        sp.Role,
			District:    sp.District,
			Party:       sp.Party,
			SponsorType: sp.SponsorType,
			Position:    sp.Position,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertTexts(tx *gorm.DB, billID uint, texts []TextInput) error {
	for _, t := range texts {
		var row models.BillText
		err := tx.Where("bill_id = ? AND version_number = ?",
			billID, t.VersionNumber).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.BillText{BillID: billID, VersionNumber: t.VersionNumber}
		case err != nil:
			return err
		}

		row.TextType = t.TextType
		row.TextDate = t.TextDate
		row.TextHash = t.TextHash
		row.IsBinary = t.IsBinary
		row.ContentType = t.ContentType
		row.SizeBytes = int64(len(t.Content))
		row.Content = t.Content
		if t.Metadata != nil {
			row.Metadata = datatypes.JSONMap(t.Metadata)
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// upsertAmendments skips entries with a blank external id; without the
// natural key the row could never be reconciled on a later sync.
func (s *Store) upsertAmendments(tx *gorm.DB, billID uint, amendments []AmendmentInput) error {
	for _, a := range amendments {
		if strings.TrimSpace(a.ExternalID) == "" {
			continue
		}
		var row models.Amendment
		err := tx.Where("bill_id = ? AND external_id = ?",
			billID, a.ExternalID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.Amendment{BillID: billID, ExternalID: a.ExternalID}
		case err != nil:
			return err
		}

		row.Adopted = a.Adopted
		if a.Adopted {
			row.Status = models.AmendmentAdopted
		} else {
			row.Status = models.AmendmentProposed
		}
		row.Date = a.Date
		row.Title = a.Title
		row.Description = a.Description
		row.Hash = a.Hash
		row.StateLink = a.StateLink
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// FindChangeHashes returns external id to stored change hash for all bills
// of a data source, the index the sync engine diffs against.
func (s *Store) FindChangeHashes(ctx context.Context, dataSource string) (map[string]string, error) {
	type row struct {
		ExternalID string
		ChangeHash *string
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Bill{}).
		Where("data_source = ?", dataSource).
		Select("external_id", "change_hash").
		Find(&rows).Error
	if err != nil {
		return nil, &PersistenceError{Op: "find change hashes", Err: err}
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		if r.ChangeHash != nil {
			out[r.ExternalID] = *r.ChangeHash
		} else {
			out[r.ExternalID] = ""
		}
	}
	return out, nil
}

// GetBill loads a bill with all child rows.
func (s *Store) GetBill(ctx context.Context, id uint) (*models.Bill, error) {
	var bill models.Bill
	err := s.db.WithContext(ctx).
		Preload("Texts").Preload("Sponsors").Preload("Amendments").
		Preload("Analyses").Preload("Priority").
		First(&bill, id).Error
	if err != nil {
		return nil, &PersistenceError{Op: "get bill", Err: err}
	}
	return &bill, nil
}

// RecentBills lists the most recently updated bills with their priority,
// newest first.
func (s *Store) RecentBills(ctx context.Context, limit int) ([]models.Bill, error) {
	var bills []models.Bill
	q := s.db.WithContext(ctx).
		Preload("Priority").
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&bills).Error; err != nil {
		return nil, &PersistenceError{Op: "recent bills", Err: err}
	}
	return bills, nil
}

// LatestText returns the highest-version text for a bill, or nil when the
// bill has no stored text.
func (s *Store) LatestText(ctx context.Context, billID uint) (*models.BillText, error) {
	var text models.BillText
	err := s.db.WithContext(ctx).
		Where("bill_id = ?", billID).
		Order("version_number DESC").
		First(&text).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "latest text", Err: err}
	}
	return &text, nil
}
