// Package models defines the persisted entities for PolicyPulse.
//
// Bill is the aggregate root: it exclusively owns its texts, sponsors,
// amendments, analyses, and priority row (cascade delete). SyncRun owns its
// SyncError rows.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// GovernmentType classifies the level of government a bill belongs to.
type GovernmentType string

const (
	GovFederal GovernmentType = "federal"
	GovState   GovernmentType = "state"
	GovCounty  GovernmentType = "county"
	GovCity    GovernmentType = "city"
)

// BillStatus tracks a bill through its lifecycle. Transitions are arbitrary:
// the upstream provider is authoritative.
type BillStatus string

const (
	StatusNew        BillStatus = "new"
	StatusIntroduced BillStatus = "introduced"
	StatusUpdated    BillStatus = "updated"
	StatusPassed     BillStatus = "passed"
	StatusDefeated   BillStatus = "defeated"
	StatusVetoed     BillStatus = "vetoed"
	StatusEnacted    BillStatus = "enacted"
	StatusPending    BillStatus = "pending"
)

// AmendmentStatus tracks the disposition of an amendment.
type AmendmentStatus string

const (
	AmendmentProposed  AmendmentStatus = "proposed"
	AmendmentAdopted   AmendmentStatus = "adopted"
	AmendmentRejected  AmendmentStatus = "rejected"
	AmendmentWithdrawn AmendmentStatus = "withdrawn"
)

// ImpactLevel is the model-assessed severity of a bill's impact.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactModerate ImpactLevel = "moderate"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// SyncStatus is the lifecycle state of a sync run. pending → inProgress →
// {completed | partial | failed}; the last three are terminal.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncPartial    SyncStatus = "partial"
	SyncFailed     SyncStatus = "failed"
)

// SyncType distinguishes scheduled runs from manual ones.
type SyncType string

const (
	SyncManual SyncType = "manual"
	SyncDaily  SyncType = "daily"
	SyncWeekly SyncType = "weekly"
)

// Bill is a legislative proposal identified upstream by (DataSource,
// ExternalID). ChangeHash is the sole change-detection key; all timestamps
// are stored in UTC.
type Bill struct {
	ID         uint   `gorm:"primaryKey"`
	DataSource string `gorm:"size:32;not null;uniqueIndex:uq_bills_source_external,priority:1"`
	ExternalID string `gorm:"size:64;not null;uniqueIndex:uq_bills_source_external,priority:2"`

	GovernmentType   GovernmentType `gorm:"size:16;not null"`
	GovernmentSource string         `gorm:"size:128"`
	BillNumber       string         `gorm:"size:32;index"`
	BillType         string         `gorm:"size:32"`
	Title            string         `gorm:"type:text"`
	Description      string         `gorm:"type:text"`
	Status           BillStatus     `gorm:"size:16;not null;default:new"`
	URL              string         `gorm:"size:512"`
	StateLink        string         `gorm:"size:512"`
	ChangeHash       *string        `gorm:"size:64;index"`

	IntroducedDate *time.Time
	LastActionDate *time.Time
	StatusDate     *time.Time
	LastAPICheck   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Texts      []BillText    `gorm:"constraint:OnDelete:CASCADE"`
	Sponsors   []BillSponsor `gorm:"constraint:OnDelete:CASCADE"`
	Amendments []Amendment   `gorm:"constraint:OnDelete:CASCADE"`
	Analyses   []Analysis    `gorm:"constraint:OnDelete:CASCADE"`
	Priority   *Priority     `gorm:"constraint:OnDelete:CASCADE"`
}

// BillText is one version of a bill's text. Content always holds raw bytes;
// IsBinary selects the interpretation: true means a binary document whose
// ContentType is never text/plain, false means UTF-8 text.
type BillText struct {
	ID            uint `gorm:"primaryKey"`
	BillID        uint `gorm:"not null;uniqueIndex:uq_bill_texts_version,priority:1"`
	VersionNumber int  `gorm:"not null;uniqueIndex:uq_bill_texts_version,priority:2"`

	TextType    string `gorm:"size:64"`
	TextDate    *time.Time
	TextHash    string `gorm:"size:64"`
	IsBinary    bool
	ContentType string `gorm:"size:128"`
	SizeBytes   int64
	Content     []byte             `gorm:"type:bytea"`
	Metadata    datatypes.JSONMap  `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BillSponsor is replaced wholesale on each sync of the parent bill.
type BillSponsor struct {
	ID     uint `gorm:"primaryKey"`
	BillID uint `gorm:"not null;index"`

	PeopleID    int    `gorm:"index"`
	Name        string `gorm:"size:128"`
	Role        string `gorm:"size:32"`
	District    string `gorm:"size:64"`
	Party       string `gorm:"size:32"`
	SponsorType string `gorm:"size:32"`
	Position    int

	CreatedAt time.Time
}

// Amendment is upserted by (BillID, ExternalID).
type Amendment struct {
	ID         uint   `gorm:"primaryKey"`
	BillID     uint   `gorm:"not null;uniqueIndex:uq_amendments_external,priority:1"`
	ExternalID string `gorm:"size:64;not null;uniqueIndex:uq_amendments_external,priority:2"`

	Adopted     bool
	Status      AmendmentStatus `gorm:"size:16;not null;default:proposed"`
	Date        *time.Time
	Title       string `gorm:"type:text"`
	Description string `gorm:"type:text"`
	Hash        string `gorm:"size:64"`
	StateLink   string `gorm:"size:512"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Analysis is a versioned AI analysis of a bill. Versions are contiguous
// from 1 and exactly one row per bill is current at any time.
type Analysis struct {
	ID      uint `gorm:"primaryKey"`
	BillID  uint `gorm:"not null;uniqueIndex:uq_analyses_version,priority:1"`
	Version int  `gorm:"not null;uniqueIndex:uq_analyses_version,priority:2"`

	AnalysisDate     time.Time
	ModelVersion     string `gorm:"size:64"`
	Summary          string `gorm:"type:text"`
	ImpactCategory   string `gorm:"size:32"`
	ImpactLevel      ImpactLevel `gorm:"size:16"`
	ConfidenceScore  float64
	InsufficientText bool
	IsCurrent        bool           `gorm:"index"`
	RawPayload       datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Priority is the derived relevance triple for a bill, upserted on every
// sync and recomputed after analysis.
type Priority struct {
	ID     uint `gorm:"primaryKey"`
	BillID uint `gorm:"not null;uniqueIndex"`

	PublicHealthRelevance int
	LocalGovRelevance     int
	OverallPriority       int
	AutoCategorized       bool
	NotificationSent      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncRun records one execution of the sync engine. Counters reflect the
// bills actually committed, not attempted; ErrorSamples keeps at most five
// entries for quick inspection, the full set lives in SyncError.
type SyncRun struct {
	ID    uint   `gorm:"primaryKey"`
	RunID string `gorm:"size:36;uniqueIndex"`

	Type       SyncType   `gorm:"size:16;not null"`
	Status     SyncStatus `gorm:"size:16;not null;default:pending"`
	StartedAt  time.Time
	FinishedAt *time.Time

	NewBills          int
	UpdatedBills      int
	AmendmentsTracked int
	ErrorSamples      datatypes.JSON `gorm:"type:jsonb"`

	Errors []SyncError `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncError records a single per-item failure inside a sync run.
type SyncError struct {
	ID        uint `gorm:"primaryKey"`
	SyncRunID uint `gorm:"not null;index"`

	ExternalID string `gorm:"size:64"`
	ErrorType  string `gorm:"size:64"`
	Message    string `gorm:"type:text"`
	Stack      string `gorm:"type:text"`

	CreatedAt time.Time
}

// All returns every model for migration wiring.
func All() []any {
	return []any{
		&Bill{}, &BillText{}, &BillSponsor{}, &Amendment{},
		&Analysis{}, &Priority{}, &SyncRun{}, &SyncError{},
	}
}
