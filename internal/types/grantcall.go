package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GrantCall is one subsidy announcement mirrored from the national grants
// database. ExternalID is the remote numeric id, Code the human-readable
// BDNS number. ContentHash digests the full remote detail payload and gates
// re-processing; SummaryHash digests the cheaper search-page fields and is
// only used as a pre-filter.
type GrantCall struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID int64     `gorm:"column:external_id;not null;uniqueIndex" json:"external_id"`
	Code       string    `gorm:"column:code;not null;index" json:"code"`

	Title               string     `gorm:"column:title;not null" json:"title"`
	Description         string     `gorm:"column:description" json:"description"`
	OrganLevel1         string     `gorm:"column:organ_level1" json:"organ_level1"`
	OrganLevel2         string     `gorm:"column:organ_level2" json:"organ_level2"`
	OrganLevel3         string     `gorm:"column:organ_level3" json:"organ_level3"`
	BudgetTotal         *float64   `gorm:"column:budget_total" json:"budget_total,omitempty"`
	PublishedAt         *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`
	ApplicationOpensAt  *time.Time `gorm:"column:application_opens_at" json:"application_opens_at,omitempty"`
	ApplicationClosesAt *time.Time `gorm:"column:application_closes_at" json:"application_closes_at,omitempty"`
	Open                bool       `gorm:"column:open;not null;default:false" json:"open"`
	RegulationURL       string     `gorm:"column:regulation_url" json:"regulation_url"`
	ElectronicOffice    string     `gorm:"column:electronic_office" json:"electronic_office"`
	RecoveryFunded      bool       `gorm:"column:recovery_funded;not null;default:false" json:"recovery_funded"`

	PurposeID *uuid.UUID `gorm:"column:purpose_id;type:uuid;index" json:"purpose_id,omitempty"`
	Purpose   *Purpose   `gorm:"foreignKey:PurposeID;references:ID" json:"purpose,omitempty"`

	BeneficiaryTypes []*BeneficiaryType `gorm:"many2many:grant_call_beneficiary_type" json:"beneficiary_types,omitempty"`
	Instruments      []*Instrument      `gorm:"many2many:grant_call_instrument" json:"instruments,omitempty"`
	Regions          []*Region          `gorm:"many2many:grant_call_region" json:"regions,omitempty"`
	Funds            []*Fund            `gorm:"many2many:grant_call_fund" json:"funds,omitempty"`
	Sectors          []*Sector          `gorm:"many2many:grant_call_sector" json:"sectors,omitempty"`

	Documents     []*GrantDocument     `gorm:"constraint:OnDelete:CASCADE;foreignKey:GrantCallID;references:ID" json:"documents,omitempty"`
	Announcements []*GrantAnnouncement `gorm:"constraint:OnDelete:CASCADE;foreignKey:GrantCallID;references:ID" json:"announcements,omitempty"`
	Objectives    []*GrantObjective    `gorm:"constraint:OnDelete:CASCADE;foreignKey:GrantCallID;references:ID" json:"objectives,omitempty"`

	ContentHash  string         `gorm:"column:content_hash;not null;index" json:"content_hash"`
	SummaryHash  string         `gorm:"column:summary_hash" json:"summary_hash"`
	LastSyncedAt *time.Time     `gorm:"column:last_synced_at" json:"last_synced_at,omitempty"`
	RawDetail    datatypes.JSON `gorm:"column:raw_detail;type:jsonb" json:"raw_detail,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (GrantCall) TableName() string { return "grant_call" }

func (g *GrantCall) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}
