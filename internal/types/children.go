package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Owned child collections. The remote API exposes no stable per-child ids
// across payload revisions, so every sync rebuilds these from scratch for the
// affected grant call.

type GrantDocument struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	GrantCallID uuid.UUID  `gorm:"column:grant_call_id;type:uuid;not null;index" json:"grant_call_id"`
	ExternalID  int64      `gorm:"column:external_id;not null;index" json:"external_id"`
	Name        string     `gorm:"column:name" json:"name"`
	FileName    string     `gorm:"column:file_name" json:"file_name"`
	SizeBytes   int64      `gorm:"column:size_bytes" json:"size_bytes"`
	ModifiedAt  *time.Time `gorm:"column:modified_at" json:"modified_at,omitempty"`
	PublishedAt *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`

	// Set by the document storage worker after a successful fetch; empty
	// until then. Rebuilds preserve previously stored pointers by external id.
	StorageKey string `gorm:"column:storage_key" json:"storage_key"`
	FileURL    string `gorm:"column:file_url" json:"file_url"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (GrantDocument) TableName() string { return "grant_document" }

func (d *GrantDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

type GrantAnnouncement struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	GrantCallID uuid.UUID  `gorm:"column:grant_call_id;type:uuid;not null;index" json:"grant_call_id"`
	Number      int64      `gorm:"column:number" json:"number"`
	Title       string     `gorm:"column:title" json:"title"`
	TitleLang   string     `gorm:"column:title_lang" json:"title_lang"`
	Text        string     `gorm:"column:text" json:"text"`
	URL         string     `gorm:"column:url" json:"url"`
	Gazette     string     `gorm:"column:gazette" json:"gazette"`
	PublishedAt *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (GrantAnnouncement) TableName() string { return "grant_announcement" }

func (a *GrantAnnouncement) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

type GrantObjective struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	GrantCallID uuid.UUID `gorm:"column:grant_call_id;type:uuid;not null;index" json:"grant_call_id"`
	Description string    `gorm:"column:description;not null" json:"description"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (GrantObjective) TableName() string { return "grant_objective" }

func (o *GrantObjective) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
