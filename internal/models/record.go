package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AnnotationRecord is the persisted row of the reference server
type AnnotationRecord struct {
	ID             string    `gorm:"primaryKey;size:36"`
	BookID         string    `gorm:"not null;index"`
	Type           string    `gorm:"not null;index"`
	PageNumber     int       `gorm:"default:0"`
	StartPosition  int       `gorm:"default:0"`
	EndPosition    int       `gorm:"default:0"`
	SelectedText   string    `gorm:"type:text"`
	Content        string    `gorm:"type:text"`
	Color          string    `gorm:"size:16"`
	Tags           Tags      `gorm:"type:text"`
	IsPrivate      bool      `gorm:"not null"`
	LocatorKind    string    `gorm:"size:32"`
	LocatorPayload string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

// BeforeCreate generates a UUID when the client did not supply one
func (r *AnnotationRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TableName returns the table name for the AnnotationRecord model
func (AnnotationRecord) TableName() string {
	return "annotations"
}

// RecordFromWire converts an inbound wire record into a row
func RecordFromWire(w WireAnnotation) AnnotationRecord {
	rec := AnnotationRecord{
		ID:            w.ID,
		BookID:        w.BookID,
		Type:          w.Type,
		PageNumber:    w.PageNumber,
		StartPosition: w.StartPosition,
		EndPosition:   w.EndPosition,
		SelectedText:  w.SelectedText,
		Content:       w.Content,
		Color:         w.Color,
		Tags:          NewTags(w.Tags...),
		IsPrivate:     w.IsPrivate,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
	if w.Locator != nil {
		if payload, err := json.Marshal(w.Locator); err == nil {
			rec.LocatorKind = string(w.Locator.Kind)
			rec.LocatorPayload = string(payload)
		}
	}
	return rec
}

// ToWire converts a row into its wire form
func (r AnnotationRecord) ToWire() WireAnnotation {
	w := WireAnnotation{
		ID:            r.ID,
		BookID:        r.BookID,
		Type:          r.Type,
		PageNumber:    r.PageNumber,
		StartPosition: r.StartPosition,
		EndPosition:   r.EndPosition,
		SelectedText:  r.SelectedText,
		Content:       r.Content,
		Color:         r.Color,
		Tags:          []string(r.Tags.Normalize()),
		IsPrivate:     r.IsPrivate,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.LocatorPayload != "" {
		var env LocatorEnvelope
		if err := json.Unmarshal([]byte(r.LocatorPayload), &env); err == nil {
			w.Locator = &env
		}
	}
	return w
}
