package persistence

import (
	"context"

	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/query"
)

// Repository defines data access methods for annotation rows
type Repository interface {
	CreateAnnotation(ctx context.Context, record *models.AnnotationRecord) error
	GetAnnotationByID(ctx context.Context, id string) (*models.AnnotationRecord, error)
	ListAnnotationsByBook(ctx context.Context, bookID string) ([]models.AnnotationRecord, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.AnnotationRecord, error)
	UpdateAnnotation(ctx context.Context, record *models.AnnotationRecord) error
	DeleteAnnotation(ctx context.Context, id string) error
}

// Service defines the business logic of the reference persistence server
type Service interface {
	CreateAnnotation(ctx context.Context, bookID string, req CreateRequest) (models.WireAnnotation, error)
	GetAnnotation(ctx context.Context, id string) (models.WireAnnotation, error)
	ListAnnotations(ctx context.Context, bookID string, opts ListOptions) (ListResult, error)
	QueryAnnotations(ctx context.Context, bookID string, filter query.Filter) ([]models.Annotation, error)
	UpdateAnnotation(ctx context.Context, id string, req UpdateRequest) (models.WireAnnotation, error)
	DeleteAnnotation(ctx context.Context, id string) error
	BulkAction(ctx context.Context, req BulkRequest) (BulkResponse, error)
	Stats(ctx context.Context, bookID string) (StatsResult, error)
}

// CreateRequest is the body of a create call. A client-chosen id is kept;
// otherwise the server assigns one.
type CreateRequest struct {
	ID            string                  `json:"id"`
	Type          string                  `json:"type" binding:"required"`
	PageNumber    int                     `json:"page_number"`
	StartPosition int                     `json:"start_position"`
	EndPosition   int                     `json:"end_position"`
	SelectedText  string                  `json:"selected_text"`
	Content       string                  `json:"content"`
	Color         string                  `json:"color"`
	Tags          []string                `json:"tags"`
	IsPrivate     *bool                   `json:"is_private"`
	Locator       *models.LocatorEnvelope `json:"locator"`
}

// UpdateRequest is a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	SelectedText *string   `json:"selected_text"`
	Content      *string   `json:"content"`
	Color        *string   `json:"color"`
	Tags         *[]string `json:"tags"`
	IsPrivate    *bool     `json:"is_private"`
}

// ListOptions narrows and pages a list call. PerPage 0 returns every match.
type ListOptions struct {
	Filter  query.Filter
	Page    int
	PerPage int
}

// Pagination describes one page of a list
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// ListResult is a filtered, sorted and possibly paged list
type ListResult struct {
	Annotations []models.WireAnnotation `json:"annotations"`
	Count       int                     `json:"count"`
	Pagination  *Pagination             `json:"pagination,omitempty"`
}

// Bulk actions accepted by BulkAction
const (
	BulkDelete        = "delete"
	BulkUpdateTags    = "update_tags"
	BulkUpdateColor   = "update_color"
	BulkTogglePrivate = "toggle_private"
)

// MaxBulkIDs caps the ids of one bulk request
const MaxBulkIDs = 100

// BulkParameters carries the arguments of a bulk action. IsPrivate nil
// with toggle_private flips each record.
type BulkParameters struct {
	Tags      []string `json:"tags,omitempty"`
	Color     string   `json:"color,omitempty"`
	IsPrivate *bool    `json:"is_private,omitempty"`
}

// BulkRequest applies one action to many annotations
type BulkRequest struct {
	Action        string         `json:"action" binding:"required"`
	AnnotationIDs []string       `json:"annotation_ids" binding:"required"`
	Parameters    BulkParameters `json:"parameters"`
}

// BulkResponse aggregates per-id outcomes
type BulkResponse struct {
	Action    string            `json:"action"`
	Requested int               `json:"requested"`
	Succeeded int               `json:"success"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// StatsResult is the dashboard summary of one document
type StatsResult struct {
	Stats   query.Stats  `json:"stats"`
	Filters query.Facets `json:"filters"`
}
