package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/killallgit/marginalia/internal/models"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
	"gorm.io/gorm"
)

// RepositoryImpl implements the Repository interface
type RepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new annotation repository
func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

// CreateAnnotation inserts a new row
func (r *RepositoryImpl) CreateAnnotation(ctx context.Context, record *models.AnnotationRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return apperrors.DatabaseError("creating annotation", err)
	}
	return nil
}

// GetAnnotationByID retrieves an annotation by its ID
func (r *RepositoryImpl) GetAnnotationByID(ctx context.Context, id string) (*models.AnnotationRecord, error) {
	var record models.AnnotationRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("annotation", id)
		}
		return nil, apperrors.DatabaseError("getting annotation", err)
	}
	return &record, nil
}

// ListAnnotationsByBook retrieves all annotations of one document, oldest first
func (r *RepositoryImpl) ListAnnotationsByBook(ctx context.Context, bookID string) ([]models.AnnotationRecord, error) {
	var records []models.AnnotationRecord
	if err := r.db.WithContext(ctx).
		Where("book_id = ?", bookID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, apperrors.DatabaseError(fmt.Sprintf("listing annotations of %s", bookID), err)
	}
	return records, nil
}

// FindByIDs retrieves the rows whose id is in ids. Missing ids are skipped.
func (r *RepositoryImpl) FindByIDs(ctx context.Context, ids []string) ([]models.AnnotationRecord, error) {
	var records []models.AnnotationRecord
	if len(ids) == 0 {
		return records, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, apperrors.DatabaseError("finding annotations", err)
	}
	return records, nil
}

// UpdateAnnotation saves every column of an existing row
func (r *RepositoryImpl) UpdateAnnotation(ctx context.Context, record *models.AnnotationRecord) error {
	result := r.db.WithContext(ctx).Save(record)
	if result.Error != nil {
		return apperrors.DatabaseError("updating annotation", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("annotation", record.ID)
	}
	return nil
}

// DeleteAnnotation deletes an annotation by its ID
func (r *RepositoryImpl) DeleteAnnotation(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.AnnotationRecord{})
	if result.Error != nil {
		return apperrors.DatabaseError("deleting annotation", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("annotation", id)
	}
	return nil
}
