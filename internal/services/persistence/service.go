package persistence

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/locator"
	"github.com/killallgit/marginalia/internal/services/query"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ServiceImpl implements the Service interface
type ServiceImpl struct {
	repo Repository
}

// NewService creates a new persistence service
func NewService(repo Repository) Service {
	return &ServiceImpl{repo: repo}
}

// CreateAnnotation validates and stores a new annotation
func (s *ServiceImpl) CreateAnnotation(ctx context.Context, bookID string, req CreateRequest) (models.WireAnnotation, error) {
	if strings.TrimSpace(bookID) == "" {
		return models.WireAnnotation{}, apperrors.MissingFieldError("book_id")
	}
	kind, err := models.ParseKind(req.Type)
	if err != nil {
		return models.WireAnnotation{}, apperrors.ValidationError("type", err.Error())
	}
	if kind == models.KindNote && strings.TrimSpace(req.Content) == "" {
		return models.WireAnnotation{}, apperrors.MissingFieldError("content")
	}
	color, err := normalizeColor(req.Color)
	if err != nil {
		return models.WireAnnotation{}, err
	}
	if req.Locator != nil {
		if _, err := req.Locator.Locator(); err != nil {
			return models.WireAnnotation{}, apperrors.ValidationError("locator", err.Error())
		}
	}

	if req.ID != "" {
		if _, err := s.repo.GetAnnotationByID(ctx, req.ID); err == nil {
			return models.WireAnnotation{}, apperrors.AlreadyExists("annotation", req.ID)
		} else if !apperrors.Is(err, apperrors.ErrCodeNotFound) {
			return models.WireAnnotation{}, err
		}
	}

	private := true
	if req.IsPrivate != nil {
		private = *req.IsPrivate
	}
	text := req.SelectedText
	if kind == models.KindBookmark {
		text = ""
	}

	record := models.RecordFromWire(models.WireAnnotation{
		ID:            req.ID,
		BookID:        bookID,
		Type:          string(kind),
		PageNumber:    req.PageNumber,
		StartPosition: req.StartPosition,
		EndPosition:   req.EndPosition,
		SelectedText:  text,
		Content:       req.Content,
		Color:         color,
		Tags:          req.Tags,
		IsPrivate:     private,
		Locator:       req.Locator,
	})
	if err := s.repo.CreateAnnotation(ctx, &record); err != nil {
		return models.WireAnnotation{}, err
	}

	log.Printf("[INFO] Created %s %s on %s", kind, record.ID, bookID)
	return record.ToWire(), nil
}

// GetAnnotation retrieves one annotation
func (s *ServiceImpl) GetAnnotation(ctx context.Context, id string) (models.WireAnnotation, error) {
	record, err := s.repo.GetAnnotationByID(ctx, id)
	if err != nil {
		return models.WireAnnotation{}, err
	}
	return record.ToWire(), nil
}

// ListAnnotations runs the query engine over a document's annotations and
// returns the requested page of wire records
func (s *ServiceImpl) ListAnnotations(ctx context.Context, bookID string, opts ListOptions) (ListResult, error) {
	records, err := s.repo.ListAnnotationsByBook(ctx, bookID)
	if err != nil {
		return ListResult{}, err
	}

	byID := make(map[string]models.WireAnnotation, len(records))
	for _, r := range records {
		byID[r.ID] = r.ToWire()
	}
	matches := query.Apply(decodeAll(records), opts.Filter)

	wire := make([]models.WireAnnotation, 0, len(matches))
	for _, a := range matches {
		wire = append(wire, byID[a.ID])
	}

	result := ListResult{}
	if opts.Page > 0 || opts.PerPage > 0 {
		var page Pagination
		wire, page = paginate(wire, opts.Page, opts.PerPage)
		result.Pagination = &page
	}
	result.Annotations = wire
	result.Count = len(wire)
	return result, nil
}

// QueryAnnotations returns a document's annotations matching filter
func (s *ServiceImpl) QueryAnnotations(ctx context.Context, bookID string, filter query.Filter) ([]models.Annotation, error) {
	records, err := s.repo.ListAnnotationsByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return query.Apply(decodeAll(records), filter), nil
}

// UpdateAnnotation applies a partial update
func (s *ServiceImpl) UpdateAnnotation(ctx context.Context, id string, req UpdateRequest) (models.WireAnnotation, error) {
	record, err := s.repo.GetAnnotationByID(ctx, id)
	if err != nil {
		return models.WireAnnotation{}, err
	}

	if req.SelectedText != nil && record.Type != string(models.KindBookmark) {
		record.SelectedText = *req.SelectedText
	}
	if req.Content != nil {
		if record.Type == string(models.KindNote) && strings.TrimSpace(*req.Content) == "" {
			return models.WireAnnotation{}, apperrors.ValidationError("content", "a note needs content")
		}
		record.Content = *req.Content
	}
	if req.Color != nil {
		color, err := normalizeColor(*req.Color)
		if err != nil {
			return models.WireAnnotation{}, err
		}
		record.Color = color
	}
	if req.Tags != nil {
		record.Tags = models.NewTags(*req.Tags...)
	}
	if req.IsPrivate != nil {
		record.IsPrivate = *req.IsPrivate
	}

	if err := s.repo.UpdateAnnotation(ctx, record); err != nil {
		return models.WireAnnotation{}, err
	}
	return record.ToWire(), nil
}

// DeleteAnnotation removes one annotation
func (s *ServiceImpl) DeleteAnnotation(ctx context.Context, id string) error {
	if err := s.repo.DeleteAnnotation(ctx, id); err != nil {
		return err
	}
	log.Printf("[INFO] Deleted annotation %s", id)
	return nil
}

// BulkAction applies one action to every id independently. A failure on
// one id does not stop the others.
func (s *ServiceImpl) BulkAction(ctx context.Context, req BulkRequest) (BulkResponse, error) {
	ids := dedupe(req.AnnotationIDs)
	if len(ids) == 0 {
		return BulkResponse{}, apperrors.MissingFieldError("annotation_ids")
	}
	if len(ids) > MaxBulkIDs {
		return BulkResponse{}, apperrors.ValidationError("annotation_ids",
			fmt.Sprintf("%d ids requested, at most %d allowed", len(ids), MaxBulkIDs))
	}

	var apply func(*models.AnnotationRecord) error
	switch req.Action {
	case BulkDelete:
	case BulkUpdateTags:
		tags := models.NewTags(req.Parameters.Tags...)
		apply = func(r *models.AnnotationRecord) error {
			r.Tags = append(models.Tags(nil), tags...)
			return nil
		}
	case BulkUpdateColor:
		color, err := normalizeColor(req.Parameters.Color)
		if err != nil {
			return BulkResponse{}, err
		}
		apply = func(r *models.AnnotationRecord) error {
			r.Color = color
			return nil
		}
	case BulkTogglePrivate:
		apply = func(r *models.AnnotationRecord) error {
			if req.Parameters.IsPrivate != nil {
				r.IsPrivate = *req.Parameters.IsPrivate
			} else {
				r.IsPrivate = !r.IsPrivate
			}
			return nil
		}
	default:
		return BulkResponse{}, apperrors.ValidationError("action", fmt.Sprintf("unknown bulk action %q", req.Action))
	}

	resp := BulkResponse{Action: req.Action, Requested: len(ids), Errors: make(map[string]string)}
	for _, id := range ids {
		var err error
		if req.Action == BulkDelete {
			err = s.repo.DeleteAnnotation(ctx, id)
		} else {
			err = s.updateOne(ctx, id, apply)
		}
		if err != nil {
			resp.Errors[id] = err.Error()
			continue
		}
		resp.Succeeded++
	}
	resp.Failed = len(resp.Errors)
	if resp.Failed == 0 {
		resp.Errors = nil
	}

	log.Printf("[INFO] Bulk %s: %d of %d succeeded", req.Action, resp.Succeeded, resp.Requested)
	return resp, nil
}

func (s *ServiceImpl) updateOne(ctx context.Context, id string, apply func(*models.AnnotationRecord) error) error {
	record, err := s.repo.GetAnnotationByID(ctx, id)
	if err != nil {
		return err
	}
	if err := apply(record); err != nil {
		return err
	}
	return s.repo.UpdateAnnotation(ctx, record)
}

// Stats summarizes a document's annotations
func (s *ServiceImpl) Stats(ctx context.Context, bookID string) (StatsResult, error) {
	records, err := s.repo.ListAnnotationsByBook(ctx, bookID)
	if err != nil {
		return StatsResult{}, err
	}
	all := decodeAll(records)
	return StatsResult{
		Stats:   query.ComputeStats(all),
		Filters: query.AvailableFilters(all),
	}, nil
}

// decodeAll converts rows into annotations. Rows whose locator cannot be
// recovered are skipped.
func decodeAll(records []models.AnnotationRecord) []models.Annotation {
	out := make([]models.Annotation, 0, len(records))
	for _, r := range records {
		w := r.ToWire()
		a, err := locator.Unpack(w, inferRenderer(w), nil)
		if err != nil {
			log.Printf("[WARN] Skipping annotation %s: %v", r.ID, err)
			continue
		}
		out = append(out, a)
	}
	return out
}

// inferRenderer guesses the renderer of a row stored without a tagged
// locator. Only fixed layout documents carry a page number.
func inferRenderer(w models.WireAnnotation) models.RendererKind {
	if w.PageNumber > 0 {
		return models.RendererFixedLayout
	}
	return models.RendererFlatText
}

func normalizeColor(color string) (string, error) {
	if color == "" {
		return "", nil
	}
	hex, ok := models.NormalizeColor(color)
	if !ok {
		return "", apperrors.ValidationError("color", fmt.Sprintf("%q is not in the palette", color))
	}
	return hex, nil
}

func paginate(all []models.WireAnnotation, page, perPage int) ([]models.WireAnnotation, Pagination) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	total := len(all)
	totalPages := (total + perPage - 1) / perPage

	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return all[start:end], Pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
