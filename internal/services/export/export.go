package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/annotations"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
)

// Format is an export file format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "json" or "csv" in any case
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", apperrors.ValidationError("format", fmt.Sprintf("unsupported export format %q", s))
	}
}

// ContentType returns the MIME type of f
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Document is one document's exported annotations
type Document struct {
	DocumentID  string              `json:"document_id"`
	ExportedAt  time.Time           `json:"exported_at"`
	Count       int                 `json:"count"`
	Annotations []models.Annotation `json:"annotations"`
}

// NewDocument builds an export of list taken at exportedAt
func NewDocument(documentID string, list []models.Annotation, exportedAt time.Time) Document {
	if list == nil {
		list = []models.Annotation{}
	}
	return Document{
		DocumentID:  documentID,
		ExportedAt:  exportedAt.UTC(),
		Count:       len(list),
		Annotations: list,
	}
}

var csvHeader = []string{
	"id", "document_id", "kind", "locator", "selected_text", "content",
	"color", "tags", "is_private", "created_at", "updated_at",
}

// Write serializes doc to w in format
func Write(w io.Writer, format Format, doc Document) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding json export: %w", err)
		}
		return nil
	case FormatCSV:
		return writeCSV(w, doc)
	default:
		return apperrors.ValidationError("format", fmt.Sprintf("unsupported export format %q", format))
	}
}

func writeCSV(w io.Writer, doc Document) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, a := range doc.Annotations {
		locator, err := models.MarshalLocator(a.Locator)
		if err != nil {
			return fmt.Errorf("encoding locator of %s: %w", a.ID, err)
		}
		tags := a.Tags.Normalize()
		if tags == nil {
			tags = models.Tags{}
		}
		tagCell, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("encoding tags of %s: %w", a.ID, err)
		}

		documentID := a.DocumentID
		if documentID == "" {
			documentID = doc.DocumentID
		}
		row := []string{
			a.ID,
			documentID,
			string(a.Kind),
			string(locator),
			a.SelectedText,
			a.Content,
			a.Color,
			string(tagCell),
			strconv.FormatBool(a.IsPrivate),
			a.CreatedAt.UTC().Format(time.RFC3339Nano),
			a.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row %s: %w", a.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv export: %w", err)
	}
	return nil
}

// Read parses an export written by Write
func Read(r io.Reader, format Format) (Document, error) {
	switch format {
	case FormatJSON:
		var doc Document
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return Document{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed json export")
		}
		if doc.Annotations == nil {
			doc.Annotations = []models.Annotation{}
		}
		doc.Count = len(doc.Annotations)
		return doc, nil
	case FormatCSV:
		return readCSV(r)
	default:
		return Document{}, apperrors.ValidationError("format", fmt.Sprintf("unsupported export format %q", format))
	}
}

func readCSV(r io.Reader) (Document, error) {
	// Every row must have as many fields as the header
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return Document{Annotations: []models.Annotation{}}, nil
	}
	if err != nil {
		return Document{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed csv header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range csvHeader {
		if _, ok := col[name]; !ok {
			return Document{}, apperrors.MissingFieldError(name)
		}
	}

	doc := Document{Annotations: []models.Annotation{}}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Document{}, apperrors.Wrapf(err, apperrors.ErrCodeInvalidInput, "malformed csv at line %d", line)
		}
		a, err := parseRow(row, col)
		if err != nil {
			return Document{}, apperrors.Wrapf(err, apperrors.ErrCodeInvalidInput, "csv line %d", line)
		}
		if doc.DocumentID == "" {
			doc.DocumentID = a.DocumentID
		}
		doc.Annotations = append(doc.Annotations, a)
	}
	doc.Count = len(doc.Annotations)
	return doc, nil
}

func parseRow(row []string, col map[string]int) (models.Annotation, error) {
	get := func(name string) string { return row[col[name]] }

	kind, err := models.ParseKind(get("kind"))
	if err != nil {
		return models.Annotation{}, err
	}
	loc, err := models.UnmarshalLocator([]byte(get("locator")))
	if err != nil {
		return models.Annotation{}, err
	}
	var tags models.Tags
	if cell := get("tags"); cell != "" {
		if err := json.Unmarshal([]byte(cell), &tags); err != nil {
			return models.Annotation{}, fmt.Errorf("tags: %w", err)
		}
	}
	private, err := strconv.ParseBool(get("is_private"))
	if err != nil {
		return models.Annotation{}, fmt.Errorf("is_private: %w", err)
	}
	created, err := parseTime(get("created_at"))
	if err != nil {
		return models.Annotation{}, fmt.Errorf("created_at: %w", err)
	}
	updated, err := parseTime(get("updated_at"))
	if err != nil {
		return models.Annotation{}, fmt.Errorf("updated_at: %w", err)
	}

	return models.Annotation{
		ID:           get("id"),
		DocumentID:   get("document_id"),
		Kind:         kind,
		Locator:      loc,
		SelectedText: get("selected_text"),
		Content:      get("content"),
		Color:        get("color"),
		Tags:         tags.Normalize(),
		IsPrivate:    private,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// ToDraft turns an imported annotation into a store draft. Identity and
// timestamps are reassigned by the store on import.
func ToDraft(a models.Annotation) annotations.Draft {
	private := a.IsPrivate
	return annotations.Draft{
		Kind:         a.Kind,
		Locator:      models.CloneLocator(a.Locator),
		SelectedText: a.SelectedText,
		Content:      a.Content,
		Color:        a.Color,
		Tags:         append([]string(nil), a.Tags...),
		IsPrivate:    &private,
	}
}
