package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/killallgit/marginalia/internal/models"
	"github.com/killallgit/marginalia/internal/services/annotations"
	"github.com/killallgit/marginalia/internal/services/locator"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
	"github.com/killallgit/marginalia/pkg/config"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 << 10

// Config holds configuration for the remote persistence client
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
	Burst             int
	UserAgent         string

	// Renderer and FragmentCatalog decode records that carry only the
	// numeric locator fields
	Renderer        models.RendererKind
	FragmentCatalog []string
}

// ConfigFrom builds a client config from the remote section
func ConfigFrom(cfg config.RemoteConfig, renderer models.RendererKind, catalog []string) Config {
	return Config{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		UserAgent:         cfg.UserAgent,
		Renderer:          renderer,
		FragmentCatalog:   catalog,
	}
}

// Client talks to the annotation persistence API
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	userAgent  string
	renderer   models.RendererKind
	catalog    []string
}

var _ annotations.Remote = (*Client)(nil)

// NewClient creates a new persistence API client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerSecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Marginalia/1.0"
	}
	if cfg.Renderer == "" {
		cfg.Renderer = models.RendererFlatText
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		renderer:   cfg.Renderer,
		catalog:    cfg.FragmentCatalog,
	}
}

// updateBody is the partial update sent for an edited annotation
type updateBody struct {
	SelectedText *string  `json:"selected_text,omitempty"`
	Content      *string  `json:"content"`
	Color        *string  `json:"color"`
	Tags         []string `json:"tags"`
	IsPrivate    *bool    `json:"is_private"`
}

// Create stores a new annotation and returns the server's version of it
func (c *Client) Create(ctx context.Context, a models.Annotation) (models.Annotation, error) {
	path := fmt.Sprintf("/api/v1/documents/%s/annotations", url.PathEscape(a.DocumentID))

	var saved models.WireAnnotation
	if err := c.do(ctx, "create", http.MethodPost, path, locator.Pack(a), &saved, a.ID); err != nil {
		return models.Annotation{}, err
	}
	return c.unpack(saved)
}

// Update pushes the mutable fields of an annotation
func (c *Client) Update(ctx context.Context, a models.Annotation) (models.Annotation, error) {
	tags := []string(a.Tags.Normalize())
	if tags == nil {
		tags = []string{}
	}
	body := updateBody{
		Content:   &a.Content,
		Color:     &a.Color,
		Tags:      tags,
		IsPrivate: &a.IsPrivate,
	}
	if a.Kind != models.KindBookmark {
		body.SelectedText = &a.SelectedText
	}

	var saved models.WireAnnotation
	if err := c.do(ctx, "update", http.MethodPut, "/api/v1/annotations/"+url.PathEscape(a.ID), body, &saved, a.ID); err != nil {
		return models.Annotation{}, err
	}
	return c.unpack(saved)
}

// Delete removes an annotation
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, "/api/v1/annotations/"+url.PathEscape(id), nil, nil, id)
}

// List fetches every annotation of a document. Records whose locator
// cannot be decoded are skipped.
func (c *Client) List(ctx context.Context, documentID string) ([]models.Annotation, error) {
	path := fmt.Sprintf("/api/v1/documents/%s/annotations", url.PathEscape(documentID))

	var list models.WireList
	if err := c.do(ctx, "list", http.MethodGet, path, nil, &list, documentID); err != nil {
		return nil, err
	}

	out := make([]models.Annotation, 0, len(list.Annotations))
	for _, w := range list.Annotations {
		a, err := c.unpack(w)
		if err != nil {
			log.Printf("[WARN] Skipping annotation %s of %s: %v", w.ID, documentID, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) unpack(w models.WireAnnotation) (models.Annotation, error) {
	a, err := locator.Unpack(w, c.renderer, c.catalog)
	if err != nil {
		return models.Annotation{}, apperrors.Wrap(err, apperrors.ErrCodeDecodeUnresolvable, "server returned an undecodable annotation")
	}
	return a, nil
}

// do performs one API request. result may be nil when the body is not needed.
func (c *Client) do(ctx context.Context, op, method, path string, body, result interface{}, id string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.TransportError(op, fmt.Errorf("rate limiter wait: %w", err))
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "encoding request body")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "creating request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.TransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp, id)
	}

	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return apperrors.TransportError(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// apiError is the error body returned by the server
type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func statusError(op string, resp *http.Response, id string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body apiError
	if json.Unmarshal(raw, &body) != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(raw))
	}
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound("annotation", id)
	case resp.StatusCode == http.StatusConflict:
		return apperrors.New(apperrors.ErrCodeConflict, body.Message).WithDetail("id", id)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return apperrors.New(apperrors.ErrCodeValidation, body.Message).WithDetail("id", id)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return apperrors.TransportError(op, fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Message))
	default:
		return apperrors.ExternalServiceError("persistence", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body.Message))
	}
}
