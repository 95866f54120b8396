// Package backend is the client of the assessment REST API: reference data,
// assessment persistence and report generation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Default client settings.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultReferenceTTL = time.Minute
)

const maxErrorBody = 4096

// APIError is a non-2xx answer from the assessment API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("assessment api: %d %s", e.Status, e.Message)
}

// AssessmentInput creates an assessment.
type AssessmentInput struct {
	Title          string                     `json:"title"`
	OrganizationID string                     `json:"organizationId,omitempty"`
	CompanyName    string                     `json:"companyName,omitempty"`
	Industry       string                     `json:"industry,omitempty"`
	StepData       map[string]domain.StepData `json:"stepData"`
}

// StepUpdate patches one step of an assessment.
type StepUpdate struct {
	Step      string          `json:"step"`
	StepIndex int             `json:"stepIndex"`
	Data      domain.StepData `json:"data"`
	Completed bool            `json:"completed"`
}

// Assessment is the API's view of an assessment.
type Assessment struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
}

// Report identifies a generated report.
type Report struct {
	ID string `json:"id"`
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithReferenceTTL sets how long fetched reference data is reused.
func WithReferenceTTL(ttl time.Duration) Option {
	return func(c *Client) { c.refTTL = ttl }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client talks to the assessment API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time

	refTTL    time.Duration
	flight    singleflight.Group
	refMu     sync.RWMutex
	ref       *domain.ReferenceData
	refLoaded time.Time
}

// NewClient creates a client for the API at baseURL. A non-positive timeout
// uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
		logger:  slog.Default(),
		now:     time.Now,
		refTTL:  DefaultReferenceTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchReferenceData returns the department hierarchy and role list.
// Concurrent callers share one request, and results are reused for the
// reference TTL.
func (c *Client) FetchReferenceData(ctx context.Context) (domain.ReferenceData, error) {
	if ref, ok := c.cachedReference(); ok {
		return ref, nil
	}

	v, err, shared := c.flight.Do("reference-data", func() (any, error) {
		if ref, ok := c.cachedReference(); ok {
			return ref, nil
		}
		// Detached from the caller so one canceled request does not fail
		// everyone waiting on it.
		fetchCtx := context.WithoutCancel(ctx)
		var ref domain.ReferenceData
		if err := c.do(fetchCtx, "reference_data", http.MethodGet, "/api/roles-departments", nil, &ref); err != nil {
			return nil, err
		}
		if ref.Hierarchical == nil {
			ref.Hierarchical = []domain.Department{}
		}
		if ref.Roles == nil {
			ref.Roles = []domain.JobRole{}
		}

		c.refMu.Lock()
		c.ref = &ref
		c.refLoaded = c.now()
		c.refMu.Unlock()
		return ref, nil
	})
	if err != nil {
		return domain.ReferenceData{}, fmt.Errorf("fetch reference data: %w", err)
	}
	if shared {
		c.logger.Debug("Reference data request shared")
	}
	return v.(domain.ReferenceData), nil
}

func (c *Client) cachedReference() (domain.ReferenceData, bool) {
	c.refMu.RLock()
	defer c.refMu.RUnlock()
	if c.ref == nil || c.now().Sub(c.refLoaded) >= c.refTTL {
		return domain.ReferenceData{}, false
	}
	return *c.ref, true
}

// CreateAssessment creates an assessment and returns it.
func (c *Client) CreateAssessment(ctx context.Context, in AssessmentInput) (*Assessment, error) {
	var out Assessment
	if err := c.do(ctx, "create_assessment", http.MethodPost, "/api/assessments", in, &out); err != nil {
		return nil, fmt.Errorf("create assessment: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create assessment: response has no id")
	}
	return &out, nil
}

// UpdateAssessmentStep stores one step's data on an existing assessment.
func (c *Client) UpdateAssessmentStep(ctx context.Context, assessmentID string, upd StepUpdate) error {
	path := "/api/assessments/" + url.PathEscape(assessmentID) + "/step"
	if err := c.do(ctx, "update_step", http.MethodPatch, path, upd, nil); err != nil {
		return fmt.Errorf("update assessment %s step %s: %w", assessmentID, upd.Step, err)
	}
	return nil
}

// GenerateReport starts report generation and returns the report ID.
func (c *Client) GenerateReport(ctx context.Context, assessmentID string) (string, error) {
	var out Report
	path := "/api/reports/assessment/" + url.PathEscape(assessmentID)
	if err := c.do(ctx, "generate_report", http.MethodPost, path, nil, &out); err != nil {
		return "", fmt.Errorf("generate report for %s: %w", assessmentID, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("generate report for %s: response has no id", assessmentID)
	}
	return out.ID, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.BackendRequestsTotal.WithLabelValues(op, outcome).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} or {"message": "..."} from an error
// body, falling back to the raw text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
