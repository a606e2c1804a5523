package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	apiPrefix = "/api/v1"

	pathUsersSelf     = apiPrefix + "/users/self"
	pathCourses       = apiPrefix + "/courses"
	pathAssignments   = apiPrefix + "/courses/%s/assignments"
	pathSubmission    = apiPrefix + "/courses/%s/assignments/%s/submissions/self"
	pathSubmissions   = apiPrefix + "/courses/%s/students/submissions"
	pathAnnouncements = apiPrefix + "/announcements"
	pathEnrollments   = apiPrefix + "/courses/%s/enrollments"

	perPage = "50"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "canvaswatch",
		Subsystem: "canvas",
		Name:      "request_duration_seconds",
		Help:      "Duration of Canvas API requests, pagination included",
	}, []string{"operation"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvaswatch",
		Subsystem: "canvas",
		Name:      "request_failures_total",
		Help:      "Number of failed Canvas API requests",
	}, []string{"operation", "status"})

	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvaswatch",
		Subsystem: "canvas",
		Name:      "pages_fetched_total",
		Help:      "Number of Canvas result pages fetched",
	}, []string{"operation"})
)

// APIError is returned for any Canvas response with a status of 400 or above.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("canvas api error %d: %s", e.StatusCode, e.Body)
}

// Unauthorized reports whether the error signals a bad or expired token.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Client issues authenticated requests against one Canvas instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewClient builds a Canvas client. When httpClient is nil a default client
// with a 30 second timeout is used; timeout policy otherwise belongs to the
// caller's transport.
func NewClient(baseURL, token string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    httpClient,
		logger:  logger.With().Str("component", "canvas_client").Logger(),
		tracer:  otel.Tracer("github.com/campus-tools/canvaswatch/internal/canvas"),
	}
}

// BaseURL returns the configured Canvas base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// redactToken keeps only the first and last four runes of the token so
// diagnostics never leak the credential.
func redactToken(token string) string {
	runes := []rune(token)
	if len(runes) == 0 {
		return "<empty>"
	}
	if len(runes) <= 8 {
		return "…"
	}
	return string(runes[:4]) + "…" + string(runes[len(runes)-4:])
}

// get performs a single authenticated GET and returns the body and headers.
// Statuses of 400 and above become an *APIError.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build canvas request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("canvas request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read canvas response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Error().
			Str("base_url", c.baseURL).
			Str("token", redactToken(c.token)).
			Str("body", string(body)).
			Msg("canvas rejected the access token")
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("url", rawURL).
			Str("body", string(body)).
			Msg("canvas request failed")
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, resp.Header, nil
}

// getAllPages fetches every page of a collection by following rel="next"
// relations in the Link header. Array bodies are concatenated; a non-array
// body is appended as a single record. Next-page URLs are self-contained, so
// no query parameters are added after the first request.
func (c *Client) getAllPages(ctx context.Context, operation, path string, query url.Values) ([]json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "canvas.get_all_pages", trace.WithAttributes(
		attribute.String("canvas.operation", operation),
	))
	defer span.End()

	next := c.baseURL + path
	if len(query) > 0 {
		next += "?" + query.Encode()
	}

	start := time.Now()
	var records []json.RawMessage
	page := 0
	for next != "" {
		page++
		c.logger.Debug().Str("operation", operation).Str("url", next).Int("page", page).Msg("canvas GET")

		body, header, err := c.get(ctx, next)
		if err != nil {
			status := "transport"
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				status = fmt.Sprintf("%d", apiErr.StatusCode)
			}
			requestFailures.WithLabelValues(operation, status).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		pagesFetched.WithLabelValues(operation).Inc()

		trimmed := strings.TrimSpace(string(body))
		if strings.HasPrefix(trimmed, "[") {
			var pageRecords []json.RawMessage
			if err := json.Unmarshal(body, &pageRecords); err != nil {
				return nil, fmt.Errorf("decode canvas page: %w", err)
			}
			records = append(records, pageRecords...)
		} else {
			records = append(records, json.RawMessage(body))
		}

		next = nextLink(header)
	}

	requestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("canvas.pages", page), attribute.Int("canvas.records", len(records)))
	return records, nil
}

// nextLink extracts the rel="next" target from an RFC 5988 Link header, or
// returns an empty string when pagination is exhausted.
func nextLink(header http.Header) string {
	link := header.Get("Link")
	if link == "" {
		return ""
	}

	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end <= start+1 {
			return ""
		}
		return part[start+1 : end]
	}
	return ""
}

func decodeAll[T any](records []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, raw := range records {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode canvas record: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

// ListCourses returns all courses with an active enrollment.
func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	query := url.Values{}
	query.Set("enrollment_state", "active")
	query.Add("include[]", "term")
	query.Set("per_page", perPage)

	records, err := c.getAllPages(ctx, "list_courses", pathCourses, query)
	if err != nil {
		return nil, err
	}
	return decodeAll[Course](records)
}

// ListAssignments returns a course's assignments ordered by due date. A
// non-empty bucket applies Canvas' server-side semantic filter (for example
// "upcoming"); an empty bucket returns the full set.
func (c *Client) ListAssignments(ctx context.Context, courseID, bucket string) ([]Assignment, error) {
	query := url.Values{}
	query.Set("order_by", "due_at")
	query.Set("per_page", perPage)
	if bucket != "" {
		query.Set("bucket", bucket)
	}

	records, err := c.getAllPages(ctx, "list_assignments", fmt.Sprintf(pathAssignments, courseID), query)
	if err != nil {
		return nil, err
	}
	return decodeAll[Assignment](records)
}

// ListEnrollments returns the current user's student enrollments for a course,
// each carrying the grade record when Canvas supplies one.
func (c *Client) ListEnrollments(ctx context.Context, courseID string) ([]Enrollment, error) {
	query := url.Values{}
	query.Add("type[]", "StudentEnrollment")
	query.Set("user_id", "self")
	query.Set("per_page", perPage)

	records, err := c.getAllPages(ctx, "list_enrollments", fmt.Sprintf(pathEnrollments, courseID), query)
	if err != nil {
		return nil, err
	}
	return decodeAll[Enrollment](records)
}

// GetSubmission fetches the current user's submission for one assignment.
func (c *Client) GetSubmission(ctx context.Context, courseID, assignmentID string) (Submission, error) {
	records, err := c.getAllPages(ctx, "get_submission", fmt.Sprintf(pathSubmission, courseID, assignmentID), nil)
	if err != nil {
		return Submission{}, err
	}
	if len(records) == 0 {
		return Submission{}, nil
	}

	var submission Submission
	if err := json.Unmarshal(records[0], &submission); err != nil {
		return Submission{}, fmt.Errorf("decode canvas submission: %w", err)
	}
	return submission, nil
}

// ListSubmissions returns the current user's submissions for a course with the
// owning assignment included. A non-empty workflowState filters server-side.
func (c *Client) ListSubmissions(ctx context.Context, courseID, workflowState string) ([]Submission, error) {
	query := url.Values{}
	query.Add("student_ids[]", "self")
	query.Add("include[]", "assignment")
	query.Set("per_page", perPage)
	if workflowState != "" {
		query.Set("workflow_state", workflowState)
	}

	records, err := c.getAllPages(ctx, "list_submissions", fmt.Sprintf(pathSubmissions, courseID), query)
	if err != nil {
		return nil, err
	}
	return decodeAll[Submission](records)
}

// ListAnnouncements returns active announcements for the supplied course
// context codes posted inside [start, end], batched into a single call.
func (c *Client) ListAnnouncements(ctx context.Context, contextCodes []string, start, end time.Time) ([]Announcement, error) {
	query := url.Values{}
	for _, code := range contextCodes {
		query.Add("context_codes[]", code)
	}
	query.Set("start_date", start.Format(time.RFC3339))
	query.Set("end_date", end.Format(time.RFC3339))
	query.Set("active_only", "true")
	query.Set("per_page", perPage)

	records, err := c.getAllPages(ctx, "list_announcements", pathAnnouncements, query)
	if err != nil {
		return nil, err
	}
	return decodeAll[Announcement](records)
}

// GetSelf fetches the authenticated user, used as a startup credential probe.
func (c *Client) GetSelf(ctx context.Context) (User, error) {
	records, err := c.getAllPages(ctx, "get_self", pathUsersSelf, nil)
	if err != nil {
		return User{}, err
	}
	if len(records) == 0 {
		return User{}, fmt.Errorf("canvas returned no user record")
	}

	var user User
	if err := json.Unmarshal(records[0], &user); err != nil {
		return User{}, fmt.Errorf("decode canvas user: %w", err)
	}
	return user, nil
}
