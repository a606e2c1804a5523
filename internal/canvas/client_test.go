package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "secret-token-1234567890", server.Client(), zerolog.Nop()), server
}

func TestGetAllPagesFollowsLinkHeader(t *testing.T) {
	var requests []string
	mux := http.NewServeMux()

	var server *httptest.Server
	mux.HandleFunc("/api/v1/courses", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.String())
		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?page=2>; rel="next", <%s/api/v1/courses?page=1>; rel="first"`, server.URL, server.URL))
			fmt.Fprint(w, `[{"id": 1, "name": "Algebra"}, {"id": 2, "name": "Biology"}]`)
		case "2":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?page=3>; rel="next"`, server.URL))
			fmt.Fprint(w, `[{"id": 3, "name": "Chemistry"}]`)
		case "3":
			fmt.Fprint(w, `[{"id": 4, "name": "Drama"}]`)
		default:
			t.Fatalf("unexpected page %q", page)
		}
	})

	server = httptest.NewServer(mux)
	defer server.Close()
	client := NewClient(server.URL, "token-abcdefgh", server.Client(), zerolog.Nop())

	courses, err := client.ListCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 4)
	require.Equal(t, "Algebra", courses[0].Name)
	require.Equal(t, "Drama", courses[3].Name)
	require.Equal(t, "4", courses[3].ID.String())
	require.Len(t, requests, 3, "each page fetched exactly once, in order")
}

func TestGetAllPagesSendsAuthAndQuery(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret-token-1234567890", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		require.Equal(t, "active", r.URL.Query().Get("enrollment_state"))
		require.Equal(t, "50", r.URL.Query().Get("per_page"))
		fmt.Fprint(w, `[]`)
	}))

	courses, err := client.ListCourses(context.Background())
	require.NoError(t, err)
	require.Empty(t, courses)
}

func TestAPIErrorOnUnauthorized(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors":[{"message":"Invalid access token."}]}`)
	}))

	_, err := client.ListCourses(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.True(t, apiErr.Unauthorized())
	require.Contains(t, apiErr.Body, "Invalid access token")
}

func TestAPIErrorOnServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream broke")
	}))

	_, err := client.ListAssignments(context.Background(), "10", "upcoming")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.False(t, apiErr.Unauthorized())
}

func TestListAssignmentsBucketFilter(t *testing.T) {
	var buckets []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/courses/7/assignments", r.URL.Path)
		buckets = append(buckets, r.URL.Query().Get("bucket"))
		require.Equal(t, "due_at", r.URL.Query().Get("order_by"))
		fmt.Fprint(w, `[{"id": 11, "name": "Essay", "due_at": "2026-03-02T05:00:00Z", "html_url": "https://canvas.test/a/11"}]`)
	}))

	ctx := context.Background()
	withBucket, err := client.ListAssignments(ctx, "7", "upcoming")
	require.NoError(t, err)
	require.Len(t, withBucket, 1)
	require.NotNil(t, withBucket[0].DueAt)
	require.Equal(t, time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC), withBucket[0].DueAt.UTC())

	_, err = client.ListAssignments(ctx, "7", "")
	require.NoError(t, err)
	require.Equal(t, []string{"upcoming", ""}, buckets)
}

func TestGetSubmissionDecodesSingleObject(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/courses/7/assignments/11/submissions/self", r.URL.Path)
		fmt.Fprint(w, `{"assignment_id": 11, "workflow_state": "unsubmitted", "missing": true}`)
	}))

	submission, err := client.GetSubmission(context.Background(), "7", "11")
	require.NoError(t, err)
	require.True(t, submission.Missing)
	require.Equal(t, "11", submission.AssignmentID.String())
	require.False(t, submission.Submitted())
}

func TestListAnnouncementsBatchesContextCodes(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/announcements", r.URL.Path)
		require.Equal(t, []string{"course_1", "course_2"}, r.URL.Query()["context_codes[]"])
		require.Equal(t, "true", r.URL.Query().Get("active_only"))
		fmt.Fprint(w, `[{"id": 5, "context_code": "course_2", "title": "Exam moved", "posted_at": "2026-08-20T12:00:00Z"}]`)
	}))

	start := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	announcements, err := client.ListAnnouncements(context.Background(), []string{"course_1", "course_2"}, start, end)
	require.NoError(t, err)
	require.Len(t, announcements, 1)
	require.True(t, announcements[0].CourseID.IsZero())
	require.Equal(t, "course_2", announcements[0].ContextCode)
}

func TestNextLink(t *testing.T) {
	header := http.Header{}
	require.Empty(t, nextLink(header))

	header.Set("Link", `<https://canvas.test/api/v1/courses?page=2>; rel="current", <https://canvas.test/api/v1/courses?page=1>; rel="first"`)
	require.Empty(t, nextLink(header))

	header.Set("Link", `<https://canvas.test/api/v1/courses?page=1>; rel="first", <https://canvas.test/api/v1/courses?page=2&per_page=50>; rel="next"`)
	require.Equal(t, "https://canvas.test/api/v1/courses?page=2&per_page=50", nextLink(header))
}

func TestIDUnmarshalAcceptsNumberAndString(t *testing.T) {
	var course Course
	require.NoError(t, json.Unmarshal([]byte(`{"id": 42, "name": "Art"}`), &course))
	require.Equal(t, "42", course.ID.String())

	require.NoError(t, json.Unmarshal([]byte(`{"id": "314", "name": "Art"}`), &course))
	require.Equal(t, "314", course.ID.String())

	require.Error(t, json.Unmarshal([]byte(`{"id": "not-a-number"}`), &course))
}

func TestRedactToken(t *testing.T) {
	require.Equal(t, "<empty>", redactToken(""))
	require.Equal(t, "…", redactToken("short"))
	require.Equal(t, "1234…wxyz", redactToken("1234567890abcdwxyz"))
}
