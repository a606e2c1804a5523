package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a Canvas resource identifier. The API serves IDs as JSON numbers but
// occasionally as strings; both forms decode into the same value.
type ID int64

// UnmarshalJSON accepts numeric and quoted identifiers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid canvas id %q: %w", s, err)
		}
		*id = ID(parsed)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n)
	return nil
}

// String renders the identifier in the decimal form used as map keys.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsZero reports whether the identifier is absent.
func (id ID) IsZero() bool {
	return id == 0
}

// Course is the subset of the Canvas course resource the poller consumes.
type Course struct {
	ID         ID     `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
}

// DisplayName prefers the course name, then the course code, then the raw ID.
func (c Course) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.CourseCode != "" {
		return c.CourseCode
	}
	return c.ID.String()
}

// Assignment is the subset of the Canvas assignment resource the poller consumes.
type Assignment struct {
	ID      ID         `json:"id"`
	Name    string     `json:"name"`
	DueAt   *time.Time `json:"due_at"`
	HTMLURL string     `json:"html_url"`
}

// Submission workflow states the pipeline branches on.
const (
	WorkflowSubmitted = "submitted"
	WorkflowGraded    = "graded"
)

// Submission is one student submission for an assignment. Assignment is
// populated only when the listing was requested with include[]=assignment.
type Submission struct {
	AssignmentID  ID          `json:"assignment_id"`
	SubmittedAt   *time.Time  `json:"submitted_at"`
	WorkflowState string      `json:"workflow_state"`
	Missing       bool        `json:"missing"`
	GradedAt      *time.Time  `json:"graded_at"`
	Grade         *string     `json:"grade"`
	Score         *float64    `json:"score"`
	Assignment    *Assignment `json:"assignment"`
}

// Submitted reports whether the submission represents turned-in work.
func (s Submission) Submitted() bool {
	if s.SubmittedAt != nil {
		return true
	}
	return s.WorkflowState == WorkflowSubmitted || s.WorkflowState == WorkflowGraded
}

// Graded reports whether the submission already carries a grading outcome.
func (s Submission) Graded() bool {
	return s.GradedAt != nil || s.Score != nil
}

// Grades carries the current grading state of one enrollment.
type Grades struct {
	CurrentScore *float64 `json:"current_score"`
	CurrentGrade *string  `json:"current_grade"`
}

// Enrollment is the subset of the Canvas enrollment resource the poller consumes.
type Enrollment struct {
	Type   string  `json:"type"`
	Grades *Grades `json:"grades"`
}

// Announcement is one course-scoped announcement. CourseID may be zero when
// Canvas only supplies the context code.
type Announcement struct {
	ID          ID         `json:"id"`
	CourseID    ID         `json:"course_id"`
	ContextCode string     `json:"context_code"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	HTMLURL     string     `json:"html_url"`
	PostedAt    *time.Time `json:"posted_at"`
}

// User is the authenticated Canvas user, fetched once at startup to validate
// the configured token.
type User struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}
