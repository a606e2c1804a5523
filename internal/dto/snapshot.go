package dto

import "time"

// Due date origins for an AssignmentRef.
const (
	DueSourceNative    = "native"
	DueSourceCourseEnd = "course_end_fallback"
)

// AssignmentRef is the per-assignment slice of a snapshot. DueAt is the
// effective due timestamp after any course end-date substitution; DueSource
// records where it came from.
type AssignmentRef struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	DueAt     *time.Time `json:"due_at"`
	DueSource string     `json:"due_source,omitempty"`
	HTMLURL   string     `json:"html_url"`
}

// GradeRecord carries a course's current grading state.
type GradeRecord struct {
	CurrentScore *float64 `json:"current_score"`
	CurrentGrade *string  `json:"current_grade"`
}

// Announcement is one announcement within the configured window. Snippet is a
// sanitized plain-text excerpt of the announcement body.
type Announcement struct {
	CourseID string     `json:"course_id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet,omitempty"`
	HTMLURL  string     `json:"html_url"`
	PostedAt *time.Time `json:"posted_at"`
}

// OptionsApplied echoes the configuration a snapshot was built with.
type OptionsApplied struct {
	DaysAhead        int    `json:"days_ahead"`
	AnnouncementDays int    `json:"announcement_days"`
	MissingLookback  int    `json:"missing_lookback"`
	UpdateInterval   string `json:"update_interval,omitempty"`
	EnableGPA        bool   `json:"enable_gpa"`
	GPAScale         string `json:"gpa_scale"`
}

// Snapshot is the immutable result of one refresh cycle. Every *_by_course
// key belongs to the cycle's active, non-hidden course set; a course whose
// sub-fetch failed is simply absent from the affected map.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	BaseURL     string    `json:"base_url"`
	SchoolName  string    `json:"school_name,omitempty"`
	StudentName string    `json:"student_name,omitempty"`

	CourseNamesByID   map[string]string      `json:"course_names_by_id"`
	GradeURLsByCourse map[string]string      `json:"grade_urls_by_course"`
	GradesByCourse    map[string]GradeRecord `json:"grades_by_course"`

	AssignmentsByCourse        map[string][]AssignmentRef `json:"assignments_by_course"`
	MissingByCourse            map[string][]AssignmentRef `json:"missing_by_course"`
	UngradedByCourse           map[string][]AssignmentRef `json:"ungraded_by_course"`
	UndatedOutstandingByCourse map[string][]AssignmentRef `json:"undated_outstanding_by_course"`

	Announcements []Announcement `json:"announcements"`

	CoursesTotal int `json:"courses_total"`
	GradesTotal  int `json:"grades_total"`

	CreditsByCourse     map[string]float64 `json:"credits_by_course"`
	GradePointsByCourse map[string]float64 `json:"grade_points_by_course"`
	GPA                 *float64           `json:"gpa"`
	GPACredits          float64            `json:"gpa_credits"`
	GPAQualityPoints    float64            `json:"gpa_quality_points"`

	OptionsApplied OptionsApplied `json:"options_applied"`
}

// CourseIDs returns the cycle's active course IDs in unspecified order. The
// keys come from CourseNamesByID, which always holds the full filtered course
// set of the cycle.
func (s Snapshot) CourseIDs() []string {
	ids := make([]string, 0, len(s.CourseNamesByID))
	for id := range s.CourseNamesByID {
		ids = append(ids, id)
	}
	return ids
}
