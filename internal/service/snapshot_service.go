package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/campus-tools/canvaswatch/internal/canvas"
	"github.com/campus-tools/canvaswatch/internal/dto"
	"github.com/campus-tools/canvaswatch/internal/observability"
)

const (
	bucketUpcoming = "upcoming"

	// announcement snippets are truncated to keep section payloads small.
	snippetMaxRunes = 280
)

// CanvasAPI is the slice of the Canvas client the snapshot builder depends on.
type CanvasAPI interface {
	BaseURL() string
	ListCourses(ctx context.Context) ([]canvas.Course, error)
	ListAssignments(ctx context.Context, courseID, bucket string) ([]canvas.Assignment, error)
	ListEnrollments(ctx context.Context, courseID string) ([]canvas.Enrollment, error)
	GetSubmission(ctx context.Context, courseID, assignmentID string) (canvas.Submission, error)
	ListSubmissions(ctx context.Context, courseID, workflowState string) ([]canvas.Submission, error)
	ListAnnouncements(ctx context.Context, contextCodes []string, start, end time.Time) ([]canvas.Announcement, error)
}

// SnapshotService builds one snapshot of the student's academic state.
type SnapshotService interface {
	Build(ctx context.Context, opts Options) (dto.Snapshot, error)
}

type snapshotService struct {
	client      CanvasAPI
	schoolName  string
	studentName string
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSnapshotService constructs the snapshot builder. The clock is injectable
// for deterministic tests via WithClock.
func NewSnapshotService(client CanvasAPI, schoolName, studentName string, logger zerolog.Logger) SnapshotService {
	return &snapshotService{
		client:      client,
		schoolName:  schoolName,
		studentName: studentName,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "snapshot_service").Logger(),
		tracer:      otel.Tracer("github.com/campus-tools/canvaswatch/internal/service/snapshot"),
		now:         time.Now,
	}
}

// WithClock replaces the builder's clock. Intended for tests.
func WithClock(s SnapshotService, now func() time.Time) SnapshotService {
	if svc, ok := s.(*snapshotService); ok {
		svc.now = now
	}
	return s
}

// Build runs one refresh cycle. Grade, missing-work and ungraded-work
// failures are tolerated per course; every other error aborts the cycle and
// the caller keeps serving the previously published snapshot.
func (s *snapshotService) Build(ctx context.Context, opts Options) (dto.Snapshot, error) {
	cycleID := uuid.NewString()
	logger := s.logger.With().Str("cycle_id", cycleID).Logger()

	ctx, span := s.tracer.Start(ctx, "snapshot.build", trace.WithAttributes(
		attribute.String("cycle_id", cycleID),
	))
	defer span.End()

	now := s.now().UTC()
	horizon := now.Add(time.Duration(opts.DaysAhead) * 24 * time.Hour)
	announcementStart := now.Add(-time.Duration(opts.AnnouncementDays) * 24 * time.Hour)
	missingCutoff := now.Add(-time.Duration(opts.MissingLookback) * 24 * time.Hour)
	endDates := resolveEndDates(opts.CourseEndDates, opts.Timezone, logger)

	courses, err := s.activeCourses(ctx, opts.HiddenCourses)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.Snapshot{}, err
	}
	logger.Debug().Int("courses", len(courses)).Msg("resolved active course set")

	snapshot := dto.Snapshot{
		GeneratedAt:                now,
		BaseURL:                    s.client.BaseURL(),
		SchoolName:                 s.schoolName,
		StudentName:                s.studentName,
		CourseNamesByID:            make(map[string]string, len(courses)),
		GradeURLsByCourse:          make(map[string]string, len(courses)),
		GradesByCourse:             make(map[string]dto.GradeRecord),
		AssignmentsByCourse:        make(map[string][]dto.AssignmentRef),
		MissingByCourse:            make(map[string][]dto.AssignmentRef),
		UngradedByCourse:           make(map[string][]dto.AssignmentRef),
		UndatedOutstandingByCourse: make(map[string][]dto.AssignmentRef),
		Announcements:              []dto.Announcement{},
		CreditsByCourse:            make(map[string]float64),
		GradePointsByCourse:        make(map[string]float64),
		CoursesTotal:               len(courses),
		OptionsApplied: dto.OptionsApplied{
			DaysAhead:        opts.DaysAhead,
			AnnouncementDays: opts.AnnouncementDays,
			MissingLookback:  opts.MissingLookback,
			EnableGPA:        opts.EnableGPA,
			GPAScale:         opts.GPAScale,
		},
	}
	if opts.PollInterval > 0 {
		snapshot.OptionsApplied.UpdateInterval = opts.PollInterval.String()
	}

	for _, course := range courses {
		courseID := course.ID.String()
		snapshot.CourseNamesByID[courseID] = course.DisplayName()
		snapshot.GradeURLsByCourse[courseID] = fmt.Sprintf("%s/courses/%s/grades", s.client.BaseURL(), courseID)
	}

	for _, course := range courses {
		courseID := course.ID.String()

		if record, ok := s.courseGrade(ctx, courseID, logger); ok {
			snapshot.GradesByCourse[courseID] = record
		}

		upcoming, err := s.upcomingAssignments(ctx, courseID, endDates[courseID], now, horizon)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return dto.Snapshot{}, err
		}
		snapshot.AssignmentsByCourse[courseID] = upcoming

		// One unfiltered listing serves both the missing-work and the
		// undated-outstanding passes.
		assignments, err := s.client.ListAssignments(ctx, courseID, "")
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return dto.Snapshot{}, fmt.Errorf("list assignments for course %s: %w", courseID, err)
		}

		if missing := s.missingAssignments(ctx, courseID, assignments, endDates[courseID], missingCutoff, now, logger); len(missing) > 0 {
			snapshot.MissingByCourse[courseID] = missing
		}

		if ungraded, ok := s.ungradedSubmissions(ctx, courseID, logger); ok && len(ungraded) > 0 {
			snapshot.UngradedByCourse[courseID] = ungraded
		}

		_, hasEndDate := endDates[courseID]
		if outstanding := s.undatedOutstanding(ctx, courseID, assignments, hasEndDate, logger); len(outstanding) > 0 {
			snapshot.UndatedOutstandingByCourse[courseID] = outstanding
		}
	}
	snapshot.GradesTotal = len(snapshot.GradesByCourse)

	announcements, err := s.announcements(ctx, courses, announcementStart, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.Snapshot{}, err
	}
	snapshot.Announcements = announcements

	if opts.EnableGPA {
		s.applyGPA(&snapshot, opts)
	}

	span.SetAttributes(
		attribute.Int("snapshot.courses", snapshot.CoursesTotal),
		attribute.Int("snapshot.grades", snapshot.GradesTotal),
		attribute.Int("snapshot.announcements", len(snapshot.Announcements)),
	)
	logger.Info().
		Int("courses", snapshot.CoursesTotal).
		Int("grades", snapshot.GradesTotal).
		Int("announcements", len(snapshot.Announcements)).
		Msg("snapshot built")

	return snapshot, nil
}

// activeCourses lists the active courses and removes hidden IDs. The result
// scopes every later step of the cycle.
func (s *snapshotService) activeCourses(ctx context.Context, hidden map[string]struct{}) ([]canvas.Course, error) {
	courses, err := s.client.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}

	filtered := courses[:0]
	for _, course := range courses {
		if _, isHidden := hidden[course.ID.String()]; isHidden {
			continue
		}
		filtered = append(filtered, course)
	}
	return filtered, nil
}

// courseGrade fetches the student enrollment's grade record for one course.
// A failed fetch is tolerated: the course is simply absent from the grades
// map that cycle.
func (s *snapshotService) courseGrade(ctx context.Context, courseID string, logger zerolog.Logger) (dto.GradeRecord, bool) {
	enrollments, err := s.client.ListEnrollments(ctx, courseID)
	if err != nil {
		observability.PollToleratedFailures().WithLabelValues("grades").Inc()
		logger.Warn().Err(err).Str("course_id", courseID).Msg("skipping grades for course")
		return dto.GradeRecord{}, false
	}

	for _, enrollment := range enrollments {
		if enrollment.Type != "StudentEnrollment" && enrollment.Grades == nil {
			continue
		}
		if enrollment.Grades == nil {
			return dto.GradeRecord{}, false
		}
		return dto.GradeRecord{
			CurrentScore: enrollment.Grades.CurrentScore,
			CurrentGrade: enrollment.Grades.CurrentGrade,
		}, true
	}
	return dto.GradeRecord{}, false
}

// effectiveDue substitutes the course end-date override when the assignment
// has no native due date. The second return value is the origin tag.
func effectiveDue(assignment canvas.Assignment, endDate time.Time) (*time.Time, string) {
	if assignment.DueAt != nil {
		due := assignment.DueAt.UTC()
		return &due, dto.DueSourceNative
	}
	if !endDate.IsZero() {
		due := endDate
		return &due, dto.DueSourceCourseEnd
	}
	return nil, dto.DueSourceNative
}

func assignmentRef(assignment canvas.Assignment, due *time.Time, source string) dto.AssignmentRef {
	return dto.AssignmentRef{
		ID:        assignment.ID.String(),
		Name:      assignment.Name,
		DueAt:     due,
		DueSource: source,
		HTMLURL:   assignment.HTMLURL,
	}
}

// upcomingAssignments prefers Canvas' native "upcoming" bucket. When the
// bucket comes back empty the full listing is windowed manually to
// (now, now+lookahead]. An assignment with no due date and no override is
// kept only when the native bucket returned it; the manual fallback would
// otherwise flood the list with every undated assignment in the course.
func (s *snapshotService) upcomingAssignments(ctx context.Context, courseID string, endDate time.Time, now, horizon time.Time) ([]dto.AssignmentRef, error) {
	assignments, err := s.client.ListAssignments(ctx, courseID, bucketUpcoming)
	if err != nil {
		return nil, fmt.Errorf("list upcoming assignments for course %s: %w", courseID, err)
	}

	fromFallback := false
	if len(assignments) == 0 {
		assignments, err = s.client.ListAssignments(ctx, courseID, "")
		if err != nil {
			return nil, fmt.Errorf("list assignments for course %s: %w", courseID, err)
		}
		fromFallback = true
	}

	upcoming := make([]dto.AssignmentRef, 0, len(assignments))
	for _, assignment := range assignments {
		due, source := effectiveDue(assignment, endDate)

		if due == nil {
			if fromFallback {
				continue
			}
			upcoming = append(upcoming, assignmentRef(assignment, nil, source))
			continue
		}

		if fromFallback && !due.After(now) {
			continue
		}
		if due.After(horizon) {
			continue
		}
		upcoming = append(upcoming, assignmentRef(assignment, due, source))
	}
	return upcoming, nil
}

// missingAssignments applies the lookback window over effective due dates and
// includes an assignment only when its submission reports missing=true. A
// failed submission lookup skips that assignment; the remote-reported flag is
// the single source of truth for missing work.
func (s *snapshotService) missingAssignments(ctx context.Context, courseID string, assignments []canvas.Assignment, endDate time.Time, cutoff, now time.Time, logger zerolog.Logger) []dto.AssignmentRef {
	var missing []dto.AssignmentRef
	for _, assignment := range assignments {
		due, source := effectiveDue(assignment, endDate)
		if due != nil && (due.Before(cutoff) || due.After(now)) {
			continue
		}

		submission, err := s.client.GetSubmission(ctx, courseID, assignment.ID.String())
		if err != nil {
			observability.PollToleratedFailures().WithLabelValues("missing").Inc()
			logger.Warn().Err(err).
				Str("course_id", courseID).
				Str("assignment_id", assignment.ID.String()).
				Msg("skipping missing-work check for assignment")
			continue
		}
		if !submission.Missing {
			continue
		}
		missing = append(missing, assignmentRef(assignment, due, source))
	}
	return missing
}

// ungradedSubmissions lists submitted work and keeps the entries Canvas has
// not graded yet. A failed listing is tolerated per course.
func (s *snapshotService) ungradedSubmissions(ctx context.Context, courseID string, logger zerolog.Logger) ([]dto.AssignmentRef, bool) {
	submissions, err := s.client.ListSubmissions(ctx, courseID, canvas.WorkflowSubmitted)
	if err != nil {
		observability.PollToleratedFailures().WithLabelValues("ungraded").Inc()
		logger.Warn().Err(err).Str("course_id", courseID).Msg("skipping ungraded work for course")
		return nil, false
	}

	var ungraded []dto.AssignmentRef
	for _, submission := range submissions {
		if submission.Graded() {
			continue
		}

		ref := dto.AssignmentRef{
			ID:        submission.AssignmentID.String(),
			DueSource: dto.DueSourceNative,
		}
		if submission.Assignment != nil {
			ref = assignmentRef(*submission.Assignment, nil, dto.DueSourceNative)
			if submission.Assignment.DueAt != nil {
				due := submission.Assignment.DueAt.UTC()
				ref.DueAt = &due
			}
		}
		ungraded = append(ungraded, ref)
	}
	return ungraded, true
}

// undatedOutstanding keeps assignments with no due date and no configured
// end-date override that also have no submission. A failed submission lookup
// counts the assignment as outstanding under the stricter no-submission rule.
func (s *snapshotService) undatedOutstanding(ctx context.Context, courseID string, assignments []canvas.Assignment, hasEndDate bool, logger zerolog.Logger) []dto.AssignmentRef {
	if hasEndDate {
		return nil
	}

	var outstanding []dto.AssignmentRef
	for _, assignment := range assignments {
		if assignment.DueAt != nil {
			continue
		}

		submission, err := s.client.GetSubmission(ctx, courseID, assignment.ID.String())
		if err != nil {
			observability.PollToleratedFailures().WithLabelValues("undated").Inc()
			logger.Debug().Err(err).
				Str("course_id", courseID).
				Str("assignment_id", assignment.ID.String()).
				Msg("treating assignment without fetchable submission as outstanding")
		} else if submission.Submitted() {
			continue
		}

		outstanding = append(outstanding, assignmentRef(assignment, nil, dto.DueSourceNative))
	}
	return outstanding
}

// announcements performs the single batched fetch across the filtered course
// set and normalizes course IDs, falling back to the course_<id> context code
// when the explicit field is absent.
func (s *snapshotService) announcements(ctx context.Context, courses []canvas.Course, start, end time.Time) ([]dto.Announcement, error) {
	if len(courses) == 0 {
		return []dto.Announcement{}, nil
	}

	contextCodes := make([]string, 0, len(courses))
	for _, course := range courses {
		contextCodes = append(contextCodes, "course_"+course.ID.String())
	}

	raw, err := s.client.ListAnnouncements(ctx, contextCodes, start, end)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}

	announcements := make([]dto.Announcement, 0, len(raw))
	for _, item := range raw {
		courseID := item.CourseID.String()
		if item.CourseID.IsZero() {
			courseID = strings.TrimPrefix(item.ContextCode, "course_")
		}
		announcements = append(announcements, dto.Announcement{
			CourseID: courseID,
			Title:    item.Title,
			Snippet:  s.snippet(item.Message),
			HTMLURL:  item.HTMLURL,
			PostedAt: item.PostedAt,
		})
	}
	return announcements, nil
}

// snippet reduces an announcement body to sanitized, whitespace-collapsed
// plain text capped at snippetMaxRunes.
func (s *snapshotService) snippet(message string) string {
	clean := strings.Join(strings.Fields(s.sanitizer.Sanitize(message)), " ")
	runes := []rune(clean)
	if len(runes) > snippetMaxRunes {
		return string(runes[:snippetMaxRunes]) + "…"
	}
	return clean
}

// applyGPA fills the GPA aggregates for courses carrying both a usable grade
// and a configured credit weight.
func (s *snapshotService) applyGPA(snapshot *dto.Snapshot, opts Options) {
	for courseID, record := range snapshot.GradesByCourse {
		letter := ""
		if record.CurrentGrade != nil {
			letter = *record.CurrentGrade
		}
		if letter == "" && record.CurrentScore != nil {
			letter = letterFromScore(*record.CurrentScore)
		}
		if letter == "" {
			continue
		}

		points, ok := pointsFromLetter(letter, opts.GPAScale)
		if !ok {
			continue
		}
		snapshot.GradePointsByCourse[courseID] = points
	}

	var qualityPoints, credits float64
	courseIDs := make([]string, 0, len(snapshot.GradePointsByCourse))
	for courseID := range snapshot.GradePointsByCourse {
		courseIDs = append(courseIDs, courseID)
	}
	sort.Strings(courseIDs)
	for _, courseID := range courseIDs {
		weight := opts.CreditsByCourse[courseID]
		if weight <= 0 {
			continue
		}
		snapshot.CreditsByCourse[courseID] = weight
		qualityPoints += snapshot.GradePointsByCourse[courseID] * weight
		credits += weight
	}

	snapshot.GPAQualityPoints = qualityPoints
	snapshot.GPACredits = credits
	if credits > 0 {
		gpa := (qualityPoints / credits) * scaleFactor(opts.GPAScale)
		snapshot.GPA = &gpa
	}
}
