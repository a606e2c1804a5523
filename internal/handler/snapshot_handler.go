package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/campus-tools/canvaswatch/internal/dto"
	"github.com/campus-tools/canvaswatch/internal/service"
	"github.com/campus-tools/canvaswatch/internal/utils"
)

// SnapshotHandler exposes the read-only snapshot sections. All endpoints
// serve the most recently published snapshot; nothing here triggers a fetch.
type SnapshotHandler struct {
	store     *service.SnapshotStore
	hideEmpty bool
	logger    zerolog.Logger
}

// NewSnapshotHandler creates the snapshot read surface. hideEmpty removes
// courses with no entries from per-course section responses.
func NewSnapshotHandler(store *service.SnapshotStore, hideEmpty bool, logger zerolog.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		store:     store,
		hideEmpty: hideEmpty,
		logger:    logger.With().Str("component", "snapshot_handler").Logger(),
	}
}

// Register attaches the snapshot endpoints.
func (h *SnapshotHandler) Register(router fiber.Router) {
	router.Get("/snapshot", h.getSnapshot)
	router.Get("/courses", h.getCourses)
	router.Get("/grades", h.getGrades)
	router.Get("/assignments", h.getAssignments)
	router.Get("/missing", h.getMissing)
	router.Get("/ungraded", h.getUngraded)
	router.Get("/undated", h.getUndated)
	router.Get("/announcements", h.getAnnouncements)
	router.Get("/gpa", h.getGPA)
}

func (h *SnapshotHandler) latest(c *fiber.Ctx) (dto.Snapshot, bool, error) {
	snapshot, ok := h.store.Latest()
	if !ok {
		return dto.Snapshot{}, false, utils.SendUnavailable(c, "no snapshot published yet")
	}
	return snapshot, true, nil
}

func (h *SnapshotHandler) getSnapshot(c *fiber.Ctx) error {
	snapshot, ok, err := h.latest(c)
	if !ok {
		return err
	}
	return utils.SendSuccess(c, "snapshot retrieved", snapshot)
}

func (h *SnapshotHandler) getCourses(c *fiber.Ctx) error {
	snapshot, ok, err := h.latest(c)
	if !ok {
		return err
	}

	return utils.SendSuccess(c, "courses retrieved", fiber.Map{
		"course_names_by_id":   snapshot.CourseNamesByID,
		"grade_urls_by_course": snapshot.GradeURLsByCourse,
		"courses_total":        snapshot.CoursesTotal,
	})
}

func (h *SnapshotHandler) getGrades(c *fiber.Ctx) error {
	snapshot, ok, err := h.latest(c)
	if !ok {
		return err
	}

	return utils.SendSuccess(c, "grades retrieved", fiber.Map{
		"grades_by_course": snapshot.GradesByCourse,
		"grades_total":     snapshot.GradesTotal,
	})
}

func (h *SnapshotHandler) getAssignments(c *fiber.Ctx) error {
	snapshot, ok, err := h.latest(c)
	if !ok {
		return err
	}
	return utils.SendSuccess(c, "upcoming assignments retrieved", fiber.Map{
		"assignments_by_course": h.section(snapshot.AssignmentsByCourse),
	})
}

func (h *SnapshotHandler) getMissing(c *fiber.Ctx) error {
	snapshot, ok, err := h.latest(c)
	if !ok {
		return err
	}
	return utils.SendSuccess(c, "missing work retrieved", fiber.Map{
		"missing_by_course": h.section(snapshot.MissingByCourse),
	})
}

func (h *SnapshotHandler) getUngraded(c *fiber.Ctx) error {
	snapshot, ok, err := h.latest(c)
	if !ok {
		return err
	}
	return utils.SendSuccess(c, "ungraded work retrieved", fiber.Map{
		"ungraded_by_course": h.section(snapshot.UngradedByCourse),
	})
}

func (h *SnapshotHandler) getUndated(c *fiber.Ctx) error {
	snapshot, ok, err := h.latest(c)
	if !ok {
		return err
	}
	return utils.SendSuccess(c, "undated outstanding work retrieved", fiber.Map{
		"undated_outstanding_by_course": h.section(snapshot.UndatedOutstandingByCourse),
	})
}

func (h *SnapshotHandler) getAnnouncements(c *fiber.Ctx) error {
	snapshot, ok, err := h.latest(c)
	if !ok {
		return err
	}
	return utils.SendSuccess(c, "announcements retrieved", fiber.Map{
		"announcements": snapshot.Announcements,
	})
}

func (h *SnapshotHandler) getGPA(c *fiber.Ctx) error {
	snapshot, ok, err := h.latest(c)
	if !ok {
		return err
	}

	return utils.SendSuccess(c, "gpa retrieved", fiber.Map{
		"gpa":                    snapshot.GPA,
		"gpa_credits":            snapshot.GPACredits,
		"gpa_quality_points":     snapshot.GPAQualityPoints,
		"credits_by_course":      snapshot.CreditsByCourse,
		"grade_points_by_course": snapshot.GradePointsByCourse,
	})
}

// section applies the hide-empty display toggle to a per-course map.
func (h *SnapshotHandler) section(byCourse map[string][]dto.AssignmentRef) map[string][]dto.AssignmentRef {
	if !h.hideEmpty {
		return byCourse
	}

	filtered := make(map[string][]dto.AssignmentRef, len(byCourse))
	for courseID, refs := range byCourse {
		if len(refs) == 0 {
			continue
		}
		filtered[courseID] = refs
	}
	return filtered
}
