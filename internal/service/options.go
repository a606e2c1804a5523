package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/campus-tools/canvaswatch/internal/config"
)

// Options are the per-cycle settings the snapshot builder runs under. They are
// resolved fresh at the start of every refresh cycle; nothing carries over
// between cycles except the previously published snapshot being replaced.
type Options struct {
	DaysAhead        int
	AnnouncementDays int
	MissingLookback  int

	EnableGPA       bool
	GPAScale        string
	CreditsByCourse map[string]float64

	// CourseEndDates holds raw YYYY-MM-DD overrides keyed by course ID.
	// resolveEndDates turns them into effective UTC due timestamps.
	CourseEndDates map[string]string
	HiddenCourses  map[string]struct{}
	Timezone       *time.Location

	PollInterval time.Duration
}

// OptionsSource yields the options for one refresh cycle.
type OptionsSource interface {
	Resolve(ctx context.Context) (Options, error)
}

// StaticOptionsSource serves options derived from the loaded configuration.
type StaticOptionsSource struct {
	cfg config.Config
}

// NewStaticOptionsSource wraps a configuration as an options source.
func NewStaticOptionsSource(cfg config.Config) *StaticOptionsSource {
	return &StaticOptionsSource{cfg: cfg}
}

// Resolve returns the configured options.
func (s *StaticOptionsSource) Resolve(context.Context) (Options, error) {
	return Options{
		DaysAhead:        s.cfg.DaysAhead,
		AnnouncementDays: s.cfg.AnnouncementDays,
		MissingLookback:  s.cfg.MissingLookback,
		EnableGPA:        s.cfg.EnableGPA,
		GPAScale:         s.cfg.GPAScale,
		CreditsByCourse:  s.cfg.CreditsByCourse,
		CourseEndDates:   s.cfg.CourseEndDates,
		HiddenCourses:    s.cfg.HiddenCourses,
		Timezone:         s.cfg.Timezone,
		PollInterval:     s.cfg.PollInterval,
	}, nil
}

// resolveEndDates converts per-course YYYY-MM-DD overrides into effective due
// timestamps: 23:59:59 local time on the given date, converted to UTC.
// Malformed entries are dropped individually with a warning.
func resolveEndDates(raw map[string]string, location *time.Location, logger zerolog.Logger) map[string]time.Time {
	if location == nil {
		location = time.Local
	}

	resolved := make(map[string]time.Time, len(raw))
	for courseID, date := range raw {
		parsed, err := time.ParseInLocation("2006-01-02", date, location)
		if err != nil {
			logger.Warn().Str("course_id", courseID).Str("end_date", date).Msg("dropping malformed course end date")
			continue
		}
		local := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, 0, location)
		resolved[courseID] = local.UTC()
	}
	return resolved
}
