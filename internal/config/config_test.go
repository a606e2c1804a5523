package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("CANVASWATCH_CANVAS_BASE_URL", "https://canvas.example.edu")
	t.Setenv("CANVASWATCH_CANVAS_ACCESS_TOKEN", "secret-token")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "CanvasWatch", cfg.AppName)
	require.Equal(t, "8080", cfg.AppPort)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 10*time.Minute, cfg.PollInterval)
	require.Equal(t, 42, cfg.DaysAhead)
	require.Equal(t, 14, cfg.AnnouncementDays)
	require.Equal(t, 180, cfg.MissingLookback)
	require.False(t, cfg.HideEmpty)
	require.False(t, cfg.EnableGPA)
	require.Equal(t, GPAScalePlusMinus, cfg.GPAScale)
	require.Equal(t, "canvaswatch.snapshot", cfg.NATSSubject)
	require.Empty(t, cfg.CreditsByCourse)
	require.Empty(t, cfg.CourseEndDates)
	require.Empty(t, cfg.HiddenCourses)
}

func TestLoadRejectsMissingToken(t *testing.T) {
	t.Setenv("CANVASWATCH_CANVAS_BASE_URL", "https://canvas.example.edu")
	t.Setenv("CANVASWATCH_CANVAS_ACCESS_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidBaseURL(t *testing.T) {
	t.Setenv("CANVASWATCH_CANVAS_BASE_URL", "not a url")
	t.Setenv("CANVASWATCH_CANVAS_ACCESS_TOKEN", "secret-token")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadTrimsBaseURLAndToken(t *testing.T) {
	t.Setenv("CANVASWATCH_CANVAS_BASE_URL", "https://canvas.example.edu/")
	t.Setenv("CANVASWATCH_CANVAS_ACCESS_TOKEN", "  secret-token  ")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://canvas.example.edu", cfg.BaseURL)
	require.Equal(t, "secret-token", cfg.AccessToken)
}

func TestLoadRejectsInvalidPollInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CANVASWATCH_POLL_INTERVAL", "sometimes")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CANVASWATCH_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadParsesTimezone(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CANVASWATCH_TIMEZONE", "America/New_York")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "America/New_York", cfg.Timezone.String())
}

func TestLoadParsesMaps(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CANVASWATCH_GPA_CREDITS", `{"10": 3, "20": 0.5, "30": -1}`)
	t.Setenv("CANVASWATCH_COURSE_END_DATES", `{"10": "2026-12-18", "20": "teatime", "30": ""}`)
	t.Setenv("CANVASWATCH_HIDDEN_COURSES", " 50, 60 ,,70")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, map[string]float64{"10": 3, "20": 0.5}, cfg.CreditsByCourse)
	require.Equal(t, map[string]string{"10": "2026-12-18"}, cfg.CourseEndDates)
	require.Equal(t, map[string]struct{}{"50": {}, "60": {}, "70": {}}, cfg.HiddenCourses)
}

func TestLoadDropsWholeMapOnMalformedJSON(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CANVASWATCH_GPA_CREDITS", "{broken")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.CreditsByCourse)
}

func TestHTTPAddressKeepsLeadingColon(t *testing.T) {
	cfg := Config{AppPort: ":9090"}
	require.Equal(t, ":9090", cfg.HTTPAddress())
}
