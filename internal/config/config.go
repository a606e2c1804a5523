package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// GPA scale identifiers. A numeric string (for example "5.0") is also
// accepted and rescales the plus/minus result linearly.
const (
	GPAScalePlusMinus     = "us_4_0_plusminus"
	GPAScaleSimpleCutoffs = "simple_cutoffs"
)

// Config holds runtime configuration for the poller service.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	BaseURL     string `validate:"required,url"`
	AccessToken string `validate:"required"`
	SchoolName  string
	StudentName string

	PollInterval     time.Duration `validate:"gt=0"`
	DaysAhead        int           `validate:"gt=0"`
	AnnouncementDays int           `validate:"gt=0"`
	MissingLookback  int           `validate:"gt=0"`
	HideEmpty        bool

	EnableGPA       bool
	GPAScale        string
	CreditsByCourse map[string]float64
	// CourseEndDates maps course IDs to raw YYYY-MM-DD strings. They are
	// normalized against the local timezone per refresh cycle, not here.
	CourseEndDates map[string]string
	HiddenCourses  map[string]struct{}
	Timezone       *time.Location

	RedisURL    string
	NATSURL     string
	NATSSubject string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration from environment variables and an optional .env
// file. Malformed entries inside the credits and end-date maps are dropped
// individually; the remainder of the map stays usable.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CANVASWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "CanvasWatch")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("poll.interval", "10m")
	v.SetDefault("days.ahead", 42)
	v.SetDefault("announcement.days", 14)
	v.SetDefault("missing.lookback", 180)
	v.SetDefault("hide.empty", false)
	v.SetDefault("gpa.enabled", false)
	v.SetDefault("gpa.scale", GPAScalePlusMinus)
	v.SetDefault("nats.subject", "canvaswatch.snapshot")

	interval, err := time.ParseDuration(v.GetString("poll.interval"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid poll interval: %w", err)
	}

	location := time.Local
	if name := v.GetString("timezone"); name != "" {
		location, err = time.LoadLocation(name)
		if err != nil {
			return Config{}, fmt.Errorf("invalid timezone %q: %w", name, err)
		}
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		BaseURL:          strings.TrimRight(v.GetString("canvas.base_url"), "/"),
		AccessToken:      strings.TrimSpace(v.GetString("canvas.access_token")),
		SchoolName:       v.GetString("school.name"),
		StudentName:      v.GetString("student.name"),
		PollInterval:     interval,
		DaysAhead:        v.GetInt("days.ahead"),
		AnnouncementDays: v.GetInt("announcement.days"),
		MissingLookback:  v.GetInt("missing.lookback"),
		HideEmpty:        v.GetBool("hide.empty"),
		EnableGPA:        v.GetBool("gpa.enabled"),
		GPAScale:         v.GetString("gpa.scale"),
		CreditsByCourse:  parseCredits(v.GetString("gpa.credits")),
		CourseEndDates:   parseEndDates(v.GetString("course.end_dates")),
		HiddenCourses:    parseHiddenCourses(v.GetString("hidden.courses")),
		Timezone:         location,
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		NATSSubject:      v.GetString("nats.subject"),
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseCredits decodes a JSON object of course ID to credit weight. Entries
// that are not positive numbers are dropped.
func parseCredits(raw string) map[string]float64 {
	credits := make(map[string]float64)
	if strings.TrimSpace(raw) == "" {
		return credits
	}

	var decoded map[string]json.Number
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return credits
	}

	for id, number := range decoded {
		value, err := number.Float64()
		if err != nil || value <= 0 {
			continue
		}
		credits[strings.TrimSpace(id)] = value
	}
	return credits
}

// parseEndDates decodes a JSON object of course ID to YYYY-MM-DD date string.
// Entries that do not parse as calendar dates are dropped.
func parseEndDates(raw string) map[string]string {
	dates := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return dates
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return dates
	}

	for id, date := range decoded {
		date = strings.TrimSpace(date)
		if date == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			continue
		}
		dates[strings.TrimSpace(id)] = date
	}
	return dates
}

func parseHiddenCourses(raw string) map[string]struct{} {
	hidden := make(map[string]struct{})
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			hidden[id] = struct{}{}
		}
	}
	return hidden
}
