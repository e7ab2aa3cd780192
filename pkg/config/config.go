package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration values.
type Config struct {
	// RTM (test-result aggregation service)
	RTMBase  string
	RTMToken string

	// Issue tracker
	TrackerBase  string
	TrackerUser  string
	TrackerToken string

	// Wiki / publishing service
	WikiBase  string
	WikiUser  string
	WikiToken string
	WikiSpace string
	WikiTitle string

	// Report workspace
	ReportDir    string
	BaseName     string
	RawLogName   string
	VersionFile  string
	ExecKeyFile  string
	PageURLFile  string

	// Retry / polling policy
	MaxUploadAttempts int
	BackoffSchedule   []time.Duration
	PollInterval      time.Duration
	PollDeadline      time.Duration
	RequestTimeout    time.Duration

	// Version store backend: "file" or "postgres"
	VersionBackend string
	PostgresDSN    string

	// Optional artifact archival (MinIO)
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOUseSSL     bool
	MinIOBucketName string

	// Optional completion-event publishing
	AMQPURL      string
	AMQPExchange string

	LogLevel string // e.g., "debug", "info", "warn", "error"
}

// DefaultBackoffSchedule mirrors the wiki attachment upload policy:
// grow through the schedule, hold at the last value.
var DefaultBackoffSchedule = []time.Duration{
	2 * time.Second, 4 * time.Second, 6 * time.Second,
	10 * time.Second, 15 * time.Second, 20 * time.Second, 30 * time.Second,
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Helper to get env var with default
	getenv := func(key, fallback string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return fallback
	}

	// Helper to get bool env var
	getenvBool := func(key string, fallback bool) bool {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.ParseBool(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	// Helper to get int env var
	getenvInt := func(key string, fallback int) int {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.Atoi(valueStr)
			if err == nil && value > 0 {
				return value
			}
		}
		return fallback
	}

	// Helper to get duration env var
	getenvDuration := func(key string, fallback time.Duration) time.Duration {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := time.ParseDuration(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	reportDir := getenv("REPORT_DIR", "report")

	cfg := &Config{
		RTMBase:  strings.TrimRight(getenv("RTM_BASE", ""), "/"),
		RTMToken: getenv("RTM_API_TOKEN", ""),

		TrackerBase:  strings.TrimRight(getenv("JIRA_URL", ""), "/"),
		TrackerUser:  getenv("JIRA_USER", ""),
		TrackerToken: getenv("JIRA_API_TOKEN", ""),

		WikiBase:  strings.TrimRight(getenv("CONFLUENCE_BASE", ""), "/"),
		WikiUser:  getenv("CONFLUENCE_USER", ""),
		WikiToken: getenv("CONFLUENCE_TOKEN", ""),
		WikiSpace: getenv("CONFLUENCE_SPACE", ""),
		WikiTitle: getenv("CONFLUENCE_TITLE", "Test Result Report"),

		ReportDir:   reportDir,
		BaseName:    getenv("REPORT_BASE_NAME", "test_result_report"),
		RawLogName:  getenv("RAW_LOG_NAME", "pytest_output.txt"),
		VersionFile: getenv("VERSION_FILE", reportDir+"/version.txt"),
		ExecKeyFile: getenv("EXECUTION_KEY_FILE", "rtm_execution_key.txt"),
		PageURLFile: getenv("PAGE_URL_FILE", reportDir+"/confluence_url.txt"),

		MaxUploadAttempts: getenvInt("MAX_UPLOAD_ATTEMPTS", 7),
		BackoffSchedule:   DefaultBackoffSchedule,
		PollInterval:      getenvDuration("POLL_INTERVAL", 2*time.Second),
		PollDeadline:      getenvDuration("POLL_DEADLINE", 10*time.Minute),
		RequestTimeout:    getenvDuration("REQUEST_TIMEOUT", 60*time.Second),

		VersionBackend: getenv("VERSION_BACKEND", "file"),
		PostgresDSN:    getenv("POSTGRES_DSN", ""),

		MinIOEndpoint:   getenv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:  getenv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:  getenv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:     getenvBool("MINIO_USE_SSL", false),
		MinIOBucketName: getenv("MINIO_BUCKET_NAME", "report-artifacts"),

		AMQPURL:      getenv("AMQP_URL", ""),
		AMQPExchange: getenv("AMQP_EXCHANGE", "report_events"),

		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	if schedule, exists := os.LookupEnv("BACKOFF_SCHEDULE"); exists {
		parsed, err := ParseBackoffSchedule(schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKOFF_SCHEDULE: %w", err)
		}
		cfg.BackoffSchedule = parsed
	}

	if cfg.WikiBase != "" && strings.Contains(cfg.WikiBase, "/rest/api") {
		return nil, fmt.Errorf("CONFLUENCE_BASE must not contain '/rest/api'; use the site root, e.g. https://company.atlassian.net/wiki")
	}

	return cfg, nil
}

// ParseBackoffSchedule parses a comma-separated list of durations, e.g. "2s,4s,6s".
func ParseBackoffSchedule(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	schedule := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("bad duration %q: %w", p, err)
		}
		schedule = append(schedule, d)
	}
	if len(schedule) == 0 {
		return nil, fmt.Errorf("schedule is empty")
	}
	return schedule, nil
}
