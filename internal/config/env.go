package config

import (
	"os"
	"strconv"
	"strings"
)

// Settings are process-level options read from the environment.
type Settings struct {
	DatabaseURL string
	Port        string
	// Workers is zero unless RENEST_WORKERS is set, so the job file's
	// workers key applies.
	Workers    int
	AdminToken string
	JobsDir    string
}

// FromEnv reads DATABASE_URL, PORT (default 5050), RENEST_WORKERS,
// ADMIN_TOKEN and JOBS_DIR (default "jobs"). Call godotenv.Load first to
// pick up .env.local.
func FromEnv() Settings {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5050"
	}

	workers := 0
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("RENEST_WORKERS"))); err == nil && v > 0 {
		workers = v
	}

	jobsDir := strings.TrimSpace(os.Getenv("JOBS_DIR"))
	if jobsDir == "" {
		jobsDir = "jobs"
	}

	return Settings{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        port,
		Workers:     workers,
		AdminToken:  strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		JobsDir:     jobsDir,
	}
}
