package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

//go:embed version
var version string

//go:embed name
var name string

type LogLevel string

const (
	Debug  LogLevel = "debug"
	Info   LogLevel = "info"
	Notice LogLevel = "notice"
	Warn   LogLevel = "warn"
	Error  LogLevel = "error"
)

func GetVersion() string {
	return strings.TrimSpace(version)
}

func GetName() string {
	return strings.TrimSpace(name)
}

func GetLogLevel() LogLevel {
	if IsDebug() {
		return Debug
	}
	logLevel := os.Getenv("RM_LOG_LEVEL")
	if logLevel == "" {
		return Info
	}
	return LogLevel(logLevel)
}

func IsDebug() bool {
	return os.Getenv("RM_DEBUG") == "true"
}

func GetDBFolderPath() string {
	dbFolderPath := os.Getenv("RM_DB_FOLDER")
	if dbFolderPath == "" {
		dbFolderPath = "/etc/relaymeter"
	}
	return dbFolderPath
}

func GetDBPath() string {
	return fmt.Sprintf("%s/%s.db", GetDBFolderPath(), GetName())
}

func GetLogFolder() string {
	logFolderPath := os.Getenv("RM_LOG_FOLDER")
	if logFolderPath == "" {
		logFolderPath = "/var/log"
	}
	return logFolderPath
}

func GetRedisAddr() string {
	addr := os.Getenv("RM_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	return addr
}

func GetRedisPassword() string {
	return os.Getenv("RM_REDIS_PASSWORD")
}

func GetRedisDB() int {
	return getInt("RM_REDIS_DB", 0, 0, 15)
}

func GetMetricsListen() string {
	listen := os.Getenv("RM_METRICS_LISTEN")
	if listen == "" {
		listen = ":9090"
	}
	return listen
}

// GetTimeLocation returns the location recurring jobs are scheduled in.
func GetTimeLocation() *time.Location {
	tz := os.Getenv("RM_TZ")
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetThresholds returns the configured notification percentages, ascending.
func GetThresholds() []int {
	raw := os.Getenv("RM_THRESHOLDS")
	if raw == "" {
		return []int{50, 80, 100}
	}
	parts := strings.Split(raw, ",")
	thresholds := make([]int, 0, len(parts))
	for _, part := range parts {
		pct, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || pct <= 0 || pct > 100 {
			continue
		}
		thresholds = append(thresholds, pct)
	}
	if len(thresholds) == 0 {
		return []int{50, 80, 100}
	}
	return thresholds
}

// GetWeeklyResetDay returns the weekday of the WEEK strategy reset, 0 = Sunday.
func GetWeeklyResetDay() int {
	return getInt("RM_WEEKLY_RESET_DAY", 0, 0, 6)
}

// GetMonthlyResetDay returns the day-of-month of the MONTH strategy reset.
func GetMonthlyResetDay() int {
	return getInt("RM_MONTHLY_RESET_DAY", 1, 1, 28)
}

func GetHealthFailThreshold() int {
	return getInt("RM_HEALTH_FAIL_THRESHOLD", 3, 1, 100)
}

func GetHealthProbeTimeout() time.Duration {
	return getDuration("RM_HEALTH_PROBE_TIMEOUT", 5*time.Second)
}

// GetOnlineWindow returns how recent a traffic report must be for a user
// to count as online.
func GetOnlineWindow() time.Duration {
	return getDuration("RM_ONLINE_WINDOW", 2*time.Minute)
}

// GetJobLockTTL returns how long a store-backed job lock stays valid before a
// crashed holder is considered gone.
func GetJobLockTTL() time.Duration {
	return getDuration("RM_JOB_LOCK_TTL", 10*time.Minute)
}

func getInt(key string, def, min, max int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
