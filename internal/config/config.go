// Package config loads command configuration from the environment, with
// an optional .env file. Library packages are configured programmatically;
// only the commands read these variables.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries the settings shared by the commands.
type Config struct {
	ModelPath   string
	RulesPath   string
	LabelsPath  string
	RuntimePath string

	ListenAddr string

	Requests      int
	BatchSize     int
	Threshold     float64
	MaxDetections int

	LogLevel string
}

// Load reads the environment, after loading a .env file when one exists.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using process environment")
	}

	return &Config{
		ModelPath:     getEnv("MODEL_PATH", ""),
		RulesPath:     getEnv("RULES_PATH", ""),
		LabelsPath:    getEnv("LABELS_PATH", ""),
		RuntimePath:   getEnv("ORT_LIB_PATH", ""),
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		Requests:      getEnvInt("NIREQ", 2),
		BatchSize:     getEnvInt("BATCH_SIZE", 1),
		Threshold:     getEnvFloat("THRESHOLD", 0.5),
		MaxDetections: getEnvInt("MAX_DETECTIONS", 0),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// Level maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
