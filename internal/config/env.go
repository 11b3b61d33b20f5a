// Package config provides centralized configuration management.
// Settings come from defaults, an optional TOML file and AAROH_* environment variables,
// in increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// AarohEnv holds all AAROH environment variables.
type AarohEnv struct {
	// Home overrides the aaroh home directory (AAROH_HOME)
	Home string

	// ConfigFile is the TOML config path (AAROH_CONFIG)
	ConfigFile string

	// Server is the address practice clients dial (AAROH_SERVER)
	Server string

	// Listen is the JSON-lines session listener address (AAROH_LISTEN)
	Listen string

	// HTTPListen is the socket.io gateway address (AAROH_HTTP_LISTEN)
	HTTPListen string

	// MetricsPort is the metrics/health port, 0 disables (AAROH_METRICS_PORT)
	MetricsPort int

	// RecognizerURL is the chord recognition endpoint (AAROH_RECOGNIZER_URL)
	RecognizerURL string

	// RecognizerMode selects http or chroma recognition (AAROH_RECOGNIZER)
	RecognizerMode string

	// DBPath is the SQLite archive path (AAROH_DB)
	DBPath string

	// ChunkMs overrides the chunk cadence (AAROH_CHUNK_MS)
	ChunkMs int

	// ReplayBuffer overrides the transport replay depth (AAROH_REPLAY_BUFFER)
	ReplayBuffer int

	// Dispatch overrides per-session recognizer concurrency (AAROH_DISPATCH)
	Dispatch int

	// Debug enables debug logging (AAROH_DEBUG)
	Debug bool
}

var (
	env     *AarohEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *AarohEnv {
	envOnce.Do(func() {
		env = &AarohEnv{
			Home:           os.Getenv("AAROH_HOME"),
			ConfigFile:     os.Getenv("AAROH_CONFIG"),
			Server:         os.Getenv("AAROH_SERVER"),
			Listen:         os.Getenv("AAROH_LISTEN"),
			HTTPListen:     os.Getenv("AAROH_HTTP_LISTEN"),
			MetricsPort:    getEnvInt("AAROH_METRICS_PORT", 0),
			RecognizerURL:  os.Getenv("AAROH_RECOGNIZER_URL"),
			RecognizerMode: os.Getenv("AAROH_RECOGNIZER"),
			DBPath:         os.Getenv("AAROH_DB"),
			ChunkMs:        getEnvInt("AAROH_CHUNK_MS", 0),
			ReplayBuffer:   getEnvInt("AAROH_REPLAY_BUFFER", 0),
			Dispatch:       getEnvInt("AAROH_DISPATCH", 0),
			Debug:          os.Getenv("AAROH_DEBUG") == "1",
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
	pathsOnce = sync.Once{}
	paths = nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Paths holds standard aaroh directory paths.
type Paths struct {
	// Home is the aaroh home directory (~/.aaroh)
	Home string

	// Data is the data directory (~/.aaroh/data)
	Data string

	// Schedules holds expected-schedule files (~/.aaroh/schedules)
	Schedules string

	// ConfigFile is the default config path (~/.aaroh/config.toml)
	ConfigFile string

	// DB is the default archive database (~/.aaroh/data/aaroh.db)
	DB string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home := Env().Home
		if home == "" {
			userHome, err := os.UserHomeDir()
			if err != nil {
				userHome = "."
			}
			home = filepath.Join(userHome, ".aaroh")
		}

		paths = &Paths{
			Home:       home,
			Data:       filepath.Join(home, "data"),
			Schedules:  filepath.Join(home, "schedules"),
			ConfigFile: filepath.Join(home, "config.toml"),
			DB:         filepath.Join(home, "data", "aaroh.db"),
		}
	})
	return paths
}

// Path returns a path under the aaroh home directory.
func Path(parts ...string) string {
	p := GetPaths()
	allParts := append([]string{p.Home}, parts...)
	return filepath.Join(allParts...)
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
