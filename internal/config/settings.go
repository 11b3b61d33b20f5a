package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	// Session tuning
	ChunkDuration       time.Duration
	ReplayBuffer        int
	Dispatch            int
	QueueDepth          int
	RecognitionTimeout  time.Duration
	GraceWindow         time.Duration
	ReconnectWindow     time.Duration
	BackpressureTimeout time.Duration

	// Endpoints
	Server      string
	Listen      string
	HTTPListen  string
	MetricsPort int

	// Recognition
	RecognizerMode string // "http" or "chroma"
	RecognizerURL  string

	// Storage
	DBPath       string
	SchedulesDir string

	Debug bool
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	p := GetPaths()
	return Settings{
		ChunkDuration:       time.Second,
		ReplayBuffer:        8,
		Dispatch:            2,
		QueueDepth:          32,
		RecognitionTimeout:  5 * time.Second,
		GraceWindow:         2 * time.Second,
		ReconnectWindow:     30 * time.Second,
		BackpressureTimeout: 2 * time.Second,
		Server:              "localhost:7070",
		Listen:              ":7070",
		HTTPListen:          ":8080",
		RecognizerMode:      "http",
		RecognizerURL:       "http://localhost:5000/api/predict-mic",
		DBPath:              p.DB,
		SchedulesDir:        p.Schedules,
	}
}

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Session    SessionConfig    `toml:"session"`
	Server     ServerConfig     `toml:"server"`
	Recognizer RecognizerConfig `toml:"recognizer"`
	Store      StoreConfig      `toml:"store"`
}

// SessionConfig maps session tuning knobs.
type SessionConfig struct {
	ChunkMs              *int `toml:"chunk-ms"`
	ReplayBuffer         *int `toml:"replay-buffer"`
	Dispatch             *int `toml:"dispatch"`
	QueueDepth           *int `toml:"queue-depth"`
	RecognitionTimeoutMs *int `toml:"recognition-timeout-ms"`
	GraceMs              *int `toml:"grace-ms"`
	ReconnectWindowMs    *int `toml:"reconnect-window-ms"`
	BackpressureMs       *int `toml:"backpressure-ms"`
}

// ServerConfig maps listener addresses.
type ServerConfig struct {
	Server      *string `toml:"server"`
	Listen      *string `toml:"listen"`
	HTTPListen  *string `toml:"http"`
	MetricsPort *int    `toml:"metrics-port"`
}

// RecognizerConfig maps the recognizer collaborator.
type RecognizerConfig struct {
	Mode *string `toml:"mode"`
	URL  *string `toml:"url"`
}

// StoreConfig maps storage locations.
type StoreConfig struct {
	Path      *string `toml:"path"`
	Schedules *string `toml:"schedules"`
}

// LoadFile reads a TOML config from the given path. Missing file is not an error.
func LoadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Load resolves settings from defaults, the config file and the environment.
// An empty path falls back to AAROH_CONFIG, then ~/.aaroh/config.toml.
func Load(path string) (Settings, error) {
	if path == "" {
		path = getEnvDefault("AAROH_CONFIG", GetPaths().ConfigFile)
	}
	fc, err := LoadFile(path)
	if err != nil {
		return Settings{}, err
	}

	s := Defaults()
	s.applyFile(fc)
	s.applyEnv(Env())

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyFile(fc FileConfig) {
	setDuration(&s.ChunkDuration, fc.Session.ChunkMs)
	setInt(&s.ReplayBuffer, fc.Session.ReplayBuffer)
	setInt(&s.Dispatch, fc.Session.Dispatch)
	setInt(&s.QueueDepth, fc.Session.QueueDepth)
	setDuration(&s.RecognitionTimeout, fc.Session.RecognitionTimeoutMs)
	setDuration(&s.GraceWindow, fc.Session.GraceMs)
	setDuration(&s.ReconnectWindow, fc.Session.ReconnectWindowMs)
	setDuration(&s.BackpressureTimeout, fc.Session.BackpressureMs)

	setString(&s.Server, fc.Server.Server)
	setString(&s.Listen, fc.Server.Listen)
	setString(&s.HTTPListen, fc.Server.HTTPListen)
	setInt(&s.MetricsPort, fc.Server.MetricsPort)

	setString(&s.RecognizerMode, fc.Recognizer.Mode)
	setString(&s.RecognizerURL, fc.Recognizer.URL)

	setString(&s.DBPath, fc.Store.Path)
	setString(&s.SchedulesDir, fc.Store.Schedules)
}

func (s *Settings) applyEnv(e *AarohEnv) {
	overrideString(&s.Server, e.Server)
	overrideString(&s.Listen, e.Listen)
	overrideString(&s.HTTPListen, e.HTTPListen)
	overrideString(&s.RecognizerURL, e.RecognizerURL)
	overrideString(&s.RecognizerMode, e.RecognizerMode)
	overrideString(&s.DBPath, e.DBPath)
	if e.MetricsPort > 0 {
		s.MetricsPort = e.MetricsPort
	}
	if e.ChunkMs > 0 {
		s.ChunkDuration = time.Duration(e.ChunkMs) * time.Millisecond
	}
	if e.ReplayBuffer > 0 {
		s.ReplayBuffer = e.ReplayBuffer
	}
	if e.Dispatch > 0 {
		s.Dispatch = e.Dispatch
	}
	s.Debug = s.Debug || e.Debug
}

// Validate rejects settings the session machinery cannot run with.
func (s Settings) Validate() error {
	switch {
	case s.ChunkDuration <= 0:
		return fmt.Errorf("chunk duration must be positive, got %v", s.ChunkDuration)
	case s.ReplayBuffer < 1:
		return fmt.Errorf("replay buffer must hold at least one chunk, got %d", s.ReplayBuffer)
	case s.Dispatch < 1:
		return fmt.Errorf("dispatch concurrency must be at least 1, got %d", s.Dispatch)
	case s.QueueDepth < 1:
		return fmt.Errorf("queue depth must be at least 1, got %d", s.QueueDepth)
	case s.RecognitionTimeout <= 0:
		return fmt.Errorf("recognition timeout must be positive, got %v", s.RecognitionTimeout)
	case s.GraceWindow < 0:
		return fmt.Errorf("grace window must not be negative, got %v", s.GraceWindow)
	case s.ReconnectWindow <= 0:
		return fmt.Errorf("reconnect window must be positive, got %v", s.ReconnectWindow)
	}
	switch s.RecognizerMode {
	case "http", "chroma":
	default:
		return fmt.Errorf("unknown recognizer mode %q", s.RecognizerMode)
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, ms *int) {
	if ms != nil {
		*dst = time.Duration(*ms) * time.Millisecond
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
