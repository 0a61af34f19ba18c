// Package config provides configuration management for the Grid explainer agent.
// Configuration is loaded from defaults, an optional YAML file, then environment
// variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort     = 8790
	DefaultLogLevel = "info"
	DefaultDataDir  = ".grid"

	// Environment variable names
	EnvPort       = "GRID_PORT"
	EnvLogLevel   = "GRID_LOG_LEVEL"
	EnvDataDir    = "GRID_DATA_DIR"
	EnvConfigFile = "GRID_CONFIG_FILE"
	EnvHeadless   = "GRID_HEADLESS"

	// Generation service
	EnvGeminiAPIKey       = "GRID_GEMINI_API_KEY"
	EnvGeminiAPIKeyShared = "GEMINI_API_KEY"
	EnvGeminiModel        = "GRID_GEMINI_MODEL"
	EnvGeminiBaseURL      = "GRID_GEMINI_BASE_URL"

	// External engines
	EnvManimPath    = "GRID_MANIM_PATH"
	EnvManimQuality = "GRID_MANIM_QUALITY"
	EnvFFmpegPath   = "GRID_FFMPEG_PATH"
	EnvFFprobePath  = "GRID_FFPROBE_PATH"
	EnvTTSEngine    = "GRID_TTS_ENGINE"
	EnvTTSLang      = "GRID_TTS_LANG"
	EnvTTSURL       = "GRID_TTS_URL"
	EnvTTSCommand   = "GRID_TTS_COMMAND"
	EnvTTSArgs      = "GRID_TTS_ARGS"

	// Pipeline behaviour
	EnvParallelStages    = "GRID_PARALLEL_STAGES"
	EnvTimeoutGeneration = "GRID_TIMEOUT_GENERATION"
	EnvTimeoutRender     = "GRID_TIMEOUT_RENDER"
	EnvTimeoutNarration  = "GRID_TIMEOUT_NARRATION"
	EnvTimeoutMux        = "GRID_TIMEOUT_MUX"

	EnvWebhookURL = "GRID_WEBHOOK_URL"

	// Database filename
	DBFilename = "grid.db"

	DefaultGeminiModel  = "gemini-1.5-flash"
	DefaultManimPath    = "manim"
	DefaultManimQuality = "l"
	DefaultFFmpegPath   = "ffmpeg"
	DefaultFFprobePath  = "ffprobe"
	DefaultTTSLang      = "en"
	DefaultTTSCommand   = "espeak-ng"
	DefaultTTSArgs      = "--stdin -w {out}"

	TTSEngineGTTS    = "gtts"
	TTSEngineCommand = "command"

	// Stage deadlines, in seconds. Zero disables the deadline.
	DefaultTimeoutGeneration = 120
	DefaultTimeoutRender     = 600 // 10 minutes
	DefaultTimeoutNarration  = 180
	DefaultTimeoutMux        = 300
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	WorkDir() string
	OutputDir() string
	Headless() bool

	GeminiAPIKey() string
	GeminiModel() string
	GeminiBaseURL() string

	ManimPath() string
	ManimQuality() string
	FFmpegPath() string
	FFprobePath() string
	TTSEngine() string
	TTSLang() string
	TTSURL() string
	TTSCommand() string
	TTSArgs() []string

	ParallelStages() bool
	TimeoutGeneration() time.Duration
	TimeoutRender() time.Duration
	TimeoutNarration() time.Duration
	TimeoutMux() time.Duration

	WebhookURL() string
}

// EnvConfig reads configuration from a YAML file and environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	geminiAPIKey  string
	geminiModel   string
	geminiBaseURL string

	manimPath    string
	manimQuality string
	ffmpegPath   string
	ffprobePath  string
	ttsEngine    string
	ttsLang      string
	ttsURL       string
	ttsCommand   string
	ttsArgs      string

	parallelStages    bool
	timeoutGeneration int
	timeoutRender     int
	timeoutNarration  int
	timeoutMux        int

	webhookURL string
}

// New creates a new EnvConfig with defaults, file values and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		geminiModel:       DefaultGeminiModel,
		manimPath:         DefaultManimPath,
		manimQuality:      DefaultManimQuality,
		ffmpegPath:        DefaultFFmpegPath,
		ffprobePath:       DefaultFFprobePath,
		ttsEngine:         TTSEngineGTTS,
		ttsLang:           DefaultTTSLang,
		ttsCommand:        DefaultTTSCommand,
		ttsArgs:           DefaultTTSArgs,
		timeoutGeneration: DefaultTimeoutGeneration,
		timeoutRender:     DefaultTimeoutRender,
		timeoutNarration:  DefaultTimeoutNarration,
		timeoutMux:        DefaultTimeoutMux,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		fc.apply(cfg)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, EnvLogLevel)
	setString(&c.dataDir, EnvDataDir)

	if err := setBool(&c.headless, EnvHeadless); err != nil {
		return err
	}

	// The shared Gemini variable is read first so the prefixed one wins.
	setString(&c.geminiAPIKey, EnvGeminiAPIKeyShared)
	setString(&c.geminiAPIKey, EnvGeminiAPIKey)
	setString(&c.geminiModel, EnvGeminiModel)
	setString(&c.geminiBaseURL, EnvGeminiBaseURL)

	setString(&c.manimPath, EnvManimPath)
	setString(&c.manimQuality, EnvManimQuality)
	setString(&c.ffmpegPath, EnvFFmpegPath)
	setString(&c.ffprobePath, EnvFFprobePath)
	setString(&c.ttsEngine, EnvTTSEngine)
	setString(&c.ttsLang, EnvTTSLang)
	setString(&c.ttsURL, EnvTTSURL)
	setString(&c.ttsCommand, EnvTTSCommand)
	setString(&c.ttsArgs, EnvTTSArgs)

	if err := setBool(&c.parallelStages, EnvParallelStages); err != nil {
		return err
	}

	timeouts := []struct {
		env string
		dst *int
	}{
		{EnvTimeoutGeneration, &c.timeoutGeneration},
		{EnvTimeoutRender, &c.timeoutRender},
		{EnvTimeoutNarration, &c.timeoutNarration},
		{EnvTimeoutMux, &c.timeoutMux},
	}
	for _, t := range timeouts {
		if err := setSeconds(t.dst, t.env); err != nil {
			return err
		}
	}

	setString(&c.webhookURL, EnvWebhookURL)
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}

	switch c.ttsEngine {
	case TTSEngineGTTS, TTSEngineCommand:
	default:
		return fmt.Errorf("invalid %s: unknown engine %q (want %s or %s)",
			EnvTTSEngine, c.ttsEngine, TTSEngineGTTS, TTSEngineCommand)
	}

	switch c.manimQuality {
	case "l", "m", "h", "p", "k":
	default:
		return fmt.Errorf("invalid %s: quality must be one of l, m, h, p, k", EnvManimQuality)
	}

	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// WorkDir returns the parent directory for per-run workspaces
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

// OutputDir returns the directory finished videos are published to
func (c *EnvConfig) OutputDir() string {
	return filepath.Join(c.dataDir, "outputs")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) GeminiAPIKey() string {
	return c.geminiAPIKey
}

func (c *EnvConfig) GeminiModel() string {
	return c.geminiModel
}

func (c *EnvConfig) GeminiBaseURL() string {
	return c.geminiBaseURL
}

func (c *EnvConfig) ManimPath() string {
	return c.manimPath
}

func (c *EnvConfig) ManimQuality() string {
	return c.manimQuality
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) TTSEngine() string {
	return c.ttsEngine
}

func (c *EnvConfig) TTSLang() string {
	return c.ttsLang
}

func (c *EnvConfig) TTSURL() string {
	return c.ttsURL
}

func (c *EnvConfig) TTSCommand() string {
	return c.ttsCommand
}

// TTSArgs returns the command engine arguments split on whitespace.
// The {out} placeholder is substituted with the audio path at run time.
func (c *EnvConfig) TTSArgs() []string {
	return strings.Fields(c.ttsArgs)
}

func (c *EnvConfig) ParallelStages() bool {
	return c.parallelStages
}

func (c *EnvConfig) TimeoutGeneration() time.Duration {
	return time.Duration(c.timeoutGeneration) * time.Second
}

func (c *EnvConfig) TimeoutRender() time.Duration {
	return time.Duration(c.timeoutRender) * time.Second
}

func (c *EnvConfig) TimeoutNarration() time.Duration {
	return time.Duration(c.timeoutNarration) * time.Second
}

func (c *EnvConfig) TimeoutMux() time.Duration {
	return time.Duration(c.timeoutMux) * time.Second
}

func (c *EnvConfig) WebhookURL() string {
	return c.webhookURL
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	*dst = b
	return nil
}

func setSeconds(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	if n < 0 {
		return fmt.Errorf("invalid %s: timeout must not be negative", env)
	}
	*dst = n
	return nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
