package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the subset of settings that may come from GRID_CONFIG_FILE.
// Pointer fields distinguish "absent" from zero values.
type fileConfig struct {
	Port     *int    `yaml:"port"`
	LogLevel *string `yaml:"log_level"`
	DataDir  *string `yaml:"data_dir"`
	Headless *bool   `yaml:"headless"`

	Gemini struct {
		APIKey  *string `yaml:"api_key"`
		Model   *string `yaml:"model"`
		BaseURL *string `yaml:"base_url"`
	} `yaml:"gemini"`

	Engines struct {
		Manim        *string `yaml:"manim"`
		ManimQuality *string `yaml:"manim_quality"`
		FFmpeg       *string `yaml:"ffmpeg"`
		FFprobe      *string `yaml:"ffprobe"`
	} `yaml:"engines"`

	TTS struct {
		Engine  *string `yaml:"engine"`
		Lang    *string `yaml:"lang"`
		URL     *string `yaml:"url"`
		Command *string `yaml:"command"`
		Args    *string `yaml:"args"`
	} `yaml:"tts"`

	Pipeline struct {
		ParallelStages *bool `yaml:"parallel_stages"`
		Timeouts       struct {
			Generation *int `yaml:"generation"`
			Render     *int `yaml:"render"`
			Narration  *int `yaml:"narration"`
			Mux        *int `yaml:"mux"`
		} `yaml:"timeouts"`
	} `yaml:"pipeline"`

	WebhookURL *string `yaml:"webhook_url"`
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *fileConfig) apply(c *EnvConfig) {
	setIf(&c.port, fc.Port)
	setIf(&c.logLevel, fc.LogLevel)
	setIf(&c.dataDir, fc.DataDir)
	setIf(&c.headless, fc.Headless)

	setIf(&c.geminiAPIKey, fc.Gemini.APIKey)
	setIf(&c.geminiModel, fc.Gemini.Model)
	setIf(&c.geminiBaseURL, fc.Gemini.BaseURL)

	setIf(&c.manimPath, fc.Engines.Manim)
	setIf(&c.manimQuality, fc.Engines.ManimQuality)
	setIf(&c.ffmpegPath, fc.Engines.FFmpeg)
	setIf(&c.ffprobePath, fc.Engines.FFprobe)

	setIf(&c.ttsEngine, fc.TTS.Engine)
	setIf(&c.ttsLang, fc.TTS.Lang)
	setIf(&c.ttsURL, fc.TTS.URL)
	setIf(&c.ttsCommand, fc.TTS.Command)
	setIf(&c.ttsArgs, fc.TTS.Args)

	setIf(&c.parallelStages, fc.Pipeline.ParallelStages)
	setIf(&c.timeoutGeneration, fc.Pipeline.Timeouts.Generation)
	setIf(&c.timeoutRender, fc.Pipeline.Timeouts.Render)
	setIf(&c.timeoutNarration, fc.Pipeline.Timeouts.Narration)
	setIf(&c.timeoutMux, fc.Pipeline.Timeouts.Mux)

	setIf(&c.webhookURL, fc.WebhookURL)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
