// Package config resolves settings from the YAML config file, DUNBAR_*
// environment variables, and CLI flags, tracking where each value came from.
// Precedence: CLI > env > file > built-in default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a setting plus the provenance of its current value,
// so `dunbar status` can show why a given model or path is in effect.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI-level overrides into resolution.
type ResolveOptions struct {
	ConfigPath   string
	CLIDBPath    string
	CLISchedule  string
	CLIExtractor string
	CLIEmbedder  string
	CLILogLevel  string
}

// Built-in defaults, applied when neither file, env, nor CLI set a value.
const (
	DefaultSchedule  = "0 * * * *"
	DefaultExtractor = "openai/gpt-4o-mini"
	DefaultEmbedder  = "openai/text-embedding-3-small"
	DefaultLogLevel  = "info"
)

// PipelineSettings is the extraction tuning block. It resolves from the
// config file only; anything unset falls back to these defaults.
type PipelineSettings struct {
	BatchSize                int     `json:"batch_size"`
	BatchOverlap             int     `json:"batch_overlap"`
	ContextMessages          int     `json:"context_messages"`
	MinMessageLength         int     `json:"min_message_length"`
	ConfidenceThreshold      float64 `json:"confidence_threshold"`
	DedupSimilarityThreshold float64 `json:"dedup_similarity_threshold"`
	SupersedeConfidence      float64 `json:"supersede_confidence"`
	FollowupCutoffDays       int     `json:"followup_cutoff_days"`
	InterBatchDelayMS        int     `json:"inter_batch_delay_ms"`
}

func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		BatchSize:                10,
		BatchOverlap:             2,
		ContextMessages:          5,
		MinMessageLength:         20,
		ConfidenceThreshold:      0.5,
		DedupSimilarityThreshold: 0.85,
		SupersedeConfidence:      0.9,
		FollowupCutoffDays:       7,
		InterBatchDelayMS:        500,
	}
}

// ReconnectSettings controls the quiet-contact reminder sweep that `serve`
// runs after each scheduled pipeline run.
type ReconnectSettings struct {
	Enabled   bool `json:"enabled"`
	AfterDays int  `json:"after_days"`
	DueInDays int  `json:"due_in_days"`
}

func DefaultReconnectSettings() ReconnectSettings {
	return ReconnectSettings{Enabled: false, AfterDays: 30, DueInDays: 3}
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath    ResolvedValue `json:"db_path"`
	LogFile   ResolvedValue `json:"log_file"`
	LogLevel  ResolvedValue `json:"log_level"`
	Schedule  ResolvedValue `json:"schedule"`
	Extractor ResolvedValue `json:"extractor"`
	Embedder  ResolvedValue `json:"embedder"`

	Pipeline  PipelineSettings  `json:"pipeline"`
	Reconnect ReconnectSettings `json:"reconnect"`
}

type fileConfig struct {
	DBPath    string `yaml:"db_path"`
	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`
	Schedule  string `yaml:"schedule"`
	Extractor string `yaml:"extractor"`
	Embedder  string `yaml:"embedder"`

	// Pointer fields so an explicit zero (batch_overlap: 0) is
	// distinguishable from the key being absent.
	Pipeline struct {
		BatchSize                *int     `yaml:"batch_size"`
		BatchOverlap             *int     `yaml:"batch_overlap"`
		ContextMessages          *int     `yaml:"context_messages"`
		MinMessageLength         *int     `yaml:"min_message_length"`
		ConfidenceThreshold      *float64 `yaml:"confidence_threshold"`
		DedupSimilarityThreshold *float64 `yaml:"dedup_similarity_threshold"`
		SupersedeConfidence      *float64 `yaml:"supersede_confidence"`
		FollowupCutoffDays       *int     `yaml:"followup_cutoff_days"`
		InterBatchDelayMS        *int     `yaml:"inter_batch_delay_ms"`
	} `yaml:"pipeline"`

	Reconnect struct {
		Enabled   *bool `yaml:"enabled"`
		AfterDays *int  `yaml:"after_days"`
		DueInDays *int  `yaml:"due_in_days"`
	} `yaml:"reconnect"`
}

func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dunbar")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// ResolveConfig loads the config file (missing file is fine), then layers
// environment variables and CLI flags on top, and finally fills defaults.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		Pipeline:   DefaultPipelineSettings(),
		Reconnect:  DefaultReconnectSettings(),
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LogFile, cfg.LogFile, SourceConfig, path)
		apply(&out.LogLevel, cfg.LogLevel, SourceConfig, path)
		apply(&out.Schedule, cfg.Schedule, SourceConfig, path)
		apply(&out.Extractor, cfg.Extractor, SourceConfig, path)
		apply(&out.Embedder, cfg.Embedder, SourceConfig, path)

		p := cfg.Pipeline
		applyInt(&out.Pipeline.BatchSize, p.BatchSize)
		applyInt(&out.Pipeline.BatchOverlap, p.BatchOverlap)
		applyInt(&out.Pipeline.ContextMessages, p.ContextMessages)
		applyInt(&out.Pipeline.MinMessageLength, p.MinMessageLength)
		applyFloat(&out.Pipeline.ConfidenceThreshold, p.ConfidenceThreshold)
		applyFloat(&out.Pipeline.DedupSimilarityThreshold, p.DedupSimilarityThreshold)
		applyFloat(&out.Pipeline.SupersedeConfidence, p.SupersedeConfidence)
		applyInt(&out.Pipeline.FollowupCutoffDays, p.FollowupCutoffDays)
		applyInt(&out.Pipeline.InterBatchDelayMS, p.InterBatchDelayMS)

		r := cfg.Reconnect
		if r.Enabled != nil {
			out.Reconnect.Enabled = *r.Enabled
		}
		applyInt(&out.Reconnect.AfterDays, r.AfterDays)
		applyInt(&out.Reconnect.DueInDays, r.DueInDays)
	}

	applyEnv(&out.DBPath, "DUNBAR_DB")
	applyEnv(&out.DBPath, "DUNBAR_DB_PATH")
	applyEnv(&out.LogFile, "DUNBAR_LOG_FILE")
	applyEnv(&out.LogLevel, "DUNBAR_LOG_LEVEL")
	applyEnv(&out.Schedule, "DUNBAR_SCHEDULE")
	applyEnv(&out.Extractor, "DUNBAR_EXTRACTOR")
	applyEnv(&out.Embedder, "DUNBAR_EMBEDDER")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Schedule, opts.CLISchedule, SourceCLI, "--schedule")
	apply(&out.Extractor, opts.CLIExtractor, SourceCLI, "--extractor")
	apply(&out.Embedder, opts.CLIEmbedder, SourceCLI, "--embedder")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")

	applyDefault(&out.DBPath, filepath.Join(DefaultConfigDir(), "dunbar.db"))
	applyDefault(&out.LogFile, filepath.Join(DefaultConfigDir(), "dunbar.log"))
	applyDefault(&out.LogLevel, DefaultLogLevel)
	applyDefault(&out.Schedule, DefaultSchedule)
	applyDefault(&out.Extractor, DefaultExtractor)
	applyDefault(&out.Embedder, DefaultEmbedder)

	out.DBPath.Value = expandUserPath(out.DBPath.Value)
	out.LogFile.Value = expandUserPath(out.LogFile.Value)

	return out, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func applyDefault(dst *ResolvedValue, value string) {
	if dst.Value == "" {
		*dst = ResolvedValue{Value: value, Source: SourceDefault, From: "built-in default"}
	}
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
