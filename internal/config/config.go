package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/kokoro/internal/pathutil"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Models    ModelsConfig    `koanf:"models"`
	Store     StoreConfig     `koanf:"store"`
	Memory    MemoryConfig    `koanf:"memory"`
	Graph     GraphConfig     `koanf:"graph"`
	Intent    IntentConfig    `koanf:"intent"`
	ToolHost  ToolHostConfig  `koanf:"toolhost"`
	Form      FormConfig      `koanf:"form"`
	Features  FeaturesConfig  `koanf:"features"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Vector    VectorConfig    `koanf:"vector"`
	Assets    AssetsConfig    `koanf:"assets"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type ModelsConfig struct {
	// APIBase/APIKey/Model/VisionModel mirror chat_config.json and take
	// precedence over the registry entry of the same name when set.
	APIBase     string          `koanf:"api_base"`
	APIKey      string          `koanf:"api_key"`
	Model       string          `koanf:"model"`
	VisionModel string          `koanf:"vision_model"`
	Embedding   string          `koanf:"embedding"`
	Fallback    string          `koanf:"fallback"`
	Registry    []ModelRegistry `koanf:"registry"`

	MaxFallbackAttempts int `koanf:"max_fallback_attempts"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type StoreConfig struct {
	Path        string `koanf:"path"`
	BusyTimeout string `koanf:"busy_timeout"`
}

type MemoryConfig struct {
	RecallLimit            int     `koanf:"recall_limit"`
	CandidateCeiling       int     `koanf:"candidate_ceiling"`
	MaxEntries             int     `koanf:"max_entries"`
	EvictThreshold         int     `koanf:"evict_threshold"`
	WorkingInactivityMins  int     `koanf:"working_inactivity_minutes"`
	IntentThreshold        float64 `koanf:"intent_threshold"`
	ReminderOffsetDefault  int     `koanf:"reminder_offset_default"`
	ContextVariableMaxByte int     `koanf:"context_variable_max_bytes"`
}

type GraphConfig struct {
	MaxOuterCycles    int `koanf:"max_outer_cycles"`
	MaxReasoningCalls int `koanf:"max_reasoning_calls"`
	EventBuffer       int `koanf:"event_buffer"`
}

type IntentConfig struct {
	LLMThreshold    float64 `koanf:"llm_threshold"`
	DynamicPriority int     `koanf:"dynamic_priority"`
}

type ToolHostConfig struct {
	ExecTimeout string `koanf:"exec_timeout"`
	StopGrace   string `koanf:"stop_grace"`
}

type FormConfig struct {
	TTL string `koanf:"ttl"`
}

type FeaturesConfig struct {
	UseMemoryEmotionSystem bool `koanf:"use_memory_emotion_system"`
	UseHITLSystem          bool `koanf:"use_hitl_system"`
	UseIntentRecognition   bool `koanf:"use_intent_recognition"`
}

type SchedulerConfig struct {
	Enabled      bool   `koanf:"enabled"`
	CronSpec     string `koanf:"cron_spec"`
	DuePlanLimit int    `koanf:"due_plan_limit"`
}

type VectorConfig struct {
	Collection string `koanf:"collection"`
	ExportPath string `koanf:"export_path"`
}

type AssetsConfig struct {
	Live2DDir string `koanf:"live2d_dir"`
}

const (
	DefaultServerPort            = 8080
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "30s"
	DefaultServerWriteTimeout    = "0s" // streaming responses must not be cut off
	DefaultServerIdleTimeout     = "60s"
	DefaultServerShutdownTimeout = "5s"

	DefaultModel                    = "gpt-4o-mini"
	DefaultModelMaxFallbackAttempts = 2
	DefaultModelEmbedding           = "text-embedding-3-small"
	DefaultOpenAIBaseURL            = "https://api.openai.com/v1"

	DefaultStoreBusyTimeout = "5s"

	DefaultMemoryRecallLimit        = 5
	DefaultMemoryCandidateCeiling   = 50
	DefaultMemoryMaxEntries         = 5000
	DefaultMemoryEvictThreshold     = 500
	DefaultMemoryWorkingInactivity  = 240
	DefaultMemoryReminderOffsetMins = 10
	DefaultContextVariableMaxBytes  = 64 * 1024

	DefaultGraphMaxOuterCycles    = 2
	DefaultGraphMaxReasoningCalls = 5
	DefaultGraphEventBuffer       = 16

	DefaultIntentLLMThreshold    = 0.7
	DefaultIntentDynamicPriority = 20

	DefaultToolHostExecTimeout = "30s"
	DefaultToolHostStopGrace   = "5s"

	DefaultFormTTL = "10m"

	DefaultSchedulerCronSpec     = "@every 1m"
	DefaultSchedulerDuePlanLimit = 10

	DefaultVectorCollection = "kokoro"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                        DefaultServerPort,
		"server.log_level":                   DefaultServerLogLevel,
		"server.read_timeout":                DefaultServerReadTimeout,
		"server.write_timeout":               DefaultServerWriteTimeout,
		"server.idle_timeout":                DefaultServerIdleTimeout,
		"server.shutdown_timeout":            DefaultServerShutdownTimeout,
		"models.model":                       DefaultModel,
		"models.embedding":                   DefaultModelEmbedding,
		"models.api_base":                    DefaultOpenAIBaseURL,
		"models.max_fallback_attempts":       DefaultModelMaxFallbackAttempts,
		"store.busy_timeout":                 DefaultStoreBusyTimeout,
		"memory.recall_limit":                DefaultMemoryRecallLimit,
		"memory.candidate_ceiling":           DefaultMemoryCandidateCeiling,
		"memory.max_entries":                 DefaultMemoryMaxEntries,
		"memory.evict_threshold":             DefaultMemoryEvictThreshold,
		"memory.working_inactivity_minutes":  DefaultMemoryWorkingInactivity,
		"memory.reminder_offset_default":     DefaultMemoryReminderOffsetMins,
		"memory.context_variable_max_bytes":  DefaultContextVariableMaxBytes,
		"graph.max_outer_cycles":             DefaultGraphMaxOuterCycles,
		"graph.max_reasoning_calls":          DefaultGraphMaxReasoningCalls,
		"graph.event_buffer":                 DefaultGraphEventBuffer,
		"intent.llm_threshold":               DefaultIntentLLMThreshold,
		"intent.dynamic_priority":            DefaultIntentDynamicPriority,
		"toolhost.exec_timeout":              DefaultToolHostExecTimeout,
		"toolhost.stop_grace":                DefaultToolHostStopGrace,
		"form.ttl":                           DefaultFormTTL,
		"features.use_memory_emotion_system": true,
		"features.use_hitl_system":           true,
		"features.use_intent_recognition":    true,
		"scheduler.enabled":                  true,
		"scheduler.cron_spec":                DefaultSchedulerCronSpec,
		"scheduler.due_plan_limit":           DefaultSchedulerDuePlanLimit,
		"vector.collection":                  DefaultVectorCollection,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// YAML config file (engine settings)
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".kokoro", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// chat_config.json ({api_base, api_key, model, vision_model}) overlays models.*
	chatConfigPath := "chat_config.json"
	if cmd != nil {
		if flag := cmd.Flags().Lookup("chat-config"); flag != nil && strings.TrimSpace(flag.Value.String()) != "" {
			chatConfigPath = strings.TrimSpace(flag.Value.String())
		}
	}
	if _, err := os.Stat(chatConfigPath); err == nil {
		if err := k.Load(file.Provider(chatConfigPath), chatConfigParser{}); err != nil {
			return nil, err
		}
	}

	// Environment Variables: KOKORO_* plus the legacy USE_* feature toggles
	k.Load(env.Provider("KOKORO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "KOKORO_")), "_", ".", -1)
	}), nil)
	loadFeatureEnv(k, "USE_MEMORY_EMOTION_SYSTEM", "features.use_memory_emotion_system")
	loadFeatureEnv(k, "USE_HITL_SYSTEM", "features.use_hitl_system")
	loadFeatureEnv(k, "USE_INTENT_RECOGNITION", "features.use_intent_recognition")

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	if cfg.Store.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Store.Path = filepath.Join(home, ".kokoro", "kokoro.db")
	}
	if cfg.Vector.ExportPath == "" {
		cfg.Vector.ExportPath = filepath.Join(filepath.Dir(cfg.Store.Path), "memory_export.json")
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Models.APIKey == "" {
		cfg.Models.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}

	return &cfg, nil
}

// loadFeatureEnv maps a bare legacy env toggle onto a koanf key. Anything other
// than "false"/"0"/"no" counts as enabled, matching the original service.
func loadFeatureEnv(k *koanf.Koanf, envName, key string) {
	raw, ok := os.LookupEnv(envName)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "false", "0", "no", "off":
		k.Set(key, false)
	default:
		k.Set(key, true)
	}
}

// chatConfigParser adapts the flat chat_config.json keys onto models.*.
type chatConfigParser struct{}

func (chatConfigParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	flat, err := kjson.Parser().Unmarshal(b)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if v, ok := flat["api_base"]; ok {
		out["models.api_base"] = v
	}
	if v, ok := flat["api_key"]; ok {
		out["models.api_key"] = v
	}
	if v, ok := flat["model"]; ok {
		out["models.model"] = v
	}
	if v, ok := flat["vision_model"]; ok {
		out["models.vision_model"] = v
	}
	return out, nil
}

func (chatConfigParser) Marshal(m map[string]interface{}) ([]byte, error) {
	return kjson.Parser().Marshal(m)
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	storePath, err := expandConfiguredPath(cfg.Store.Path)
	if err != nil {
		return err
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}

	live2dDir, err := expandConfiguredPath(cfg.Assets.Live2DDir)
	if err != nil {
		return err
	}
	if live2dDir != "" {
		cfg.Assets.Live2DDir = live2dDir
	}

	exportPath, err := expandConfiguredPath(cfg.Vector.ExportPath)
	if err != nil {
		return err
	}
	if exportPath != "" {
		cfg.Vector.ExportPath = exportPath
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
