package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root config structure.
type Config struct {
	LLM     LLMConfig     `koanf:"llm"`
	Agent   AgentConfig   `koanf:"agent"`
	Weather WeatherConfig `koanf:"weather"`
}

// LLMConfig lists the models the agent may run on.
type LLMConfig struct {
	Models map[string]ModelConfig `koanf:"models"`
}

// ModelConfig defines a single model entry in config.
type ModelConfig struct {
	Provider                 string `koanf:"provider"`
	Model                    string `koanf:"model"`
	APIKey                   string `koanf:"api_key"`
	BaseURL                  string `koanf:"base_url"`
	Backend                  string `koanf:"backend"`  // genai only: "gemini" or "vertex"
	Project                  string `koanf:"project"`  // genai vertex backend
	Location                 string `koanf:"location"` // genai vertex backend
	SupportsTools            bool   `koanf:"supports_tools"`
	SupportsStructuredOutput bool   `koanf:"supports_structured_output"`
	MaxOutputTokens          int    `koanf:"max_output_tokens"`
}

// AgentConfig controls a single agent run.
type AgentConfig struct {
	Model       string        `koanf:"model"`
	Retries     int           `koanf:"retries"`
	MaxRequests int           `koanf:"max_requests"`
	Timeout     time.Duration `koanf:"timeout"`
	Temperature float32       `koanf:"temperature"`
	LogLevel    string        `koanf:"log_level"`
}

// WeatherConfig holds the third-party API keys and endpoints used by the tools.
// An empty key switches that tool to mock data.
type WeatherConfig struct {
	GeoAPIKey     string `koanf:"geo_api_key"`
	WeatherAPIKey string `koanf:"weather_api_key"`
	AQIAPIKey     string `koanf:"aqi_api_key"`
	GeocodeURL    string `koanf:"geocode_url"`
	WeatherURL    string `koanf:"weather_url"`
	AQIURL        string `koanf:"aqi_url"`
}

const (
	// EnvConfigPath names the variable holding an explicit config file path.
	EnvConfigPath = "WEATHERAGENT_CONFIG"
	// EnvPrefix prefixes environment overrides, e.g.
	// WEATHERAGENT__WEATHER__GEO_API_KEY=... (double underscore splits levels).
	EnvPrefix = "WEATHERAGENT__"

	// EnvLegacyWeatherKey is the misspelt name earlier releases read the
	// Tomorrow.io key from. It is used only when the weather key is empty.
	EnvLegacyWeatherKey = "WAETHER_API_KEY"

	defaultPath = "config.yaml"
)

// defaults: Gemini 2.0 Flash, two retries per
// tool, keys taken from the usual environment variables.
var defaults = map[string]any{
	"llm.models.gemini20flash.provider":                   "gemini",
	"llm.models.gemini20flash.model":                      "gemini-2.0-flash-exp",
	"llm.models.gemini20flash.api_key":                    "${GEMINI_API_KEY}",
	"llm.models.gemini20flash.supports_tools":             true,
	"llm.models.gemini20flash.supports_structured_output": true,

	"agent.model":        "gemini20flash",
	"agent.retries":      2,
	"agent.max_requests": 50,
	"agent.log_level":    "info",

	"weather.geo_api_key":     "${LOCATION_API_KEY}",
	"weather.weather_api_key": "${WEATHER_API_KEY}",
	"weather.aqi_api_key":     "${AQI_API_KEY}",
	"weather.geocode_url":     "https://geocode.maps.co/search",
	"weather.weather_url":     "https://api.tomorrow.io/v4/weather/realtime",
	"weather.aqi_url":         "https://api.waqi.info/feed",
}

var (
	loadOnce sync.Once
	loaded   *Config
	loadErr  error
)

// Load loads configuration from path or default locations. Load is safe for repeated calls.
//
// Priority (later wins):
// 1. built-in defaults
// 2. WEATHERAGENT_CONFIG if set (must exist), else ./config.yaml if present
// 3. WEATHERAGENT__* environment variables
//
// A .env file in the working directory is loaded first; it never overrides
// variables already set in the environment.
func Load() (*Config, error) {
	loadOnce.Do(func() {
		loaded, loadErr = load()
	})
	return loaded, loadErr
}

func load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	path, explicit := os.LookupEnv(EnvConfigPath)
	if !explicit || path == "" {
		path, explicit = defaultPath, false
	}
	if err := k.Load(kfile.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(kenv.Provider(EnvPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Resolve environment variables in string fields
	resolveEnvVars(&cfg)
	if strings.TrimSpace(cfg.Weather.WeatherAPIKey) == "" {
		cfg.Weather.WeatherAPIKey = os.Getenv(EnvLegacyWeatherKey)
	}

	return &cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveEnvVars resolves ${VAR} patterns in config string fields
func resolveEnvVars(cfg *Config) {
	for key, model := range cfg.LLM.Models {
		model.APIKey = resolveEnvString(model.APIKey)
		model.Provider = resolveEnvString(model.Provider)
		model.Model = resolveEnvString(model.Model)
		model.BaseURL = resolveEnvString(model.BaseURL)
		model.Project = resolveEnvString(model.Project)
		model.Location = resolveEnvString(model.Location)
		cfg.LLM.Models[key] = model
	}
	cfg.Agent.Model = resolveEnvString(cfg.Agent.Model)

	w := &cfg.Weather
	w.GeoAPIKey = resolveEnvString(w.GeoAPIKey)
	w.WeatherAPIKey = resolveEnvString(w.WeatherAPIKey)
	w.AQIAPIKey = resolveEnvString(w.AQIAPIKey)
	w.GeocodeURL = resolveEnvString(w.GeocodeURL)
	w.WeatherURL = resolveEnvString(w.WeatherURL)
	w.AQIURL = resolveEnvString(w.AQIURL)
}

// resolveEnvString replaces ${VAR} with environment variable values.
// Unset variables become empty so that a missing key reads as "not configured".
func resolveEnvString(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR}
		varName := match[2 : len(match)-1] // Remove ${ and }
		return os.Getenv(varName)
	})
}
