package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingExplicitFile(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "nope.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadDefaults(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	// run in an empty dir so no config.yaml or .env is picked up
	t.Chdir(t.TempDir())
	t.Setenv(EnvConfigPath, "")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("LOCATION_API_KEY", "")
	t.Setenv("WEATHER_API_KEY", "tomorrow-key")
	t.Setenv("AQI_API_KEY", "")
	os.Unsetenv("AQI_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "gemini20flash" || cfg.Agent.Retries != 2 || cfg.Agent.MaxRequests != 50 {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
	mc, ok := cfg.LLM.Models["gemini20flash"]
	if !ok {
		t.Fatal("default model missing")
	}
	if mc.Provider != "gemini" || mc.Model != "gemini-2.0-flash-exp" || mc.APIKey != "gem-key" || !mc.SupportsTools {
		t.Fatalf("unexpected default model: %+v", mc)
	}
	if cfg.Weather.GeoAPIKey != "" || cfg.Weather.AQIAPIKey != "" {
		t.Fatalf("unset keys should be empty: %+v", cfg.Weather)
	}
	if cfg.Weather.WeatherAPIKey != "tomorrow-key" {
		t.Fatalf("weather key not resolved: %q", cfg.Weather.WeatherAPIKey)
	}
	if cfg.Weather.GeocodeURL != "https://geocode.maps.co/search" {
		t.Fatalf("unexpected geocode url: %q", cfg.Weather.GeocodeURL)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "agent.yaml")
	yaml := `
llm:
  models:
    gpt4o:
      provider: openai
      model: gpt-4o
      api_key: ${TEST_OPENAI_KEY}
      supports_tools: true
agent:
  model: gpt4o
  retries: 3
  timeout: 45s
weather:
  aqi_url: http://localhost:9999/feed
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	t.Setenv("WEATHERAGENT__AGENT__RETRIES", "4")
	t.Setenv("WEATHERAGENT__WEATHER__GEO_API_KEY", "geo-from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "gpt4o" {
		t.Fatalf("file did not override model: %q", cfg.Agent.Model)
	}
	if cfg.Agent.Retries != 4 {
		t.Fatalf("env did not override retries: %d", cfg.Agent.Retries)
	}
	if cfg.Agent.Timeout != 45*time.Second {
		t.Fatalf("timeout not parsed: %v", cfg.Agent.Timeout)
	}
	if got := cfg.LLM.Models["gpt4o"].APIKey; got != "sk-test" {
		t.Fatalf("api key not resolved: %q", got)
	}
	if cfg.Weather.GeoAPIKey != "geo-from-env" {
		t.Fatalf("env override missing: %q", cfg.Weather.GeoAPIKey)
	}
	if cfg.Weather.AQIURL != "http://localhost:9999/feed" {
		t.Fatalf("file value missing: %q", cfg.Weather.AQIURL)
	}
	// defaults survive alongside file models
	if _, ok := cfg.LLM.Models["gemini20flash"]; !ok {
		t.Fatal("default model dropped")
	}
}

func TestResolveEnvString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVar   string
		envValue string
		setEnv   bool
		expected string
	}{
		{
			name:     "replaces set environment variable",
			input:    "api-${API_KEY}-suffix",
			envVar:   "API_KEY",
			envValue: "test123",
			setEnv:   true,
			expected: "api-test123-suffix",
		},
		{
			name:     "handles empty environment variable",
			input:    "prefix-${EMPTY_VAR}-suffix",
			envVar:   "EMPTY_VAR",
			envValue: "",
			setEnv:   true,
			expected: "prefix--suffix",
		},
		{
			name:     "handles unset environment variable",
			input:    "prefix-${UNSET_VAR}-suffix",
			envVar:   "UNSET_VAR",
			setEnv:   false,
			expected: "prefix--suffix",
		},
		{
			name:     "handles multiple variables",
			input:    "${HOST}:${PORT}",
			envVar:   "HOST",
			envValue: "localhost",
			setEnv:   true,
			expected: "localhost:",
		},
		{
			name:     "no substitution needed",
			input:    "no-vars-here",
			envVar:   "",
			setEnv:   false,
			expected: "no-vars-here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envVar != "" {
				if tt.setEnv {
					t.Setenv(tt.envVar, tt.envValue)
				} else {
					t.Setenv(tt.envVar, "")
					os.Unsetenv(tt.envVar)
				}
			}
			if tt.name == "handles multiple variables" {
				t.Setenv("PORT", "")
			}

			result := resolveEnvString(tt.input)
			if result != tt.expected {
				t.Errorf("resolveEnvString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLoadLegacyWeatherKey(t *testing.T) {
	tests := []struct {
		name    string
		current string
		legacy  string
		want    string
	}{
		{"legacy only", "", "old-key", "old-key"},
		{"current wins", "new-key", "old-key", "new-key"},
		{"neither", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetForTest()
			t.Cleanup(ResetForTest)
			t.Chdir(t.TempDir())
			t.Setenv(EnvConfigPath, "")
			t.Setenv("WEATHER_API_KEY", tt.current)
			t.Setenv(EnvLegacyWeatherKey, tt.legacy)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Weather.WeatherAPIKey != tt.want {
				t.Fatalf("weather key = %q, want %q", cfg.Weather.WeatherAPIKey, tt.want)
			}
		})
	}
}
