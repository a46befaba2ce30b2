package weather

import (
	"net/http"
	"strings"

	"github.com/lizzyg/weatheragent/internal/config"
)

// Default third-party endpoints.
const (
	DefaultGeocodeURL = "https://geocode.maps.co/search"
	DefaultWeatherURL = "https://api.tomorrow.io/v4/weather/realtime"
	DefaultAQIURL     = "https://api.waqi.info/feed"
)

// Endpoints are the base URLs the tools call.
type Endpoints struct {
	Geocode string
	Weather string
	AQI     string
}

// Deps is handed to every tool call. An empty key puts that tool in mock mode.
type Deps struct {
	Client        *http.Client
	GeoAPIKey     string
	WeatherAPIKey string
	AQIAPIKey     string
	Endpoints     Endpoints
}

// NewDeps builds Deps from the weather config section, filling in default
// endpoints where none are configured.
func NewDeps(hc *http.Client, cfg config.WeatherConfig) Deps {
	return Deps{
		Client:        hc,
		GeoAPIKey:     strings.TrimSpace(cfg.GeoAPIKey),
		WeatherAPIKey: strings.TrimSpace(cfg.WeatherAPIKey),
		AQIAPIKey:     strings.TrimSpace(cfg.AQIAPIKey),
		Endpoints: Endpoints{
			Geocode: orDefault(cfg.GeocodeURL, DefaultGeocodeURL),
			Weather: orDefault(cfg.WeatherURL, DefaultWeatherURL),
			AQI:     orDefault(cfg.AQIURL, DefaultAQIURL),
		},
	}
}

// Mocked lists the tools that will answer with canned data.
func (d Deps) Mocked() []string {
	var out []string
	if d.GeoAPIKey == "" {
		out = append(out, GeocodeToolName)
	}
	if d.WeatherAPIKey == "" {
		out = append(out, WeatherToolName)
	}
	if d.AQIAPIKey == "" {
		out = append(out, AQIToolName)
	}
	return out
}

func (d Deps) httpClient() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func orDefault(v, def string) string {
	v = strings.TrimRight(strings.TrimSpace(v), "/")
	if v == "" {
		return def
	}
	return v
}
