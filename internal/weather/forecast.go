package weather

import (
	"context"
	"fmt"
	"net/url"
)

// MockObservation is returned when no weather key is configured.
var MockObservation = Observation{Temperature: "21 °C"}

type realtimeResponse struct {
	Data struct {
		Values struct {
			TemperatureApparent *float64 `json:"temperatureApparent"`
			WeatherCode         *int     `json:"weatherCode"`
		} `json:"values"`
	} `json:"data"`
}

// GetWeather fetches realtime conditions from Tomorrow.io in metric units.
func GetWeather(ctx context.Context, d Deps, lat, lng float64) (Observation, error) {
	if d.WeatherAPIKey == "" {
		return MockObservation, nil
	}

	q := url.Values{}
	q.Set("apikey", d.WeatherAPIKey)
	q.Set("location", formatCoord(lat)+","+formatCoord(lng))
	q.Set("units", "metric")

	var rr realtimeResponse
	if err := getJSON(ctx, d.httpClient(), "weather", d.Endpoints.Weather+"?"+q.Encode(), &rr); err != nil {
		return Observation{}, fmt.Errorf("get_weather: %w", err)
	}
	v := rr.Data.Values
	if v.TemperatureApparent == nil || v.WeatherCode == nil {
		return Observation{}, fmt.Errorf("get_weather: response is missing data.values fields")
	}
	return Observation{
		Temperature: fmt.Sprintf("%.0f°C", *v.TemperatureApparent),
		Description: Describe(*v.WeatherCode),
	}, nil
}
