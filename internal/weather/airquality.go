package weather

import (
	"context"
	"fmt"
	"math"
	"net/url"

	moderr "github.com/lizzyg/weatheragent/errors"
)

// MockAirQuality is returned when no AQI key is configured.
var MockAirQuality = AirQuality{Index: 10000}

// GetAQI fetches the air quality index of the station nearest to lat/lng
// from the World Air Quality Index feed.
func GetAQI(ctx context.Context, d Deps, lat, lng float64) (AirQuality, error) {
	if d.AQIAPIKey == "" {
		return MockAirQuality, nil
	}

	endpoint := fmt.Sprintf("%s/geo:%s;%s/?token=%s", d.Endpoints.AQI, formatCoord(lat), formatCoord(lng), url.QueryEscape(d.AQIAPIKey))

	var body any
	if err := getJSON(ctx, d.httpClient(), "aqi", endpoint, &body); err != nil {
		return AirQuality{}, fmt.Errorf("get_aqi: %w", err)
	}
	if isEmpty(body) {
		return AirQuality{}, moderr.RetryWith(moderr.ErrLocationNotFound)
	}

	obj, ok := body.(map[string]any)
	if !ok {
		return AirQuality{}, fmt.Errorf("get_aqi: unexpected response type %T", body)
	}
	data, ok := obj["data"].(map[string]any)
	if !ok {
		// {"status":"error","data":"Unknown station"}
		return AirQuality{}, moderr.RetryWith(moderr.ErrLocationNotFound)
	}
	aqi, ok := data["aqi"].(float64)
	if !ok {
		// stations without a reading report "-"
		return AirQuality{}, moderr.RetryWith(moderr.ErrLocationNotFound)
	}
	return AirQuality{Index: int(math.Round(aqi))}, nil
}

// isEmpty reports whether a decoded JSON value is falsy: null, false, 0,
// an empty string, an empty array or an empty object.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case float64:
		return x == 0
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}
