package weather

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	moderr "github.com/lizzyg/weatheragent/errors"
)

// MockCoordinates is returned when no geocoding key is configured.
var MockCoordinates = Coordinates{Lat: 51.1, Lng: -0.1}

type geocodeHit struct {
	Lat flexFloat `json:"lat"`
	Lon flexFloat `json:"lon"`
}

// GetLatLng resolves a free-text location to coordinates using the first
// geocode.maps.co match.
func GetLatLng(ctx context.Context, d Deps, description string) (Coordinates, error) {
	if d.GeoAPIKey == "" {
		return MockCoordinates, nil
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return Coordinates{}, moderr.Retry("location_description must not be empty")
	}

	q := url.Values{}
	q.Set("q", description)
	q.Set("api_key", d.GeoAPIKey)

	var hits []geocodeHit
	if err := getJSON(ctx, d.httpClient(), "geocode", d.Endpoints.Geocode+"?"+q.Encode(), &hits); err != nil {
		return Coordinates{}, fmt.Errorf("get_lat_lng: %w", err)
	}
	if len(hits) == 0 {
		return Coordinates{}, moderr.RetryWith(moderr.ErrLocationNotFound)
	}
	return Coordinates{Lat: float64(hits[0].Lat), Lng: float64(hits[0].Lon)}, nil
}
