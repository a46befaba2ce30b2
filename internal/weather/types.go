package weather

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Coordinates is what get_lat_lng returns.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Observation is what get_weather returns. Description is empty in mock mode.
type Observation struct {
	Temperature string `json:"temperature"`
	Description string `json:"description,omitempty"`
}

// AirQuality is what get_aqi returns.
type AirQuality struct {
	Index int `json:"AirQualityIndex"`
}

// Report is the per-location answer the agent must produce.
type Report struct {
	Temperature     string `json:"Temperature" jsonschema:"description=Temperature reported by get_weather"`
	Description     string `json:"Description" jsonschema:"description=Weather description reported by get_weather"`
	AirQualityIndex int    `json:"AirQualityIndex" jsonschema:"description=Air Quality Index reported by get_aqi"`
}

// UnmarshalJSON rejects reports that leave out any field; a missing
// AirQualityIndex would otherwise read as 0, which is a valid index.
func (r *Report) UnmarshalJSON(b []byte) error {
	var raw struct {
		Temperature     *string `json:"Temperature"`
		Description     *string `json:"Description"`
		AirQualityIndex *int    `json:"AirQualityIndex"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var missing []string
	if raw.Temperature == nil {
		missing = append(missing, "Temperature")
	}
	if raw.Description == nil {
		missing = append(missing, "Description")
	}
	if raw.AirQualityIndex == nil {
		missing = append(missing, "AirQualityIndex")
	}
	if len(missing) > 0 {
		return fmt.Errorf("report is missing required fields: %s", strings.Join(missing, ", "))
	}
	*r = Report{Temperature: *raw.Temperature, Description: *raw.Description, AirQualityIndex: *raw.AirQualityIndex}
	return nil
}

// Reports is the agent output, one Report per location in the query.
type Reports []Report

// Validate rejects reports without a temperature.
func (r *Reports) Validate() error {
	for i, rep := range *r {
		if strings.TrimSpace(rep.Temperature) == "" {
			return fmt.Errorf("report %d: Temperature is required", i)
		}
	}
	return nil
}

// flexFloat accepts a JSON number or a numeric string; geocode.maps.co
// returns coordinates as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return fmt.Errorf("coordinate is null")
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid coordinate %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// formatCoord renders a coordinate in its shortest decimal form.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
