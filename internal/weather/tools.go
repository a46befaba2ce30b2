package weather

import (
	"context"
	"fmt"

	"github.com/lizzyg/weatheragent"
	moderr "github.com/lizzyg/weatheragent/errors"
)

const (
	GeocodeToolName = "get_lat_lng"
	WeatherToolName = "get_weather"
	AQIToolName     = "get_aqi"
)

type latLngArgs struct {
	LocationDescription string `json:"location_description" jsonschema:"description=A description of a location."`
}

type coordArgs struct {
	Lat float64 `json:"lat" jsonschema:"description=Latitude of the location."`
	Lng float64 `json:"lng" jsonschema:"description=Longitude of the location."`
}

type geocodeTool struct{}

func (geocodeTool) Name() string { return GeocodeToolName }
func (geocodeTool) Description() string {
	return "Get the latitude and longitude of a location."
}
func (geocodeTool) Parameters() any { return &latLngArgs{} }
func (geocodeTool) Execute(ctx context.Context, args any) (any, error) {
	d, err := depsFrom(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := args.(*latLngArgs)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected args %T", GeocodeToolName, args)
	}
	return GetLatLng(ctx, d, a.LocationDescription)
}

type weatherTool struct{}

func (weatherTool) Name() string        { return WeatherToolName }
func (weatherTool) Description() string { return "Get the weather at a location." }
func (weatherTool) Parameters() any     { return &coordArgs{} }
func (weatherTool) Execute(ctx context.Context, args any) (any, error) {
	d, err := depsFrom(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := args.(*coordArgs)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected args %T", WeatherToolName, args)
	}
	return GetWeather(ctx, d, a.Lat, a.Lng)
}

type aqiTool struct{}

func (aqiTool) Name() string { return AQIToolName }
func (aqiTool) Description() string {
	return "Get the Air Quality Index given the geographical coordinates of a location."
}
func (aqiTool) Parameters() any { return &coordArgs{} }
func (aqiTool) Execute(ctx context.Context, args any) (any, error) {
	d, err := depsFrom(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := args.(*coordArgs)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected args %T", AQIToolName, args)
	}
	return GetAQI(ctx, d, a.Lat, a.Lng)
}

// Tools returns the three agent tools in the order the system prompt uses them.
func Tools() []weatheragent.Tool {
	return []weatheragent.Tool{geocodeTool{}, weatherTool{}, aqiTool{}}
}

func depsFrom(ctx context.Context) (Deps, error) {
	if d, ok := weatheragent.DepsFrom[Deps](ctx); ok {
		return d, nil
	}
	if d, ok := weatheragent.DepsFrom[*Deps](ctx); ok && d != nil {
		return *d, nil
	}
	return Deps{}, moderr.FatalErr(moderr.ErrMissingDeps)
}
