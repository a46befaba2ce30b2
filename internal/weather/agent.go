package weather

import (
	"context"
	"time"

	"github.com/lizzyg/weatheragent"
	"github.com/lizzyg/weatheragent/internal/config"
)

// SystemPrompt drives the per-location tool sequence.
const SystemPrompt = "When asked about the weather for one or more locations, " +
	"handle each location separately. " +
	"For each location, first use the `get_lat_lng` tool to find latitude and longitude, " +
	"then use the `get_weather` tool to get the weather, " +
	"then use the `get_aqi` tool to get the Air Quality Index. " +
	"Be concise, one sentence per location. " +
	"**If the input is not a weather/location-related query, refuse politely.**"

// DefaultRetries is how many consecutive retryable failures a tool may have.
const DefaultRetries = 2

// Agent answers weather questions with one Report per location.
type Agent struct {
	client      weatheragent.Client
	model       string
	retries     int
	timeout     time.Duration
	temperature float32
}

// NewAgent binds a client to the agent section of the config.
func NewAgent(c weatheragent.Client, cfg config.AgentConfig) *Agent {
	retries := cfg.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &Agent{
		client:      c,
		model:       cfg.Model,
		retries:     retries,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
	}
}

// Ask runs the agent once for query. Tools reach deps through the context.
func (a *Agent) Ask(ctx context.Context, deps Deps, query string) (*weatheragent.Result[Reports], error) {
	return weatheragent.Run[Reports](ctx, a.client, weatheragent.Request{
		Model:        a.model,
		SystemPrompt: SystemPrompt,
		Messages:     []weatheragent.Message{{Role: weatheragent.RoleUser, Content: query}},
		Tools:        Tools(),
		Deps:         deps,
		MaxRetries:   a.retries,
		Temperature:  a.temperature,
		Timeout:      a.timeout,
	})
}
