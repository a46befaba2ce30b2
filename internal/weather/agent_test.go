package weather

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizzyg/weatheragent"
	moderr "github.com/lizzyg/weatheragent/errors"
	"github.com/lizzyg/weatheragent/internal/config"
)

// scriptedModel replays canned model turns and records what it was sent.
type scriptedModel struct {
	turns []weatheragent.RawResponse
	seen  []weatheragent.CallParams
}

func (s *scriptedModel) Call(ctx context.Context, p weatheragent.CallParams) (weatheragent.RawResponse, error) {
	s.seen = append(s.seen, p)
	if len(s.turns) == 0 {
		return weatheragent.RawResponse{}, errors.New("script exhausted")
	}
	r := s.turns[0]
	s.turns = s.turns[1:]
	return r, nil
}

func toolCall(id, name, args string) weatheragent.ToolCall {
	return weatheragent.ToolCall{CallID: id, Name: name, Args: json.RawMessage(args)}
}

func newTestAgent(model *scriptedModel) *Agent {
	llm := config.LLMConfig{Models: map[string]config.ModelConfig{
		"gemini20flash": {Provider: "gemini", Model: "gemini-2.0-flash-exp", APIKey: "test", SupportsTools: true, SupportsStructuredOutput: true},
	}}
	client := weatheragent.NewRouter(llm,
		weatheragent.WithProviderClient("gemini", model),
		weatheragent.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return NewAgent(client, config.AgentConfig{Model: "gemini20flash", Retries: 2})
}

func TestAskMockModeTwoLocations(t *testing.T) {
	model := &scriptedModel{turns: []weatheragent.RawResponse{
		{ToolCalls: []weatheragent.ToolCall{
			toolCall("1", GeocodeToolName, `{"location_description":"Paris"}`),
			toolCall("2", GeocodeToolName, `{"location_description":"Tokyo"}`),
		}},
		{ToolCalls: []weatheragent.ToolCall{
			toolCall("3", WeatherToolName, `{"lat":51.1,"lng":-0.1}`),
			toolCall("4", AQIToolName, `{"lat":51.1,"lng":-0.1}`),
			toolCall("5", WeatherToolName, `{"lat":51.1,"lng":-0.1}`),
			toolCall("6", AQIToolName, `{"lat":51.1,"lng":-0.1}`),
		}},
		{ToolCalls: []weatheragent.ToolCall{
			toolCall("7", "final_result", `{"response":[
				{"Temperature":"21 °C","Description":"","AirQualityIndex":10000},
				{"Temperature":"21 °C","Description":"","AirQualityIndex":10000}
			]}`),
		}},
	}}
	agent := newTestAgent(model)

	res, err := agent.Ask(context.Background(), NewDeps(nil, config.WeatherConfig{}), "What is the weather like in Paris and Tokyo?")
	require.NoError(t, err)

	want := Reports{
		{Temperature: "21 °C", AirQualityIndex: 10000},
		{Temperature: "21 °C", AirQualityIndex: 10000},
	}
	assert.Equal(t, want, res.Output)
	assert.Equal(t, 3, res.Requests)

	first := model.seen[0]
	assert.Equal(t, SystemPrompt, first.System)
	var names []string
	for _, d := range first.ToolDefs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"get_lat_lng", "get_weather", "get_aqi", "final_result"}, names)
	assert.Contains(t, first.ToolDefs[0].JSONSchema, "location_description")

	// geocode results reached the model as mock coordinates
	second := model.seen[1].Messages
	results := second[len(second)-1].ToolResults
	require.Len(t, results, 2)
	assert.JSONEq(t, `{"lat":51.1,"lng":-0.1}`, results[0].Content)
	assert.Equal(t, "1", results[0].CallID)

	third := model.seen[2].Messages
	results = third[len(third)-1].ToolResults
	require.Len(t, results, 4)
	assert.JSONEq(t, `{"temperature":"21 °C"}`, results[0].Content)
	assert.JSONEq(t, `{"AirQualityIndex":10000}`, results[1].Content)
}

func TestAskRefusal(t *testing.T) {
	refusal := "Sorry, I can only answer weather questions."
	model := &scriptedModel{turns: []weatheragent.RawResponse{
		{Content: refusal}, {Content: refusal}, {Content: refusal},
	}}
	agent := newTestAgent(model)

	_, err := agent.Ask(context.Background(), NewDeps(nil, config.WeatherConfig{}), "")
	var oe *moderr.OutputError
	require.True(t, errors.As(err, &oe), "got %v", err)
	assert.Equal(t, refusal, oe.Text)
	assert.Len(t, model.seen, 3)
}

func TestAskOutputSchema(t *testing.T) {
	model := &scriptedModel{turns: []weatheragent.RawResponse{
		{Content: "```json\n[{\"Temperature\":\"5°C\",\"Description\":\"Fog\",\"AirQualityIndex\":17}]\n```"},
	}}
	agent := newTestAgent(model)

	res, err := agent.Ask(context.Background(), NewDeps(nil, config.WeatherConfig{}), "London?")
	require.NoError(t, err)
	assert.Equal(t, Reports{{Temperature: "5°C", Description: "Fog", AirQualityIndex: 17}}, res.Output)

	schema := model.seen[0].OutputSchema
	for _, field := range []string{`"Temperature"`, `"Description"`, `"AirQualityIndex"`, `"array"`} {
		assert.True(t, strings.Contains(schema, field), "schema missing %s: %s", field, schema)
	}
}

func TestAskGeocodeRetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, `[]`)
	})
	geo := toolCall("g", GeocodeToolName, `{"location_description":"Nowhere"}`)
	model := &scriptedModel{turns: []weatheragent.RawResponse{
		{ToolCalls: []weatheragent.ToolCall{geo}},
		{ToolCalls: []weatheragent.ToolCall{geo}},
		{ToolCalls: []weatheragent.ToolCall{geo}},
	}}
	agent := newTestAgent(model)

	_, err := agent.Ask(context.Background(), liveDeps(srv), "weather in Nowhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, moderr.ErrRetriesExhausted)
	assert.ErrorIs(t, err, moderr.ErrLocationNotFound)
	assert.EqualValues(t, 3, hits.Load())

	msgs := model.seen[1].Messages
	retryPrompt := msgs[len(msgs)-1].ToolResults[0]
	assert.True(t, retryPrompt.IsError)
	assert.Equal(t, "Could not find the location\n\nFix the errors and try again.", retryPrompt.Content)
}

func TestAskPartialReportIsRetried(t *testing.T) {
	model := &scriptedModel{turns: []weatheragent.RawResponse{
		{ToolCalls: []weatheragent.ToolCall{
			toolCall("1", "final_result", `{"response":[{"Temperature":"21 °C"}]}`),
		}},
		{ToolCalls: []weatheragent.ToolCall{
			toolCall("2", "final_result", `{"response":[{"Temperature":"21 °C","Description":"","AirQualityIndex":10000}]}`),
		}},
	}}
	agent := newTestAgent(model)

	res, err := agent.Ask(context.Background(), NewDeps(nil, config.WeatherConfig{}), "Weather in Paris?")
	require.NoError(t, err)
	assert.Equal(t, Reports{{Temperature: "21 °C", AirQualityIndex: 10000}}, res.Output)
	assert.Equal(t, 2, res.Requests)

	msgs := model.seen[1].Messages
	retryPrompt := msgs[len(msgs)-1].ToolResults[0]
	assert.True(t, retryPrompt.IsError)
	assert.Contains(t, retryPrompt.Content, "Description, AirQualityIndex")
	assert.True(t, strings.HasSuffix(retryPrompt.Content, "Fix the errors and try again."))
}
