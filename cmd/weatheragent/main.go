package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lizzyg/weatheragent"
	moderr "github.com/lizzyg/weatheragent/errors"
	"github.com/lizzyg/weatheragent/internal/config"
	"github.com/lizzyg/weatheragent/internal/weather"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run contains the main logic and returns an exit code so deferred
// cleanup happens before os.Exit.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger := newLogger(cfg.Agent.LogLevel)

	hc := newHTTPClient()
	defer hc.CloseIdleConnections()

	client, err := weatheragent.NewFromFile(
		weatheragent.WithLogger(logger),
		weatheragent.WithHTTPClient(hc),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	deps := weather.NewDeps(hc, cfg.Weather)
	if mocked := deps.Mocked(); len(mocked) > 0 {
		logger.Info("api key missing, using mock data", slog.Any("tools", mocked))
	}

	query := strings.Join(args, " ")
	res, err := weather.NewAgent(client, cfg.Agent).Ask(ctx, deps, query)
	if err != nil {
		var oe *moderr.OutputError
		if errors.As(err, &oe) && oe.Text != "" {
			fmt.Fprintf(os.Stderr, "model did not return weather reports: %s\n", oe.Text)
		}
		fmt.Fprintf(os.Stderr, "weatheragent: %v\n", err)
		return 1
	}
	logger.Info("run complete",
		slog.Int("requests", res.Requests),
		slog.Int("prompt_tokens", res.Usage.PromptTokens),
		slog.Int("completion_tokens", res.Usage.CompletionTokens),
		slog.Int("total_tokens", res.Usage.TotalTokens),
	)

	out, err := json.Marshal(res.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
		return 1
	}
	fmt.Println("Response:", string(out))
	return 0
}

// newHTTPClient sets no client timeout: model calls are bounded by
// agent.timeout and the weather APIs by the transport defaults.
func newHTTPClient() *http.Client {
	return &http.Client{Transport: http.DefaultTransport}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
