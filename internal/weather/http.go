package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lizzyg/weatheragent/internal/providers/retry"
)

// getJSON issues a GET and decodes the JSON body into out. Non-2xx answers
// come back as *retry.HTTPStatusError; the tools never retry them.
func getJSON(ctx context.Context, hc *http.Client, source, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	defer resp.Body.Close()
	if err := retry.CheckResponse(resp, source); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", source, err)
	}
	return nil
}
