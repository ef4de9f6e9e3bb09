package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/parley/internal/dispatch"
)

// Weather fetches current conditions from wttr.in.
type Weather struct {
	baseURL string
	client  *http.Client
}

// NewWeather creates a new weather tool.
func NewWeather() *Weather {
	return &Weather{
		baseURL: "https://wttr.in",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *Weather) Name() string        { return "get_weather" }
func (w *Weather) Description() string { return "Get the current weather for the provided location" }
func (w *Weather) Params() []dispatch.Param {
	return []dispatch.Param{
		{Name: "location", Type: "string", Description: "The location to get the weather for", Required: true},
	}
}

func (w *Weather) Invoke(ctx context.Context, args map[string]any) (string, error) {
	location := dispatch.StringArg(args, "location")
	if location == "" {
		return "", fmt.Errorf("location is required")
	}

	u := fmt.Sprintf("%s/%s?format=%s", w.baseURL, url.PathEscape(location), url.QueryEscape("%C %t"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather API error (status %d): %s", resp.StatusCode, string(body))
	}

	return fmt.Sprintf("The weather in %s is %s.", location, strings.TrimSpace(string(body))), nil
}
