package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/nvoss/dynaflow/pkg/schema"
)

const openWeatherBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// WeatherPlugin fetches current weather data from the OpenWeather API.
type WeatherPlugin struct {
	client  *http.Client
	baseURL string
	lookup  func(string) (string, bool)
}

// WeatherOption configures a WeatherPlugin.
type WeatherOption func(*WeatherPlugin)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) WeatherOption {
	return func(p *WeatherPlugin) { p.client = c }
}

// WithBaseURL overrides the API base URL (tests point this at a local server).
func WithBaseURL(u string) WeatherOption {
	return func(p *WeatherPlugin) { p.baseURL = u }
}

// WithEnvLookup overrides the environment lookup used for the API key.
func WithEnvLookup(fn func(string) (string, bool)) WeatherOption {
	return func(p *WeatherPlugin) { p.lookup = fn }
}

// NewWeatherPlugin creates the weather plugin.
func NewWeatherPlugin(opts ...WeatherOption) *WeatherPlugin {
	p := &WeatherPlugin{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: openWeatherBaseURL,
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *WeatherPlugin) Name() string { return "weather" }

func (p *WeatherPlugin) Description() string {
	return "Fetch weather data from the OpenWeather API"
}

func (p *WeatherPlugin) AvailableActions() map[string]string {
	return map[string]string{
		"get_current": "Get current weather for a city",
	}
}

// Execute handles the get_current action. Failures are reported through the
// {"error": message} result shape, never as panics or Go errors.
func (p *WeatherPlugin) Execute(ctx context.Context, action string, config map[string]any, mode schema.RunMode) map[string]any {
	city, _ := config["city"].(string)
	if city == "" {
		city = "London"
	}

	if mode == schema.ModeMock {
		return map[string]any{"status": "success", "mock": true, "temperature": 25, "city": city}
	}

	apiKey, _ := config["api_key"].(string)
	if apiKey == "" {
		apiKey, _ = p.lookup("OPENWEATHER_API_KEY")
	}
	if apiKey == "" {
		return map[string]any{"error": "Missing OPENWEATHER_API_KEY"}
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return map[string]any{"error": fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}

	var data struct {
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"status":      "success",
		"city":        city,
		"temperature": data.Main.Temp,
	}
	if len(data.Weather) > 0 {
		result["description"] = data.Weather[0].Description
	}
	return result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Plugin = (*WeatherPlugin)(nil)
