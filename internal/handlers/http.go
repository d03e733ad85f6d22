package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// allowedMethods is the set of HTTP methods http_request steps may issue.
var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

const maxErrorBody = 200

// executeHTTPRequest issues the HTTP call described by the step config.
// Env vars are injected first (so placeholder credentials never reach the
// wire), then run-state templates are resolved in url, headers, body and
// params.
func (d *Dispatcher) executeHTTPRequest(ctx context.Context, step schema.ActionStep, results map[string]any, mode schema.RunMode) map[string]any {
	config := step.Config

	if mode == schema.ModeMock {
		return map[string]any{
			"status": 200,
			"mock":   true,
			"message": fmt.Sprintf("Mock: %s %s",
				strings.ToUpper(stringConfig(config, "method", "GET")),
				stringConfig(config, "url", "")),
		}
	}

	resolved, err := d.resolver.EnvTree(config)
	if err != nil {
		return errResult("%s", err.Error())
	}
	config = resolved.(map[string]any)

	method := strings.ToUpper(stringConfig(config, "method", "GET"))
	if !allowedMethods[method] {
		return errResult("Unsupported method: %s", method)
	}

	rawURL, err := d.resolver.TemplateString(stringConfig(config, "url", ""), results)
	if err != nil {
		return errResult("%s", err.Error())
	}

	headers, err := d.resolver.TemplateTree(config["headers"], results)
	if err != nil {
		return errResult("%s", err.Error())
	}
	body, err := d.resolver.TemplateTree(config["body"], results)
	if err != nil {
		return errResult("%s", err.Error())
	}
	params, err := d.resolver.TemplateTree(config["params"], results)
	if err != nil {
		return errResult("%s", err.Error())
	}

	var bodyReader io.Reader
	hasBody := body != nil && (method == http.MethodPost || method == http.MethodPut)
	if hasBody {
		b, merr := json.Marshal(body)
		if merr != nil {
			return errResult("failed to encode request body: %s", merr.Error())
		}
		bodyReader = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return errResult("%s", err.Error())
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if hm, ok := headers.(map[string]any); ok {
		for k, v := range hm {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	if pm, ok := params.(map[string]any); ok && len(pm) > 0 {
		q := req.URL.Query()
		for k, v := range pm {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		req.URL.RawQuery = q.Encode()
	}

	d.logger.InfoContext(ctx, "http request",
		"method", method,
		"url", redactQuery(req.URL))

	resp, err := d.client.Do(req)
	if err != nil {
		return errResult("%s", err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errResult("%s", err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errResult("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}

	var data any
	if jerr := json.Unmarshal(respBody, &data); jerr != nil {
		data = string(respBody)
	}

	return map[string]any{"status": resp.StatusCode, "data": data, "result": data}
}

// redactQuery renders a URL with its query values masked for logging.
func redactQuery(u *url.URL) string {
	if u.RawQuery == "" {
		return u.String()
	}
	clone := *u
	clone.RawQuery = "..."
	return clone.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
