package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// apiClient is the thin HTTP client the CLI commands use to talk to a
// running daemon.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base:   "http://" + serverAddr,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError carries the daemon's error body alongside the HTTP status.
type apiError struct {
	Status int
	Err    string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Err != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Err)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// printResult renders a response either as indented JSON (--json) or via
// the supplied human formatter.
func printResult(v any, human func()) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human()
	return nil
}
