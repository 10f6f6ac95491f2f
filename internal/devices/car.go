// Package devices holds the capability interfaces the tool executor dispatches
// to, plus the HTTP clients for the collaborator services that implement them.
package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Car is the car-telemetry capability surface consumed by the executor.
type Car interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	StartClimate(ctx context.Context, temperature *float64) error
	StopClimate(ctx context.Context) error
	Status(ctx context.Context) (map[string]interface{}, error)
	// Resync asks the collaborator to refresh its cached vehicle state.
	Resync(ctx context.Context) error
}

// CarClient talks to the car telemetry service.
type CarClient struct {
	baseURL string
	client  *http.Client
}

// NewCarClient creates a car service client.
func NewCarClient(baseURL string) *CarClient {
	return &CarClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *CarClient) Lock(ctx context.Context) error {
	return c.post(ctx, "/api/car/lock", nil)
}

func (c *CarClient) Unlock(ctx context.Context) error {
	return c.post(ctx, "/api/car/unlock", nil)
}

func (c *CarClient) StartClimate(ctx context.Context, temperature *float64) error {
	var payload map[string]interface{}
	if temperature != nil {
		payload = map[string]interface{}{"temperature": *temperature}
	}
	return c.post(ctx, "/api/car/climate/start", payload)
}

func (c *CarClient) StopClimate(ctx context.Context) error {
	return c.post(ctx, "/api/car/climate/stop", nil)
}

func (c *CarClient) Status(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/car/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("car service error: %s", string(body))
	}

	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *CarClient) Resync(ctx context.Context) error {
	return c.post(ctx, "/api/car/resync", nil)
}

func (c *CarClient) post(ctx context.Context, path string, payload map[string]interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("car service error: %s", string(respBody))
	}
	return nil
}
