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

// Mopbot is the robot-vacuum capability surface consumed by the executor.
type Mopbot interface {
	Start(ctx context.Context, mode string) error
	Stop(ctx context.Context) error
	Dock(ctx context.Context) error
	Status(ctx context.Context) (map[string]interface{}, error)
	Resync(ctx context.Context) error
}

// MopbotClient talks to the robot-vacuum service.
type MopbotClient struct {
	baseURL string
	client  *http.Client
}

// NewMopbotClient creates a mopbot service client.
func NewMopbotClient(baseURL string) *MopbotClient {
	return &MopbotClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *MopbotClient) Start(ctx context.Context, mode string) error {
	var payload map[string]interface{}
	if mode != "" {
		payload = map[string]interface{}{"mode": mode}
	}
	return c.post(ctx, "/api/mopbot/start", payload)
}

func (c *MopbotClient) Stop(ctx context.Context) error {
	return c.post(ctx, "/api/mopbot/stop", nil)
}

func (c *MopbotClient) Dock(ctx context.Context) error {
	return c.post(ctx, "/api/mopbot/dock", nil)
}

func (c *MopbotClient) Status(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/mopbot/status", nil)
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
		return nil, fmt.Errorf("mopbot service error: %s", string(body))
	}

	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *MopbotClient) Resync(ctx context.Context) error {
	return c.post(ctx, "/api/mopbot/resync", nil)
}

func (c *MopbotClient) post(ctx context.Context, path string, payload map[string]interface{}) error {
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
		return fmt.Errorf("mopbot service error: %s", string(respBody))
	}
	return nil
}
