package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Entity is one switchable or observable thing known to the home hub.
type Entity struct {
	ID     string                 `json:"entity_id"`
	Name   string                 `json:"name,omitempty"`
	Domain string                 `json:"domain,omitempty"`
	State  map[string]interface{} `json:"state,omitempty"`
}

// Home is the appliance-hub capability surface consumed by the executor.
type Home interface {
	ListEntities(ctx context.Context) ([]Entity, error)
	EntityState(ctx context.Context, entityID string) (map[string]interface{}, error)
	TurnOn(ctx context.Context, entityID string) error
	TurnOff(ctx context.Context, entityID string) error
}

// HomeClient talks to the home hub service.
type HomeClient struct {
	baseURL string
	client  *http.Client
}

// NewHomeClient creates a home hub client.
func NewHomeClient(baseURL string) *HomeClient {
	return &HomeClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HomeClient) ListEntities(ctx context.Context) ([]Entity, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/home/entities", nil)
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
		return nil, fmt.Errorf("home hub error: %s", string(body))
	}

	var entities []Entity
	if err := json.Unmarshal(body, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (c *HomeClient) EntityState(ctx context.Context, entityID string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		c.baseURL+"/api/home/entities/"+entityID+"/state", nil)
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
		return nil, fmt.Errorf("home hub error: %s", string(body))
	}

	var state map[string]interface{}
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, err
	}
	return state, nil
}

func (c *HomeClient) TurnOn(ctx context.Context, entityID string) error {
	return c.command(ctx, entityID, "on")
}

func (c *HomeClient) TurnOff(ctx context.Context, entityID string) error {
	return c.command(ctx, entityID, "off")
}

func (c *HomeClient) command(ctx context.Context, entityID, action string) error {
	req, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/api/home/entities/"+entityID+"/"+action,
		strings.NewReader("{}"),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("home hub error: %s", string(body))
	}
	return nil
}
