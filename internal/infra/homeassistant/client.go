// Package homeassistant publishes river readings as Home Assistant sensor states.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/vietddude/riverwatch/internal/core/domain"
)

const (
	DefaultTimeout = 10 * time.Second
	target         = "home_assistant"
)

// Config for the REST API client.
type Config struct {
	BaseURL       string // e.g. http://homeassistant.local:8123/api
	Token         string
	StationNumber string
	Timeout       time.Duration
	Location      *time.Location
}

// State is the body of POST /api/states/<entity_id>.
type State struct {
	State      float64        `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Client posts sensor states with a long-lived access token.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	log        *slog.Logger
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
		log:        slog.Default().With("component", "homeassistant"),
	}
}

// FlowEntity returns the flow sensor entity id.
func (c *Client) FlowEntity() string {
	return fmt.Sprintf("sensor.station_%s_flow_rate", c.cfg.StationNumber)
}

// HeightEntity returns the height sensor entity id.
func (c *Client) HeightEntity() string {
	return fmt.Sprintf("sensor.station_%s_height_level", c.cfg.StationNumber)
}

// Publish posts the flow and height sensors of the reading carried by a.
// Both are attempted; any failure is returned as a PublishError.
func (c *Client) Publish(ctx context.Context, a domain.Artifact) error {
	var r domain.Reading
	if err := json.Unmarshal(a.Data, &r); err != nil {
		return &domain.PublishError{Target: target, Err: fmt.Errorf("decode reading: %w", err)}
	}

	flow, height := c.States(r)
	var errs error
	if err := c.post(ctx, c.FlowEntity(), flow); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := c.post(ctx, c.HeightEntity(), height); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return &domain.PublishError{Target: target, Err: errs}
	}
	return nil
}

// States builds the flow and height sensor payloads.
func (c *Client) States(r domain.Reading) (flow, height State) {
	observed := r.ObservedAt.In(c.cfg.Location).Format(time.RFC3339)
	updated := c.now().In(c.cfg.Location).Format(time.RFC3339)

	common := func() map[string]any {
		return map[string]any{
			"state_class":  "measurement",
			"timestamp":    observed,
			"last_updated": updated,
			"last_changed": observed,
			"station_id":   r.StationID,
			"station_name": r.StationName,
			"source_url":   r.SourceURL,
		}
	}

	flow = State{State: r.Flow, Attributes: common()}
	flow.Attributes["friendly_name"] = r.StationName + " - Débit Actuel"
	flow.Attributes["unit_of_measurement"] = r.FlowUnit
	flow.Attributes["icon"] = "mdi:water-sync"
	flow.Attributes["device_class"] = "volume_flow_rate"
	flow.Attributes["height_m"] = r.Height

	height = State{State: r.Height, Attributes: common()}
	height.Attributes["friendly_name"] = r.StationName + " - Niveau Actuel"
	height.Attributes["unit_of_measurement"] = r.HeightUnit
	height.Attributes["icon"] = "mdi:ruler"
	height.Attributes["device_class"] = "water"
	height.Attributes["flow_m3_s"] = r.Flow
	return flow, height
}

func (c *Client) post(ctx context.Context, entity string, state State) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", entity, err)
	}

	url := c.cfg.BaseURL + "/states/" + entity
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", entity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: http %d: %s", entity, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	c.log.Info("Sensor state sent", "entity", entity, "status", resp.StatusCode)
	return nil
}
