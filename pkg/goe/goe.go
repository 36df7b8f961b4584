package goe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/common"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/log"
	"github.com/levenlabs/go-lflag"
)

// Car states reported by the go-e charger API.
const (
	CarStateReady    = 1 // charger idle, no vehicle
	CarStateCharging = 2
	CarStateWaiting  = 3 // vehicle connected, waiting for release
	CarStateFinished = 4 // charging done, vehicle still connected
)

// Client talks to a go-e charger on the local network over its HTTP API.
type Client struct {
	host   string
	client *http.Client
}

// Configured sets up flags for the go-e charger and returns the instance.
// An empty host disables the charger check; CarIsCharging then always
// reports false.
func Configured() *Client {
	c := &Client{
		client: common.HTTPClient(5 * time.Second),
	}
	host := lflag.String("goe-host", "", "Host or IP of the go-e charger, empty to disable")

	lflag.Do(func() {
		c.host = *host
	})

	return c
}

// Enabled reports whether a charger host is configured.
func (c *Client) Enabled() bool {
	return c.host != ""
}

// Status is the subset of the go-e status response the controller cares
// about. Numeric fields arrive as strings on older firmware, hence the
// json.Number types.
type Status struct {
	Car         json.Number `json:"car"` // 1 ready, 2 charging, 3 waiting, 4 finished
	Amp         json.Number `json:"amp"`
	AllowedAmps json.Number `json:"ama"`
	Error       json.Number `json:"err"`
}

// GetStatus fetches the current charger status.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	u := fmt.Sprintf("http://%s/api/status", c.host)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return Status{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("failed to fetch charger status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("charger returned status: %d", resp.StatusCode)
	}

	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Status{}, fmt.Errorf("failed to decode charger response: %w", err)
	}
	return s, nil
}

// CarIsCharging reports whether the car is actively drawing power. With no
// charger configured it returns false so the battery controller runs
// unimpeded.
func (c *Client) CarIsCharging(ctx context.Context) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	s, err := c.GetStatus(ctx)
	if err != nil {
		return false, err
	}

	car, err := s.Car.Int64()
	if err != nil {
		return false, fmt.Errorf("unexpected car state %q: %w", s.Car.String(), err)
	}

	charging := car == CarStateCharging
	log.Ctx(ctx).DebugContext(ctx, "checked charger",
		slog.Int64("carState", car),
		slog.Bool("charging", charging),
	)
	return charging, nil
}
