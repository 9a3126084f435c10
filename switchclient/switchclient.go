// Package switchclient talks to gen-2 style smart switches (Shelly RPC-over-HTTP) to materialize
// cron-like schedules and configure auto-off/auto-on behaviour (spec §6 "Smart-switch HTTP").
package switchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// requestTimeout bounds every switch RPC (spec §5 "5s for switch RPCs").
const requestTimeout = 5 * time.Second

// Client issues RPC calls against a single switch's gen-2 HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string // e.g. "http://192.168.1.50"
}

// New creates a Client for the switch reachable at baseURL.
func New(httpClient *http.Client, baseURL string) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

type rpcRequestEnvelope struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// call issues a single RPC method with params and decodes the JSON result into out (if non-nil).
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequestEnvelope{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status code: %d", method, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse %s response: %w", method, err)
	}
	return nil
}

// SetConfig configures the switch's auto-off (or auto-on, when inverted) delay in seconds (spec §4.4
// materialization, §6 "Switch.SetConfig").
func (c *Client) SetConfig(ctx context.Context, id int, inverted bool, delaySeconds int) error {
	config := map[string]any{}
	if inverted {
		config["auto_on"] = true
		config["auto_on_delay"] = delaySeconds
	} else {
		config["auto_off"] = true
		config["auto_off_delay"] = delaySeconds
	}

	params := map[string]any{
		"id":     id,
		"config": config,
	}
	return c.call(ctx, "Switch.SetConfig", params, nil)
}

// Set issues an immediate switch command.
func (c *Client) Set(ctx context.Context, id int, on bool) error {
	params := map[string]any{"id": id, "on": on}
	return c.call(ctx, "Switch.Set", params, nil)
}

type scheduleCreateResult struct {
	ID int `json:"id"`
}

// CreateSchedule creates a cron-like schedule ("0 <minute> <comma-hours> * * *") that invokes Switch.Set at
// the given hours and minute offset, and returns the switch-assigned schedule id.
func (c *Client) CreateSchedule(ctx context.Context, switchID int, minute int, hours []int, on bool) (int, error) {
	timespec := fmt.Sprintf("0 %d %s * * *", minute, commaJoinInts(hours))

	params := map[string]any{
		"enable":   true,
		"timespec": timespec,
		"calls": []map[string]any{
			{
				"method": "Switch.Set",
				"params": map[string]any{"id": switchID, "on": on},
			},
		},
	}

	var result scheduleCreateResult
	if err := c.call(ctx, "Schedule.Create", params, &result); err != nil {
		return 0, fmt.Errorf("create schedule: %w", err)
	}
	return result.ID, nil
}

// DeleteSchedule removes a previously created schedule by id.
func (c *Client) DeleteSchedule(ctx context.Context, scheduleID int) error {
	params := map[string]any{"id": scheduleID}
	if err := c.call(ctx, "Schedule.Delete", params, nil); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

func commaJoinInts(vals []int) string {
	out := ""
	for i, v := range vals {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", v)
	}
	return out
}
