package pbc

import (
	"context"
	"log/slog"

	"github.com/cepro/energymgr/switchclient"
)

// SwitchAdapter implements actuator.LoadSwitcher by fanning a device name out to its configured switch
// client (one gen-2 smart switch per schedulable load).
type SwitchAdapter struct {
	clients map[string]*switchclient.Client
	logger  *slog.Logger
}

// NewSwitchAdapter creates a SwitchAdapter from a device-name-to-client map.
func NewSwitchAdapter(clients map[string]*switchclient.Client) *SwitchAdapter {
	return &SwitchAdapter{clients: clients, logger: slog.Default()}
}

// SetSwitch issues a fire-and-forget on/off command to the named device's switch.
func (a *SwitchAdapter) SetSwitch(ctx context.Context, deviceName string, on bool) {
	client, ok := a.clients[deviceName]
	if !ok {
		a.logger.Error("Load-switching: no switch client for device", "device", deviceName)
		return
	}
	go func() {
		if err := client.Set(ctx, 0, on); err != nil {
			a.logger.Error("Load-switching: switch command failed", "device", deviceName, "error", err)
		}
	}()
}
