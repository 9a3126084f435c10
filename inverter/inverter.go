// Package inverter drives the grid-tied PV/battery inverter over Modbus TCP, implementing the fire-and-
// forget service calls the actuator tools depend on (spec §6 "Inverter services").
package inverter

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Register map for the registers this driver writes. Addresses are placeholders for the specific inverter
// model; they are compile-time constants and are not read from config.
const (
	regForceChargeSOC    = 40100
	regForceChargePower  = 40101
	regForceDischargeSOC = 40110
	regForceDischargePower = 40111
	regStopForcible      = 40120
	regMaxFeedGridPower  = 40130
	regResetFeedGridFlag = 40131
	regChargingRateLimit = 40140
	regDischargingRateLimit = 40141
)

// Client is a Modbus-TCP-backed InverterServices implementation (satisfies actuator.InverterServices).
// Every method issues its write in a background goroutine and never blocks the caller nor returns an error
// (spec §5 "fire-and-forget").
type Client struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
	logger  *slog.Logger
}

// New dials the inverter at address (host:port) with the given Modbus unit/slave id.
func New(address string, slaveID byte, timeout time.Duration) (*Client, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = slaveID
	handler.Timeout = timeout

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("connect to inverter at %s: %w", address, err)
	}

	return &Client{
		handler: handler,
		client:  modbus.NewClient(handler),
		logger:  slog.Default(),
	}, nil
}

// Close releases the underlying TCP connection.
func (c *Client) Close() error {
	return c.handler.Close()
}

func (c *Client) writeU16(ctx context.Context, register int, value uint16) {
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, err := c.client.WriteSingleRegister(uint16(register), value); err != nil {
			c.logger.Error("Inverter register write failed", "register", register, "error", err)
		}
	}()
}

func (c *Client) writeU32(ctx context.Context, register int, value uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, value)
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, err := c.client.WriteMultipleRegisters(uint16(register), 2, buf); err != nil {
			c.logger.Error("Inverter register write failed", "register", register, "error", err)
		}
	}()
}

// ForcibleChargeSOC commands a forced charge to targetSOCPercent at powerWatts (spec §6).
func (c *Client) ForcibleChargeSOC(ctx context.Context, targetSOCPercent int, powerWatts int, deviceID string) {
	c.writeU16(ctx, regForceChargeSOC, uint16(targetSOCPercent))
	c.writeU32(ctx, regForceChargePower, uint32(powerWatts))
	c.logger.Info("Forced charge commanded", "device", deviceID, "target_soc", targetSOCPercent, "power", powerWatts)
}

// ForcibleDischargeSOC commands a forced discharge to targetSOCPercent at powerWatts (spec §6).
func (c *Client) ForcibleDischargeSOC(ctx context.Context, targetSOCPercent int, powerWatts int, deviceID string) {
	c.writeU16(ctx, regForceDischargeSOC, uint16(targetSOCPercent))
	c.writeU32(ctx, regForceDischargePower, uint32(powerWatts))
	c.logger.Info("Forced discharge commanded", "device", deviceID, "target_soc", targetSOCPercent, "power", powerWatts)
}

// StopForcibleCharge cancels both forced charging and forced discharging (spec §6).
func (c *Client) StopForcibleCharge(ctx context.Context, deviceID string) {
	c.writeU16(ctx, regStopForcible, 1)
	c.logger.Info("Forced charge/discharge stopped", "device", deviceID)
}

// SetMaximumFeedGridPower sets the maximum grid export power (spec §6).
func (c *Client) SetMaximumFeedGridPower(ctx context.Context, powerWatts int, deviceID string) {
	c.writeU32(ctx, regMaxFeedGridPower, uint32(powerWatts))
	c.logger.Info("Max feed-grid power set", "device", deviceID, "power", powerWatts)
}

// ResetMaximumFeedGridPower clears any configured export limit (spec §6).
func (c *Client) ResetMaximumFeedGridPower(ctx context.Context, deviceID string) {
	c.writeU16(ctx, regResetFeedGridFlag, 1)
	c.logger.Info("Max feed-grid power reset", "device", deviceID)
}

// SetNumberValue sets a named number entity (charging_rate_limit / discharging_rate_limit) to valueWatts.
func (c *Client) SetNumberValue(ctx context.Context, entity string, valueWatts int) {
	switch entity {
	case "charging_rate_limit":
		c.writeU32(ctx, regChargingRateLimit, uint32(valueWatts))
	case "discharging_rate_limit":
		c.writeU32(ctx, regDischargingRateLimit, uint32(valueWatts))
	default:
		c.logger.Error("Unknown number entity", "entity", entity)
		return
	}
	c.logger.Info("Number value set", "entity", entity, "value", valueWatts)
}
