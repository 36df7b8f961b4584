package sma

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/log"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"
	"github.com/goburrow/modbus"
	"github.com/levenlabs/go-lflag"
)

// modeSettleDelay is how long the inverter needs after a mode switch before
// it accepts a power setpoint.
const modeSettleDelay = time.Second

// modbusClient is the subset of modbus.Client the inverter uses, split out so
// tests can fake the wire.
type modbusClient interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Inverter talks to an SMA inverter over Modbus/TCP. All calls serialize on
// an internal mutex since the inverter handles one transaction at a time.
type Inverter struct {
	host    string
	port    int
	unitID  int
	timeout time.Duration

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbusClient
}

// Configured sets up flags for the inverter and returns the instance.
// Connect must be called before use.
func Configured() *Inverter {
	inv := &Inverter{}
	host := lflag.RequiredString("sma-host", "Host or IP of the SMA inverter")
	port := lflag.Int("sma-port", 502, "Modbus/TCP port of the SMA inverter")
	unitID := lflag.Int("sma-unit-id", 3, "Modbus unit ID of the SMA inverter")
	timeout := lflag.Duration("sma-timeout", 10*time.Second, "Timeout for Modbus transactions")

	lflag.Do(func() {
		inv.host = *host
		inv.port = *port
		inv.unitID = *unitID
		inv.timeout = *timeout
	})

	return inv
}

// Validate ensures the configuration is valid.
func (inv *Inverter) Validate() error {
	if inv.host == "" {
		return fmt.Errorf("sma-host is required")
	}
	if inv.port <= 0 || inv.port > 65535 {
		return fmt.Errorf("invalid sma-port: %d", inv.port)
	}
	if inv.unitID < 0 || inv.unitID > 255 {
		return fmt.Errorf("invalid sma-unit-id: %d", inv.unitID)
	}
	return nil
}

// Connect opens the Modbus/TCP connection. The handler reconnects on its own
// after transient failures, so this only needs to succeed once at startup.
func (inv *Inverter) Connect(ctx context.Context) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", inv.host, inv.port)
	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = inv.timeout
	handler.SlaveId = byte(inv.unitID)

	if err := handler.Connect(); err != nil {
		return fmt.Errorf("failed to connect to inverter at %s: %w", addr, err)
	}

	inv.handler = handler
	inv.client = modbus.NewClient(handler)
	log.Ctx(ctx).InfoContext(ctx, "connected to inverter",
		slog.String("addr", addr),
		slog.Int("unitID", inv.unitID),
	)
	return nil
}

// Close shuts down the Modbus connection.
func (inv *Inverter) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.handler == nil {
		return nil
	}
	err := inv.handler.Close()
	inv.handler = nil
	inv.client = nil
	return err
}

// readU32 reads a two-register value, picking the function code by address:
// everything below 40000 is an input register, the rest holding.
func (inv *Inverter) readU32(reg uint16) (uint32, error) {
	var b []byte
	var err error
	if reg < 40000 {
		b, err = inv.client.ReadInputRegisters(reg, 2)
	} else {
		b, err = inv.client.ReadHoldingRegisters(reg, 2)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read register %d: %w", reg, err)
	}
	v, err := decodeUint32(b)
	if err != nil {
		return 0, fmt.Errorf("bad response for register %d: %w", reg, err)
	}
	return v, nil
}

func (inv *Inverter) readS32(reg uint16) (int32, error) {
	v, err := inv.readU32(reg)
	return int32(v), err
}

// GetBatteryStatus reads the full battery snapshot. Battery power is reported
// charge-positive: charging watts minus discharging watts.
func (inv *Inverter) GetBatteryStatus(ctx context.Context) (*types.BatteryStatus, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.client == nil {
		return nil, fmt.Errorf("inverter not connected")
	}

	soc, err := inv.readU32(regBatterySOC)
	if err != nil {
		return nil, fmt.Errorf("failed to read soc: %w", err)
	}
	charge, err := inv.readU32(regBatteryCharge)
	if err != nil {
		return nil, fmt.Errorf("failed to read battery charge power: %w", err)
	}
	discharge, err := inv.readU32(regBatteryDischarge)
	if err != nil {
		return nil, fmt.Errorf("failed to read battery discharge power: %w", err)
	}
	grid, err := inv.readS32(regGridPower)
	if err != nil {
		return nil, fmt.Errorf("failed to read grid power: %w", err)
	}
	house, err := inv.readS32(regHousePower)
	if err != nil {
		return nil, fmt.Errorf("failed to read house power: %w", err)
	}
	solar, err := inv.readS32(regSolarPower)
	if err != nil {
		return nil, fmt.Errorf("failed to read solar power: %w", err)
	}

	modeBytes, err := inv.client.ReadHoldingRegisters(regOperatingMode, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to read operating mode: %w", err)
	}
	mode, err := decodeMode(modeBytes)
	if err != nil {
		return nil, fmt.Errorf("bad operating mode response: %w", err)
	}

	status := &types.BatteryStatus{
		Timestamp:        time.Now(),
		StateOfChargePct: float64(soc),
		PowerW:           int(charge) - int(discharge),
		Mode:             mode,
		GridPowerW:       int(grid),
		HousePowerW:      int(house),
		SolarPowerW:      int(solar),
	}

	log.Ctx(ctx).DebugContext(ctx, "read battery status",
		slog.Float64("soc", status.StateOfChargePct),
		slog.Int("batteryW", status.PowerW),
		slog.Int("gridW", status.GridPowerW),
		slog.Int("solarW", status.SolarPowerW),
		slog.String("mode", mode.String()),
	)
	return status, nil
}

// Apply drives the inverter to the decided mode and power. NORMAL hands
// control back to the inverter's own automatic operation; everything else
// switches to manual first, waits for the mode to settle, then writes the
// setpoint.
func (inv *Inverter) Apply(ctx context.Context, d types.ChargeDecision) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.client == nil {
		return fmt.Errorf("inverter not connected")
	}

	log.Ctx(ctx).InfoContext(ctx, "applying battery decision",
		slog.String("mode", d.Mode.String()),
		slog.Int("powerW", d.PowerW),
		slog.String("reason", string(d.Reason)),
	)

	if d.Mode == types.BatteryModeNormal {
		if _, err := inv.client.WriteMultipleRegisters(regOperatingMode, 2, encodeUint32(modeAutomatic)); err != nil {
			return fmt.Errorf("failed to set automatic mode: %w", err)
		}
		return nil
	}

	if _, err := inv.client.WriteMultipleRegisters(regOperatingMode, 2, encodeUint32(modeManual)); err != nil {
		return fmt.Errorf("failed to set manual mode: %w", err)
	}

	// the inverter ignores setpoints written immediately after a mode change
	select {
	case <-time.After(modeSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	setpoint, err := encodeSetpoint(d.Mode, d.PowerW)
	if err != nil {
		return err
	}
	if _, err := inv.client.WriteMultipleRegisters(regPowerSetpoint, 2, setpoint); err != nil {
		return fmt.Errorf("failed to write power setpoint: %w", err)
	}
	return nil
}
