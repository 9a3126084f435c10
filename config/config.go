// Package config defines the JSON configuration schema for the energy manager and validates it at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Config is the top level configuration document, read from a single JSON file.
type Config struct {
	Location        string           `json:"location"` // IANA timezone name, e.g. "Europe/Tallinn"
	Latitude        float64          `json:"latitude"`
	Longitude       float64          `json:"longitude"`
	Sensors         SensorsConfig    `json:"sensors"`
	Inverter        InverterConfig   `json:"inverter"`
	Devices         []DeviceConfig   `json:"devices"`
	PriceAPI        PriceAPIConfig   `json:"priceApi"`
	WeatherAPI      WeatherAPIConfig `json:"weatherApi"`
	Scheduler       SchedulerConfig  `json:"scheduler"`
	Persistence     PersistenceConfig `json:"persistence"`
	Dashboard       DashboardConfig  `json:"dashboard"`
	QwPowerLimit    float64          `json:"qwPowerLimit"` // not read by main; buy/sell power comes from the qw_power_limit sensor
	LoggingEnabled  bool             `json:"loggingEnabled"`
}

// SensorsConfig configures the thresholds that govern the Data Manager's staleness handling.
type SensorsConfig struct {
	MQTTBrokerURL string               `json:"mqttBrokerUrl"`
	Entities      []EntityConfig       `json:"entities"`
}

// EntityConfig names a single monitored sensor entity and its freshness thresholds.
type EntityConfig struct {
	Name         string  `json:"name"`
	Kind         string  `json:"kind"` // "numeric", "string", or "boolean"
	Topic        string  `json:"topic"`
	MaxAgeSecs   float64 `json:"maxAgeSecs"`
	InvalidAgeSecs float64 `json:"invalidAgeSecs"`
	Critical     bool    `json:"critical"`
}

// InverterConfig configures the Modbus TCP connection to the PV/battery inverter.
type InverterConfig struct {
	Host                          string  `json:"host"`
	UnitID                        byte    `json:"unitId"`
	MaxBatteryPowerWatts          float64 `json:"maxBatteryPowerWatts"`
	MaxFeedGridPowerWatts         float64 `json:"maxFeedGridPowerWatts"`
	BatterySoeMinForDischargePct  float64 `json:"batterySoeMinForDischargePct"`
	BatterySoeMaxForChargePct     float64 `json:"batterySoeMaxForChargePct"`
}

// DeviceConfig configures a single schedulable AC load.
type DeviceConfig struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	EntityID            string    `json:"entityId"`
	SwitchEndpoint      string    `json:"switchEndpoint"` // base URL of the gen-2 style smart switch
	EstimatedPowerWatts int       `json:"estimatedPowerWatts"`
	SchedulingEnabled   bool      `json:"schedulingEnabled"`
	ScheduleMode        string    `json:"scheduleMode"` // "period" or "threshold"

	DesiredOnHours int `json:"desiredOnHours"`
	PeriodHours    int `json:"periodHours"`
	MinPriceRank   *float64 `json:"minPriceRank"`
	MaxPriceRank   *float64 `json:"maxPriceRank"`

	WeatherAdjustment bool    `json:"weatherAdjustment"`
	HeatingCurve      float64 `json:"heatingCurve"`
	PowerFactor       float64 `json:"powerFactor"`

	InvertedLogic bool `json:"invertedLogic"`

	AlwaysOnHours  []int `json:"alwaysOnHours"`
	AlwaysOffHours []int `json:"alwaysOffHours"`

	AlwaysOnPrice float64 `json:"alwaysOnPrice"` // cents/kWh

	MaxEnergyDebt       int     `json:"maxEnergyDebt"` // minutes
	RecoveryWindowHours int     `json:"recoveryWindowHours"`
	MaxRecoveryPrice    float64 `json:"maxRecoveryPrice"` // cents/kWh
}

// PriceAPIConfig configures the day-ahead spot price fetch.
type PriceAPIConfig struct {
	BaseURL         string `json:"baseUrl"`
	Area            string `json:"area"`
	NetworkProvider string `json:"networkProvider"` // e.g. "elektrilevi"
	NetworkPackage  string `json:"networkPackage"`  // e.g. "vork4"
}

// WeatherAPIConfig configures the apparent-temperature forecast fetch.
type WeatherAPIConfig struct {
	BaseURL string `json:"baseUrl"`
}

// SchedulerConfig configures when the daily scheduler calculation runs.
type SchedulerConfig struct {
	RunAtHour       int  `json:"runAtHour"`
	RunAtMinute     int  `json:"runAtMinute"`
	RunOnStartup    bool `json:"runOnStartup"`
}

// PersistenceConfig configures where the scheduler/debt snapshot is stored.
type PersistenceConfig struct {
	JSONFilePath string          `json:"jsonFilePath"`
	SQLiteBufferPath string     `json:"sqliteBufferPath"`
	EventsFilePath string       `json:"eventsFilePath"`
	Postgres     *PostgresConfig `json:"postgres"`
	Supabase     *SupabaseConfig `json:"supabase"`
}

// PostgresConfig configures an optional secondary mirror of debt/price snapshots.
type PostgresConfig struct {
	DSNEnvVar string `json:"dsnEnvVar"`
	Table     string `json:"table"`
}

// SupabaseConfig configures an optional Supabase mirror of daily snapshots.
type SupabaseConfig struct {
	URL           string `json:"url"`
	AnonKeyEnvVar string `json:"anonKeyEnvVar"`
	UserKeyEnvVar string `json:"userKeyEnvVar"`
	Schema        string `json:"schema"`
	Table         string `json:"table"`
}

// DashboardConfig configures the HTTP+websocket dashboard API.
type DashboardConfig struct {
	ListenAddr string `json:"listenAddr"`
}

// Read loads and unmarshals the configuration file at path.
func Read(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

var validPeriodHours = map[int]bool{1: true, 2: true, 3: true, 4: true, 6: true, 8: true, 12: true, 24: true}

// Validate checks configuration invariants that spec.md classifies as ConfigInvalid: startup should fail
// loudly rather than let the scheduler run with an undefined configuration.
func Validate(cfg Config) error {
	for _, d := range cfg.Devices {
		switch d.ScheduleMode {
		case "period":
			if !validPeriodHours[d.PeriodHours] {
				return fmt.Errorf("device %q: periodHours %d does not divide 24", d.Name, d.PeriodHours)
			}
			if d.DesiredOnHours > d.PeriodHours {
				return fmt.Errorf("device %q: desiredOnHours (%d) exceeds periodHours (%d)", d.Name, d.DesiredOnHours, d.PeriodHours)
			}
			if d.WeatherAdjustment {
				if d.HeatingCurve < -4.0 || d.HeatingCurve > 8.0 {
					return fmt.Errorf("device %q: heatingCurve %f out of range [-4, 8]", d.Name, d.HeatingCurve)
				}
			}
		case "threshold":
			if d.MaxPriceRank == nil {
				return fmt.Errorf("device %q: threshold mode requires maxPriceRank", d.Name)
			}
		default:
			return fmt.Errorf("device %q: unknown scheduleMode %q", d.Name, d.ScheduleMode)
		}
	}
	return nil
}
