package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/cepro/energymgr/actuator"
	"github.com/cepro/energymgr/config"
	"github.com/cepro/energymgr/dashboard"
	"github.com/cepro/energymgr/datamgr"
	"github.com/cepro/energymgr/debttracker"
	"github.com/cepro/energymgr/fasttrigger"
	"github.com/cepro/energymgr/history"
	"github.com/cepro/energymgr/inverter"
	"github.com/cepro/energymgr/modemgr"
	"github.com/cepro/energymgr/pbc"
	"github.com/cepro/energymgr/persistence"
	"github.com/cepro/energymgr/priceapi"
	"github.com/cepro/energymgr/scheduler"
	"github.com/cepro/energymgr/sensorbus"
	"github.com/cepro/energymgr/stateengine"
	"github.com/cepro/energymgr/switchclient"
	"github.com/cepro/energymgr/weather"
	"github.com/joho/godotenv"
)

const (
	pbcPeriod           = 10 * time.Second
	debtTickPeriod      = time.Minute
	switchRequestTimeout = 5 * time.Second
	materializeInterOpDelay = 500 * time.Millisecond
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	var configFilePath string
	flag.StringVar(&configFilePath, "f", "./config.json", "Specify config file path")
	flag.Parse()

	slog.Info("Starting", "config_file", configFilePath)

	cfg, err := config.Read(configFilePath)
	if err != nil {
		slog.Error("Failed to read config", "error", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		slog.Error("Failed to load timezone", "location", cfg.Location, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// --- Sensor cache (C1) ---
	specs := make([]datamgr.EntitySpec, 0, len(cfg.Sensors.Entities))
	topicsByEntity := make(map[string]string, len(cfg.Sensors.Entities))
	for _, e := range cfg.Sensors.Entities {
		kind := datamgr.KindNumeric
		switch e.Kind {
		case "string":
			kind = datamgr.KindString
		case "boolean":
			kind = datamgr.KindBoolean
		}
		specs = append(specs, datamgr.EntitySpec{
			Name:       e.Name,
			Kind:       kind,
			MaxAge:     time.Duration(e.MaxAgeSecs * float64(time.Second)),
			InvalidAge: time.Duration(e.InvalidAgeSecs * float64(time.Second)),
		})
		topicsByEntity[e.Name] = e.Topic
	}
	data := datamgr.New(specs, nil)

	bus := sensorbus.New(cfg.Sensors.MQTTBrokerURL, "energymgr", "", "", topicsByEntity, data)
	go func() {
		if err := bus.Run(ctx); err != nil {
			slog.Error("Sensor bus exited", "error", err)
		}
	}()

	// --- Inverter (C6 transport) ---
	inverterClient, err := inverter.New(cfg.Inverter.Host, cfg.Inverter.UnitID, 5*time.Second)
	if err != nil {
		slog.Error("Failed to connect to inverter", "error", err)
		os.Exit(1)
	}
	defer inverterClient.Close()

	// --- Persistence (C11 snapshot store, rolling buffer, optional mirrors) ---
	store := persistence.NewStore(cfg.Persistence.JSONFilePath)

	var rollingBuffer *persistence.RollingBuffer
	if cfg.Persistence.SQLiteBufferPath != "" {
		rollingBuffer, err = persistence.NewRollingBuffer(cfg.Persistence.SQLiteBufferPath)
		if err != nil {
			slog.Error("Failed to open rolling buffer", "error", err)
		}
	}

	if cfg.Persistence.Postgres != nil {
		if dsn := os.Getenv(cfg.Persistence.Postgres.DSNEnvVar); dsn != "" {
			if _, err := persistence.NewPostgresMirror(dsn); err != nil {
				slog.Error("Failed to open postgres mirror", "error", err)
			}
		}
	}
	if cfg.Persistence.Supabase != nil {
		if anonKey := os.Getenv(cfg.Persistence.Supabase.AnonKeyEnvVar); anonKey != "" {
			persistence.NewSupabaseMirror(cfg.Persistence.Supabase.URL, anonKey, cfg.Persistence.Supabase.Schema)
		}
	}
	_ = rollingBuffer

	eventsFilePath := cfg.Persistence.EventsFilePath
	if eventsFilePath == "" {
		eventsFilePath = filepath.Join(filepath.Dir(cfg.Persistence.JSONFilePath), "pbr_events.json")
	}
	historyManager := history.NewManager(eventsFilePath)

	// --- Dashboard (C11 API) ---
	hub := dashboard.NewHub()
	dashboardServer := dashboard.NewServer(store, hub)
	dashboardServer.History = historyManager
	mux := http.NewServeMux()
	dashboardServer.RegisterRoutes(mux)
	go func() {
		if err := http.ListenAndServe(cfg.Dashboard.ListenAddr, mux); err != nil {
			slog.Error("Dashboard server exited", "error", err)
		}
	}()

	// --- Devices (C3/C4/C5) ---
	devices := make([]*scheduler.LoadDevice, 0, len(cfg.Devices))
	switchClients := make(map[string]*switchclient.Client, len(cfg.Devices))
	httpClient := &http.Client{Timeout: switchRequestTimeout}
	for _, dc := range cfg.Devices {
		dev := dc.ToLoadDevice()
		devices = append(devices, dev)
		switchClients[dev.Name] = switchclient.New(httpClient, dc.SwitchEndpoint)
	}

	// --- Price API (C2) ---
	priceFetcher := &priceapi.HTTPFetch{Client: httpClient, BaseURL: cfg.PriceAPI.BaseURL, Area: cfg.PriceAPI.Area}
	priceManager := priceapi.New(priceFetcher, cfg.PriceAPI.NetworkProvider, cfg.PriceAPI.NetworkPackage, loc)

	// --- Weather manager (C3) ---
	weatherFetcher := &weather.HTTPFetcher{Client: httpClient, BaseURL: cfg.WeatherAPI.BaseURL, Lat: cfg.Latitude, Lon: cfg.Longitude}
	weatherForecaster := weather.New(weatherFetcher, cfg.Latitude, cfg.Longitude, loc)

	materializer := scheduler.NewMaterializer(materializeInterOpDelay)

	runDailySchedule := func() {
		today := priceManager.FetchPricesForDate(time.Now().In(loc))

		forecast, err := weatherForecaster.FetchForecast(ctx)
		avgTemp, haveForecast := 0.0, false
		if err == nil {
			avgTemp, haveForecast = weather.AverageTempAt(forecast, time.Now().In(loc), 24)
		} else {
			slog.Error("Weather forecast fetch failed", "error", err)
		}

		for _, dev := range devices {
			if !dev.SchedulingEnabled {
				continue
			}
			scheduler.Schedule(today.Clone(), dev, scheduler.WeatherInput{ForecastAvgTempCelsius: avgTemp, Available: haveForecast})
			client := switchClients[dev.Name]
			if err := materializer.Materialize(ctx, client, dev); err != nil {
				slog.Error("Failed to materialize schedule", "device", dev.Name, "error", err)
			}
		}

		snapshotDevices := make([]persistence.DeviceSnapshot, 0, len(devices))
		for _, dev := range devices {
			snapshotDevices = append(snapshotDevices, persistence.DeviceSnapshot{Name: dev.Name, Slots: dev.ScheduledSlots, EnergyDebt: dev.EnergyDebt})
		}
		prices := make([]persistence.PriceSlotSnapshot, len(today))
		for i, s := range today {
			prices[i] = persistence.PriceSlotSnapshot{Timestamp: s.Timestamp, SpotPrice: s.SpotPrice, NetworkFee: s.NetworkFee, TotalPrice: s.TotalPrice, SlotIndex: s.SlotIndex, Hour: s.Hour}
		}
		snap := persistence.Snapshot{CalculatedAt: time.Now(), Prices: prices, Devices: snapshotDevices, WeatherAvgTemp: avgTemp, Package: cfg.PriceAPI.NetworkPackage}
		if err := store.Save(snap); err != nil {
			slog.Error("Failed to persist snapshot", "error", err)
		}
		dashboardServer.SetSnapshot(snap)
	}

	dashboardServer.Recalculate = func() error {
		runDailySchedule()
		return nil
	}

	if cfg.Scheduler.RunOnStartup {
		runDailySchedule()
	}
	go runDailyAt(ctx, cfg.Scheduler.RunAtHour, cfg.Scheduler.RunAtMinute, loc, runDailySchedule)

	// loopMu serializes PBC cycles (periodic and fast-triggered) and the energy-debt tick with each other.
	var loopMu sync.Mutex

	// --- Energy-debt tracker (C5) ---
	go func() {
		ticker := time.NewTicker(debtTickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				loopMu.Lock()
				now := time.Now().In(loc)
				for _, dev := range devices {
					actualOn, _ := data.Get(dev.EntityID+"_switch", 0, true)
					on, _ := actualOn.(bool)
					recovery, ok := debttracker.Tick(dev, priceManager.FetchPricesForDate(now), now, loc, on, debttracker.MFRRNone)
					if ok && recovery != nil {
						store.PatchDebt(recovery.DeviceName, dev.EnergyDebt, &persistence.Recovery{
							DeviceName: recovery.DeviceName, SlotIndex: recovery.SlotIndex, Timestamp: recovery.Timestamp,
						})
					}
				}

				phaseA, _ := data.Get(datamgr.EntityPhaseA, 0, true)
				phaseB, _ := data.Get(datamgr.EntityPhaseB, 0, true)
				phaseC, _ := data.Get(datamgr.EntityPhaseC, 0, true)
				soc, _ := data.Get(datamgr.EntityBatterySoc, 0, true)
				batteryPower, _ := data.Get(datamgr.EntityBatteryPower, 0, true)
				solarPower, _ := data.Get("solar_power", 0, true)
				gridPower, _ := data.Get(datamgr.EntityTotalGrid, 0, true)
				modeVal, _ := data.Get("mode", 0, true)
				historyManager.AddSnapshot(history.Snapshot{
					Timestamp:    now,
					Phases:       [3]float64{toFloatOrZero(phaseA), toFloatOrZero(phaseB), toFloatOrZero(phaseC)},
					BatterySOC:   toFloatOrZero(soc),
					BatteryPower: toFloatOrZero(batteryPower),
					SolarPower:   toFloatOrZero(solarPower),
					GridPower:    toFloatOrZero(gridPower),
					Mode:         fmt.Sprint(modeVal),
				})
				loopMu.Unlock()
			}
		}
	}()

	// --- Actuator tools and PBC orchestrator (C6/C7/C8/C9) ---
	limits := &pbc.Limits{
		ChargingRateLimit:    cfg.Inverter.MaxBatteryPowerWatts,
		DischargingRateLimit: cfg.Inverter.MaxBatteryPowerWatts,
		ExportLimit:          cfg.Inverter.MaxFeedGridPowerWatts,
	}

	tools := pbc.Tools{
		ForcedCharging:      actuator.NewForcedCharging(inverterClient, "inverter", &limits.ChargingRateLimit),
		ForcedDischarging:   actuator.NewForcedDischarging(inverterClient, "inverter", &limits.DischargingRateLimit),
		ChargingAdjustment:  actuator.NewChargingAdjustment(inverterClient),
		DischargeLimitation: actuator.NewDischargeLimitation(inverterClient),
		ExportLimitation:    actuator.NewExportLimitation(inverterClient, "inverter"),
		LoadSwitching:       actuator.NewLoadSwitching(pbc.NewSwitchAdapter(switchClients)),
	}

	modeManager := modemgr.New()

	loadSwitchingDevices := func() []actuator.Device {
		out := make([]actuator.Device, 0, len(devices))
		for _, dev := range devices {
			on, _ := data.Get(dev.EntityID+"_switch", 0, true)
			currentlyOn, _ := on.(bool)
			out = append(out, actuator.Device{
				Name:            dev.Name,
				EstimatedPower:  float64(dev.EstimatedPowerWatts),
				CurrentlyOn:     currentlyOn,
				Enabled:         dev.SchedulingEnabled,
				WeatherAdjusted: dev.WeatherAdjustment,
				MinimumSlotsMet: true,
			})
		}
		return out
	}

	orchestrator := pbc.New(data, modeManager, tools, limits, loadSwitchingDevices, "inverter", loc,
		cfg.Inverter.MaxBatteryPowerWatts, cfg.Inverter.MaxFeedGridPowerWatts)
	orchestrator.OnEvent = func(eventType, message string, details map[string]any) {
		if err := historyManager.AddEvent(eventType, message, details); err != nil {
			slog.Error("Failed to persist history event", "error", err)
		}
	}

	actionsEnabled := true
	dashboardServer.ActionsEnabled = func() bool { return actionsEnabled }
	dashboardServer.SetActionsEnabled = func(enabled bool) {
		actionsEnabled = enabled
		orchestrator.SetActionsEnabled(enabled)
	}

	trigger := fasttrigger.New(fasttrigger.DefaultThresholdWatts, fasttrigger.DefaultMinimumInterval)
	var lastExecution time.Time

	runCycle := func() {
		loopMu.Lock()
		defer loopMu.Unlock()
		orchestrator.Cycle(ctx)
		lastExecution = time.Now()
	}

	go func() {
		ticker := time.NewTicker(pbcPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCycle()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				soc, _ := data.Get(datamgr.EntityBatterySoc, 0, true)
				socVal, _ := soc.(float64)
				trigger.UpdateSubscription(socVal)

				for phase := 0; phase < 3; phase++ {
					entity := []string{datamgr.EntityPhaseA, datamgr.EntityPhaseB, datamgr.EntityPhaseC}[phase]
					v, ok := data.Get(entity, 0, true)
					if !ok {
						continue
					}
					val, _ := v.(float64)

					modeVal, _ := data.Get("mode", 0, true)
					mode := stateengine.Mode(fmt.Sprint(modeVal))
					heatingVal, _ := data.Get("heating_active", 0, true)
					heating, _ := heatingVal.(bool)

					loopMu.Lock()
					last := lastExecution
					loopMu.Unlock()
					if trigger.Observe(phase, val, mode, heating, time.Now(), last) {
						runCycle()
					}
				}
			}
		}
	}()

	// wait for a ctrl-c interrupt before exiting
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan

	cancel()
	time.Sleep(time.Millisecond * 100)

	slog.Info("Exiting")
	os.Exit(0)
}

// toFloatOrZero extracts a float64 from a sensor cache value, defaulting to 0 for a missing or mistyped
// reading rather than panicking the per-minute history tick.
func toFloatOrZero(v any) float64 {
	f, _ := v.(float64)
	return f
}

// runDailyAt sleeps until the next occurrence of hour:minute in loc, runs fn, then repeats daily.
func runDailyAt(ctx context.Context, hour, minute int, loc *time.Location, fn func()) {
	for {
		now := time.Now().In(loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			fn()
		}
	}
}
