// Package weather provides the boiler heating-curve forecast used to decide how many slots per period a
// thermostatic load needs (spec C3 "Weather Forecaster").
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"
)

// defaultPowerFactor is applied when a device's configured PowerFactor is zero (spec §4.3).
const defaultPowerFactor = 0.5

// minTempForHeating is the temperature above which the heating curve contributes no extra slots.
const minTempForHeating = 16.0

const cacheTTL = time.Hour

// HourlyPoint is a single hourly forecast sample.
type HourlyPoint struct {
	Time        time.Time
	TempCelsius float64
}

// Fetcher retrieves the raw hourly forecast for the configured location.
type Fetcher interface {
	FetchHourly(ctx context.Context) ([]HourlyPoint, error)
}

// HTTPFetcher is the production Fetcher, backed by a JSON hourly-forecast API.
type HTTPFetcher struct {
	Client  *http.Client
	BaseURL string
	Lat     float64
	Lon     float64
}

type hourlyResponse struct {
	Hourly []struct {
		Time string  `json:"time"`
		Temp float64 `json:"temperature_2m"`
	} `json:"hourly"`
}

func (f *HTTPFetcher) FetchHourly(ctx context.Context) ([]HourlyPoint, error) {
	url := fmt.Sprintf("%s/forecast?latitude=%f&longitude=%f&hourly=temperature_2m", f.BaseURL, f.Lat, f.Lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build forecast request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected forecast status code: %d", resp.StatusCode)
	}

	var parsed hourlyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse forecast response: %w", err)
	}

	points := make([]HourlyPoint, 0, len(parsed.Hourly))
	for _, h := range parsed.Hourly {
		t, err := time.Parse("2006-01-02T15:04", h.Time)
		if err != nil {
			continue
		}
		points = append(points, HourlyPoint{Time: t, TempCelsius: h.Temp})
	}
	return points, nil
}

// Forecaster caches the hourly forecast for up to cacheTTL and derives the heating-curve slot requirement.
type Forecaster struct {
	mu       sync.Mutex
	fetcher  Fetcher
	lat, lon float64
	loc      *time.Location

	cached   []HourlyPoint
	cachedAt time.Time

	logger *slog.Logger
}

// New creates a Forecaster for the given location, querying via fetcher.
func New(fetcher Fetcher, lat, lon float64, loc *time.Location) *Forecaster {
	return &Forecaster{fetcher: fetcher, lat: lat, lon: lon, loc: loc, logger: slog.Default()}
}

// FetchForecast returns the cached hourly forecast, refreshing it if older than cacheTTL.
func (f *Forecaster) FetchForecast(ctx context.Context) ([]HourlyPoint, error) {
	f.mu.Lock()
	if f.cachedAt.IsZero() || time.Since(f.cachedAt) >= cacheTTL {
		points, err := f.fetcher.FetchHourly(ctx)
		if err != nil {
			f.mu.Unlock()
			f.logger.Error("Weather forecast fetch failed, using last cached forecast", "error", err)
			if f.cached == nil {
				return nil, fmt.Errorf("fetch hourly forecast: %w", err)
			}
			return f.cached, nil
		}
		f.cached = points
		f.cachedAt = time.Now()
	}
	cached := f.cached
	f.mu.Unlock()
	return cached, nil
}

// AverageTempAt returns the average forecast temperature over the next `hours` hours from now.
func AverageTempAt(points []HourlyPoint, from time.Time, hours int) (float64, bool) {
	if hours <= 0 {
		return 0, false
	}
	until := from.Add(time.Duration(hours) * time.Hour)

	var sum float64
	var n int
	for _, p := range points {
		if !p.Time.Before(from) && p.Time.Before(until) {
			sum += p.TempCelsius
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// RequiredSlots computes the number of 15-minute slots a thermostatic load needs over the
// upcoming periodHours window, given the forecast average temperature and the device's heating curve and
// power factor (spec §4.3).
func RequiredSlots(avgTempCelsius, heatingCurve, powerFactor float64, periodHours, minSlots int) int {
	if powerFactor == 0 {
		powerFactor = defaultPowerFactor
	}

	if avgTempCelsius >= minTempForHeating {
		return minSlots
	}

	delta := minTempForHeating - avgTempCelsius
	heatingHours := delta*(powerFactor-1) + delta + 2*heatingCurve - 2
	heatingHours = math.Max(0, heatingHours)

	if periodHours < 24 {
		heatingHours /= 24.0 / float64(periodHours)
	}

	slots := int(math.Round(heatingHours * 4))
	if maxSlots := periodHours * 4; slots > maxSlots {
		slots = maxSlots
	}
	if slots < minSlots {
		slots = minSlots
	}
	return slots
}
