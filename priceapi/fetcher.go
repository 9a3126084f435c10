package priceapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	timeutils "github.com/cepro/energymgr/time_utils"
)

const (
	// Fixed per-kWh components folded into SpotPrice, pre-VAT (spec §4.2 step 2).
	renewableFeeEURPerKWh = 0.0084
	exciseFeeEURPerKWh    = 0.0021
	balancingFeeEURPerKWh = 0.00373
	securityFeeEURPerKWh  = 0.00758
	sellerMarginFeeEURPerKWh = 0.00413 / 1.24

	vatFactor = 1.24

	fetchRetries    = 3
	fetchRetryDelay = 2 * time.Second

	synthBaseEURPerMWh   = 50.0
	synthPeakMultiplier  = 1.3
	synthOffPeakMultiplier = 0.7
)

// dayAheadPoint is a single 15-minute day-ahead market entry as returned by the API.
type dayAheadPoint struct {
	Time         time.Time
	PriceEURPerMWh float64
}

// HTTPFetch queries the day-ahead API for the given calendar date (UTC-stamped, area-keyed EUR/MWh
// entries), and is the Fetcher used in production. baseURL and area come from config.PriceAPIConfig.
type HTTPFetch struct {
	Client  *http.Client
	BaseURL string
	Area    string
}

// dayAheadResponse mirrors the day-ahead API's JSON body: a list of 15-minute points for the area.
type dayAheadResponse struct {
	Data []struct {
		Timestamp time.Time `json:"timestamp"`
		Price     float64   `json:"price"` // EUR/MWh
	} `json:"data"`
}

// Fetch retrieves the raw day-ahead points for the calendar date `date` (in UTC) from the configured API.
func (f *HTTPFetch) Fetch(date time.Time) ([]dayAheadPoint, error) {
	url := fmt.Sprintf("%s/day-ahead?area=%s&date=%s", f.BaseURL, f.Area, date.Format("2006-01-02"))

	resp, err := f.Client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("get day-ahead prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var parsed dayAheadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse day-ahead response: %w", err)
	}

	points := make([]dayAheadPoint, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		points = append(points, dayAheadPoint{Time: d.Timestamp, PriceEURPerMWh: d.Price})
	}
	return points, nil
}

// dayFetcher is the interface the Manager depends on, so tests can substitute a deterministic fake.
type dayFetcher interface {
	Fetch(date time.Time) ([]dayAheadPoint, error)
}

// Manager is the Price Manager (spec C2).
type Manager struct {
	fetcher  dayFetcher
	provider string
	pkg      string
	loc      *time.Location
	logger   *slog.Logger
}

// New creates a Manager that applies the given network tariff (provider, pkg) to spot prices fetched via
// fetcher, rendering timestamps in loc.
func New(fetcher dayFetcher, provider, pkg string, loc *time.Location) *Manager {
	return &Manager{fetcher: fetcher, provider: provider, pkg: pkg, loc: loc, logger: slog.Default()}
}

// FetchPricesForDate produces exactly 96 PriceSlots covering [target-1d 22:00, target 22:00) local time,
// per spec §4.2. On persistent fetch failure it substitutes the synthetic fallback pattern so that a day is
// never left without prices.
func (m *Manager) FetchPricesForDate(target time.Time) Day {
	prevDay := target.AddDate(0, 0, -1)

	pointsPrev, errPrev := m.fetchWithRetry(prevDay)
	pointsTarget, errTarget := m.fetchWithRetry(target)

	if errPrev != nil || errTarget != nil {
		m.logger.Error("Day-ahead price fetch failed, using synthetic fallback", "target", target, "error_prev", errPrev, "error_target", errTarget)
		return m.syntheticDay(target)
	}

	all := append(pointsPrev, pointsTarget...)
	day := m.buildDay(all, target)
	if !day.Validate() {
		m.logger.Error("Day-ahead price fetch produced an invalid day, using synthetic fallback", "target", target)
		return m.syntheticDay(target)
	}
	return day
}

func (m *Manager) fetchWithRetry(date time.Time) ([]dayAheadPoint, error) {
	var lastErr error
	for attempt := 0; attempt < fetchRetries; attempt++ {
		points, err := m.fetcher.Fetch(date)
		if err == nil {
			return points, nil
		}
		lastErr = err
		m.logger.Error("Day-ahead fetch attempt failed", "date", date, "attempt", attempt+1, "error", err)
		time.Sleep(fetchRetryDelay)
	}
	return nil, lastErr
}

// buildDay converts raw day-ahead points into the 22:00-windowed, reindexed Day.
func (m *Manager) buildDay(points []dayAheadPoint, target time.Time) Day {
	windowStart := timeutils.WindowStart(target, m.loc)
	windowEnd := windowStart.Add(timeutils.SlotsPerDay * timeutils.SlotDuration)

	filtered := make([]dayAheadPoint, 0, timeutils.SlotsPerDay)
	for _, p := range points {
		local := p.Time.In(m.loc)
		if !local.Before(windowStart) && local.Before(windowEnd) {
			filtered = append(filtered, dayAheadPoint{Time: local, PriceEURPerMWh: p.PriceEURPerMWh})
		}
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Time.Before(filtered[j].Time) })

	day := make(Day, len(filtered))
	for i, p := range filtered {
		day[i] = m.slotFromPrice(i, p.Time, p.PriceEURPerMWh)
	}
	return day
}

// slotFromPrice converts a single EUR/MWh day-ahead price into a fully-stacked Slot (spec §4.2 step 2-3).
func (m *Manager) slotFromPrice(slotIndex int, t time.Time, priceEURPerMWh float64) Slot {
	spotEURPerKWh := priceEURPerMWh / 1000.0

	fixedComponents := renewableFeeEURPerKWh + exciseFeeEURPerKWh + balancingFeeEURPerKWh + securityFeeEURPerKWh + sellerMarginFeeEURPerKWh
	spotPrice := (spotEURPerKWh + fixedComponents) * vatFactor

	networkFee := NetworkFeeEURPerKWh(m.provider, m.pkg, t)

	return Slot{
		Timestamp:  t,
		SpotPrice:  spotPrice,
		NetworkFee: networkFee,
		TotalPrice: spotPrice + networkFee,
		SlotIndex:  slotIndex,
		Hour:       t.Hour(),
	}
}

// syntheticDay produces the 96-slot fallback pattern from spec §4.2 step 5: base 50 EUR/MWh, x1.3 for hours
// 07-21, x0.7 otherwise, with the same fee stacking as the real path.
func (m *Manager) syntheticDay(target time.Time) Day {
	windowStart := timeutils.WindowStart(target, m.loc)

	day := make(Day, timeutils.SlotsPerDay)
	for i := 0; i < timeutils.SlotsPerDay; i++ {
		t := windowStart.Add(time.Duration(i) * timeutils.SlotDuration)
		multiplier := synthOffPeakMultiplier
		if t.Hour() >= 7 && t.Hour() <= 21 {
			multiplier = synthPeakMultiplier
		}
		day[i] = m.slotFromPrice(i, t, synthBaseEURPerMWh*multiplier)
	}
	return day
}
